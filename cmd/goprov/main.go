// Command goprov resolves extracted triples to their source text, either
// offline from JSON files or against documents ingested into a database.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
