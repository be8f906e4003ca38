package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goprov"
)

var forceIngest bool

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Parse and chunk documents into the database",
	Long: `Ingest parses each file, splits it into chunks with exact document
offsets and stores the chunks with the document elements they came from.
Files whose content did not change since the last ingest are skipped.

Supported formats: pdf, xlsx, txt, md, and Docling JSON exports (json).`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		var opts []goprov.IngestOption
		if forceIngest {
			opts = append(opts, goprov.WithForceReparse())
		}
		for _, path := range args {
			id, err := engine.Ingest(cmd.Context(), path, opts...)
			if err != nil {
				return fmt.Errorf("ingesting %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", id, path)
		}
		return nil
	},
}

// summaryCmd represents the summary command
var summaryCmd = &cobra.Command{
	Use:   "summary <doc-id>",
	Short: "Count the stored spans of a document by type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid document id %q", args[0])
		}
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		s, err := engine.Summary(cmd.Context(), id)
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), s)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(summaryCmd)
	ingestCmd.Flags().BoolVar(&forceIngest, "force", false, "re-parse even if the file is unchanged")
}
