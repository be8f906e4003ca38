package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brunobiangulo/goprov/document"
	"github.com/brunobiangulo/goprov/span"
)

var (
	chunksPath  string
	triplesPath string
	outPath     string
	docID       int64
	timeout     time.Duration
)

// resolveOutput is written by `goprov resolve`.
type resolveOutput struct {
	DocumentID int64           `json:"document_id,omitempty"`
	Spans      []span.Resolved `json:"spans"`
	Summary    span.Summary    `json:"summary"`
}

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve triples to source spans",
	Long: `Resolve finds the source span of every triple.

Offline mode reads chunks and triples from JSON files and needs no
database. With --doc the triples are resolved against a document ingested
earlier and the spans are stored with it.

Example:
  goprov resolve --chunks chunks.json --triples triples.json --out spans.json
  goprov resolve --doc 3 --triples triples.json`,
	Args: cobra.NoArgs,
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().StringVar(&chunksPath, "chunks", "", "JSON array of chunks (offline mode)")
	resolveCmd.Flags().StringVar(&triplesPath, "triples", "", "JSON array of triples")
	resolveCmd.Flags().StringVarP(&outPath, "out", "o", "", "output JSON path (default: stdout)")
	resolveCmd.Flags().Int64Var(&docID, "doc", 0, "ingested document ID")
	resolveCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall timeout")
	_ = resolveCmd.MarkFlagRequired("triples")
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	var triples []document.Triple
	if err := readJSON(triplesPath, &triples); err != nil {
		return err
	}

	var out *resolveOutput
	switch {
	case docID > 0 && chunksPath != "":
		return fmt.Errorf("--doc and --chunks are mutually exclusive")
	case docID > 0:
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()
		res, err := engine.Resolve(ctx, docID, triples)
		if err != nil {
			return err
		}
		out = &resolveOutput{DocumentID: res.DocumentID, Spans: res.Spans, Summary: res.Summary}
	case chunksPath != "":
		var chunks []document.Chunk
		if err := readJSON(chunksPath, &chunks); err != nil {
			return err
		}
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		out, err = resolveOffline(ctx, chunks, triples, span.Stream{
			Options:     cfg.Resolution,
			Concurrency: cfg.Concurrency,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("either --chunks or --doc is required")
	}

	if err := writeOutput(cmd.OutOrStdout(), outPath, out); err != nil {
		return err
	}
	printSummary(cmd.ErrOrStderr(), out.Summary)
	return nil
}

// resolveOffline resolves triples against in-memory chunks.
func resolveOffline(ctx context.Context, chunks []document.Chunk, triples []document.Triple, st span.Stream) (*resolveOutput, error) {
	for _, c := range chunks {
		if !c.Valid() {
			slog.Warn("resolve: chunk has no usable text", "chunk_id", c.ID,
				"start", c.DocumentOffsetStart, "end", c.DocumentOffsetEnd)
		}
	}
	resolved, summary, err := st.Run(ctx, chunks, triples)
	if err != nil {
		return nil, err
	}
	return &resolveOutput{Spans: resolved, Summary: summary}, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// writeOutput writes v as indented JSON to path, or to w when path is
// empty.
func writeOutput(w io.Writer, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = w.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func printSummary(w io.Writer, s span.Summary) {
	for _, t := range span.Types {
		fmt.Fprintf(w, "%-16s %d\n", t, s.Count(t))
	}
	fmt.Fprintf(w, "%-16s %d\n", "total", s.Total)
	fmt.Fprintf(w, "%-16s %s\n", "resolved_ratio", strconv.FormatFloat(s.ResolvedRatio(), 'f', 2, 64))
}
