package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/brunobiangulo/goprov"
	"github.com/brunobiangulo/goprov/document"
	"github.com/brunobiangulo/goprov/span"
)

func testChunks() []document.Chunk {
	a := "Alpha binds beta. Beta is small."
	b := "Later, beta activates gamma."
	return []document.Chunk{
		{ID: 0, Text: a, DocumentOffsetStart: 0, DocumentOffsetEnd: len(a), PageNumber: 1, ElementRef: "texts/0"},
		{ID: 1, Text: b, DocumentOffsetStart: len(a) + 2, DocumentOffsetEnd: len(a) + 2 + len(b), PageNumber: 2, ElementRef: "#/texts/1"},
	}
}

// ---------------------------------------------------------------------------
// Offline resolution
// ---------------------------------------------------------------------------

func TestResolveOffline(t *testing.T) {
	triples := []document.Triple{
		{Subject: "Alpha", Predicate: "binds", Object: "beta", ChunkID: 0},
		{Subject: "gamma", Predicate: "activated by", Object: "Alpha", ChunkID: 1},
		{Subject: "delta", Predicate: "is", Object: "epsilon", ChunkID: 1},
	}
	out, err := resolveOffline(context.Background(), testChunks(), triples, span.Stream{})
	if err != nil {
		t.Fatalf("resolveOffline: %v", err)
	}
	want := []span.Type{span.SingleSentence, span.CrossChunk, span.Unresolved}
	for i, w := range want {
		if got := out.Spans[i].Span.Type; got != w {
			t.Errorf("span %d: got %s, want %s", i, got, w)
		}
	}
	if out.Spans[0].Span.DocumentRef != "#/texts/0" {
		t.Errorf("document_ref not normalized: %q", out.Spans[0].Span.DocumentRef)
	}
	if out.Summary.Total != 3 {
		t.Errorf("summary: %+v", out.Summary)
	}
}

func TestResolveOfflineUnknownChunk(t *testing.T) {
	triples := []document.Triple{{Subject: "a", Predicate: "b", Object: "c", ChunkID: 7}}
	if _, err := resolveOffline(context.Background(), testChunks(), triples, span.Stream{}); !errors.Is(err, span.ErrUnknownChunk) {
		t.Fatalf("expected ErrUnknownChunk, got %v", err)
	}
}

func TestResolveCommand(t *testing.T) {
	dir := t.TempDir()
	chunks := filepath.Join(dir, "chunks.json")
	triples := filepath.Join(dir, "triples.json")
	out := filepath.Join(dir, "spans.json")

	data, _ := json.Marshal(testChunks())
	os.WriteFile(chunks, data, 0644)
	os.WriteFile(triples, []byte(`[{"subject":"Alpha","predicate":"binds","object":"beta","chunk_id":0}]`), 0644)

	var stderr bytes.Buffer
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"resolve", "--chunks", chunks, "--triples", triples, "--out", out})
	t.Cleanup(func() { chunksPath, triplesPath, outPath = "", "", "" })
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var got resolveOutput
	if err := readJSON(out, &got); err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if len(got.Spans) != 1 || got.Spans[0].Span.Type != span.SingleSentence {
		t.Errorf("unexpected output: %+v", got)
	}
	if !strings.Contains(stderr.String(), "single_sentence  1") {
		t.Errorf("summary not printed:\n%s", stderr.String())
	}
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	os.WriteFile(file, []byte("db_path: /from/file.db\nconcurrency: 2\nmax_chunk_tokens: 300\n"), 0644)

	v := viper.New()
	v.SetConfigFile(file)
	v.SetEnvPrefix("GOPROV")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("reading config: %v", err)
	}
	t.Setenv("GOPROV_CONCURRENCY", "6")
	v.Set("db_path", "/from/flag.db")

	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.DBPath != "/from/flag.db" {
		t.Errorf("flag should win: %q", cfg.DBPath)
	}
	if cfg.Concurrency != 6 {
		t.Errorf("env should beat file: %d", cfg.Concurrency)
	}
	if cfg.MaxChunkTokens != 300 {
		t.Errorf("file should beat defaults: %d", cfg.MaxChunkTokens)
	}
	if cfg.Resolution != span.DefaultOptions() {
		t.Errorf("resolution defaults lost: %+v", cfg.Resolution)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(viper.New())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	def := goprov.DefaultConfig()
	if cfg.MaxChunkTokens != def.MaxChunkTokens || cfg.Concurrency != def.Concurrency {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "goprov ") {
		t.Errorf("version output = %q", buf.String())
	}
}

// ---------------------------------------------------------------------------
// Eval
// ---------------------------------------------------------------------------

func TestSelectDatasets(t *testing.T) {
	all, err := selectDatasets("", "all")
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 3 || all[0].Difficulty != "easy" || all[2].Difficulty != "medium" {
		t.Errorf("unexpected order: %s, %s, %s", all[0].Difficulty, all[1].Difficulty, all[2].Difficulty)
	}

	hard, err := selectDatasets("", "hard")
	if err != nil || len(hard) != 1 {
		t.Fatalf("hard: %v (%d datasets)", err, len(hard))
	}

	if _, err := selectDatasets("", "impossible"); err == nil {
		t.Error("expected error for unknown difficulty")
	}
}

func TestEvalCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.json")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"eval", "--difficulty", "easy", "--out", out})
	t.Cleanup(func() {
		evalDifficulty, evalOut = "all", ""
		rootCmd.SetOut(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("eval: %v\n%s", err, stdout.String())
	}
	if !strings.Contains(stdout.String(), "Passed: 3") {
		t.Errorf("report not printed:\n%s", stdout.String())
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("report file not written: %v", err)
	}
}

func TestWindowFlagCountsCurrentChunk(t *testing.T) {
	f := rootCmd.PersistentFlags().Lookup("window")
	if f == nil {
		t.Fatal("window flag not registered")
	}
	if !strings.Contains(f.Usage, "counting the current one") {
		t.Errorf("window usage = %q", f.Usage)
	}
}
