package eval

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/goprov/document"
	"github.com/brunobiangulo/goprov/span"
)

// ---------------------------------------------------------------------------
// Built-in datasets
// ---------------------------------------------------------------------------

func TestBuiltInDatasetsPass(t *testing.T) {
	ev := NewEvaluator(span.DefaultOptions())
	for name, ds := range AllDatasets() {
		t.Run(name, func(t *testing.T) {
			report, err := ev.Run(context.Background(), ds)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if report.Failed != 0 {
				t.Fatalf("expected all tests to pass:\n%s", FormatReport(report))
			}
			if report.Metrics.TypeAccuracy != 1 {
				t.Errorf("type accuracy = %.2f, want 1", report.Metrics.TypeAccuracy)
			}
			if report.Summary.Total != len(ds.Tests) {
				t.Errorf("summary total = %d, want %d", report.Summary.Total, len(ds.Tests))
			}
		})
	}
}

func TestRunMapsResultsBackToTestOrder(t *testing.T) {
	ds := Dataset{
		Name:  "order",
		Texts: []string{"Alpha binds beta.", "Gamma binds delta."},
		Tests: []TestCase{
			{Triple: document.Triple{Subject: "Gamma", Predicate: "binds", Object: "delta", ChunkID: 1}, ExpectedType: span.SingleSentence, ExpectedChunks: []int{1}},
			{Triple: document.Triple{Subject: "Alpha", Predicate: "binds", Object: "beta", ChunkID: 0}, ExpectedType: span.SingleSentence, ExpectedChunks: []int{0}},
		},
	}
	report, err := NewEvaluator(span.DefaultOptions()).Run(context.Background(), ds)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Results[0].Subject != "Gamma" || report.Results[0].GotEvidence != "Gamma binds delta." {
		t.Errorf("first result = %+v", report.Results[0])
	}
	if report.Passed != 2 {
		t.Errorf("passed = %d, want 2", report.Passed)
	}
}

func TestRunScoresMismatch(t *testing.T) {
	ds := Dataset{
		Name:  "mismatch",
		Texts: []string{"Alpha binds beta."},
		Tests: []TestCase{
			{
				Triple:           document.Triple{Subject: "Alpha", Predicate: "binds", Object: "beta"},
				ExpectedType:     span.MultiSentence,
				ExpectedEvidence: "something else",
			},
		},
	}
	report, err := NewEvaluator(span.DefaultOptions()).Run(context.Background(), ds)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := report.Results[0]
	if res.Passed || res.TypeMatch || res.EvidenceMatch {
		t.Errorf("expected failure, got %+v", res)
	}
	if !res.ChunksMatch {
		t.Error("no chunk expectation should match")
	}
	pt := report.Metrics.PerType
	if pt[span.MultiSentence].Expected != 1 || pt[span.SingleSentence].Got != 1 {
		t.Errorf("per type = multi %+v single %+v", *pt[span.MultiSentence], *pt[span.SingleSentence])
	}
	out := FormatReport(report)
	for _, want := range []string{"[FAIL]", "expected type: multi_sentence", "expected evidence"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRunUnknownChunk(t *testing.T) {
	ds := Dataset{
		Name:  "bad",
		Texts: []string{"Alpha binds beta."},
		Tests: []TestCase{
			{Triple: document.Triple{Subject: "Alpha", Object: "beta", ChunkID: 7}, ExpectedType: span.SingleSentence},
		},
	}
	if _, err := NewEvaluator(span.DefaultOptions()).Run(context.Background(), ds); err == nil {
		t.Fatal("expected error for triple referencing unknown chunk")
	}
}

// ---------------------------------------------------------------------------
// Dataset helpers
// ---------------------------------------------------------------------------

func TestLayout(t *testing.T) {
	chunks := Layout("abc", "de")
	if chunks[1].ID != 1 || chunks[1].DocumentOffsetStart != 5 || chunks[1].DocumentOffsetEnd != 7 {
		t.Errorf("second chunk = %+v", chunks[1])
	}
	doc := "abc" + Separator + "de"
	for _, c := range chunks {
		if doc[c.DocumentOffsetStart:c.DocumentOffsetEnd] != c.Text {
			t.Errorf("chunk %d offsets do not slice the document", c.ID)
		}
	}
}

func TestLoadDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ds.json")
	data := `{
  "difficulty": "easy",
  "texts": ["Aspirin reduces fever."],
  "tests": [
    {"triple": {"subject": "Aspirin", "predicate": "reduces", "object": "fever", "chunk_id": 0},
     "expected_type": "single_sentence"}
  ]
}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	ds, err := LoadDataset(path)
	if err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	if ds.Name != path || len(ds.Tests) != 1 || len(ds.DocumentChunks()) != 1 {
		t.Errorf("unexpected dataset %+v", ds)
	}
}

func TestLoadDatasetErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name, content string
	}{
		{"bad json", "{"},
		{"no tests", `{"texts": ["x"]}`},
		{"bad type", `{"tests": [{"expected_type": "nearby"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".json")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadDataset(path); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := LoadDataset(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Aspirin  reduces\nfever.", "aspirin reduces fever."},
		{"first\u2013line\u00a0drug", "first-line drug"},
		{"zero\u200Bwidth", "zerowidth"},
		{"  padded  ", "padded"},
	}
	for _, tt := range tests {
		if got := normalizeText(tt.in); got != tt.want {
			t.Errorf("normalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTypeMetrics(t *testing.T) {
	m := TypeMetrics{Expected: 4, Got: 2, Correct: 2}
	if m.Precision() != 1 || m.Recall() != 0.5 {
		t.Errorf("precision %.2f recall %.2f", m.Precision(), m.Recall())
	}
	if (TypeMetrics{}).Precision() != 0 {
		t.Error("empty metrics should score 0")
	}
}
