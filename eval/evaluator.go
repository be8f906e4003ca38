// Package eval measures provenance resolution against labelled datasets:
// each test names the span type, evidence and chunks a triple should
// resolve to.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brunobiangulo/goprov/span"
)

// Evaluator runs datasets through a span stream.
type Evaluator struct {
	stream span.Stream
}

// NewEvaluator returns an evaluator resolving with opts.
func NewEvaluator(opts span.Options) *Evaluator {
	return &Evaluator{stream: span.Stream{Options: opts}}
}

// Report is the outcome of one dataset run.
type Report struct {
	Dataset    string           `json:"dataset"`
	Difficulty string           `json:"difficulty"`
	TotalTests int              `json:"total_tests"`
	Passed     int              `json:"passed"`
	Failed     int              `json:"failed"`
	Metrics    AggregateMetrics `json:"metrics"`
	Summary    span.Summary     `json:"summary"`
	Results    []TestResult     `json:"results"`
	RunTime    time.Duration    `json:"run_time_ns"`
}

// TestResult compares one resolved span with its expectation.
type TestResult struct {
	Subject          string    `json:"subject"`
	Predicate        string    `json:"predicate"`
	Object           string    `json:"object"`
	Category         string    `json:"category,omitempty"`
	ExpectedType     span.Type `json:"expected_type"`
	GotType          span.Type `json:"got_type"`
	ExpectedEvidence string    `json:"expected_evidence,omitempty"`
	GotEvidence      string    `json:"got_evidence"`
	ExpectedChunks   []int     `json:"expected_chunks,omitempty"`
	GotChunks        []int     `json:"got_chunks"`
	DocumentRef      string    `json:"document_ref"`
	Confidence       float64   `json:"confidence"`
	TypeMatch        bool      `json:"type_match"`
	EvidenceMatch    bool      `json:"evidence_match"`
	ChunksMatch      bool      `json:"chunks_match"`
	Passed           bool      `json:"passed"`
}

// Run resolves every triple of the dataset and scores the spans. It fails
// only when the dataset itself is unusable.
func (e *Evaluator) Run(ctx context.Context, dataset Dataset) (*Report, error) {
	if err := dataset.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	resolved, summary, err := e.stream.Run(ctx, dataset.DocumentChunks(), dataset.Triples())
	if err != nil {
		return nil, fmt.Errorf("resolving dataset %q: %w", dataset.Name, err)
	}

	// The stream emits spans in chunk order, then input order within a
	// chunk; map them back to test order.
	order := make([]int, len(dataset.Tests))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dataset.Tests[order[a]].Triple.ChunkID < dataset.Tests[order[b]].Triple.ChunkID
	})
	spans := make([]span.SourceSpan, len(dataset.Tests))
	for i, r := range resolved {
		spans[order[i]] = r.Span
	}

	report := &Report{
		Dataset:    dataset.Name,
		Difficulty: dataset.Difficulty,
		TotalTests: len(dataset.Tests),
		Summary:    summary,
	}
	for i, tc := range dataset.Tests {
		res := score(tc, spans[i])
		if res.Passed {
			report.Passed++
		} else {
			report.Failed++
			slog.Debug("eval: test failed",
				"dataset", dataset.Name, "subject", tc.Triple.Subject, "object", tc.Triple.Object,
				"expected", tc.ExpectedType, "got", res.GotType)
		}
		report.Results = append(report.Results, res)
	}
	report.Metrics = computeMetrics(report.Results, summary)
	report.RunTime = time.Since(start)

	slog.Info("eval: dataset complete",
		"dataset", dataset.Name, "passed", report.Passed, "total", report.TotalTests,
		"type_accuracy", report.Metrics.TypeAccuracy)
	return report, nil
}

func score(tc TestCase, s span.SourceSpan) TestResult {
	res := TestResult{
		Subject:          tc.Triple.Subject,
		Predicate:        tc.Triple.Predicate,
		Object:           tc.Triple.Object,
		Category:         tc.Category,
		ExpectedType:     tc.ExpectedType,
		GotType:          s.Type,
		ExpectedEvidence: tc.ExpectedEvidence,
		GotEvidence:      s.TextEvidence,
		ExpectedChunks:   tc.ExpectedChunks,
		GotChunks:        s.ChunkIDs,
		DocumentRef:      s.DocumentRef,
		Confidence:       s.Confidence,
	}
	res.TypeMatch = tc.ExpectedType == s.Type
	res.EvidenceMatch = tc.ExpectedEvidence == "" || evidenceMatches(tc.ExpectedEvidence, s.TextEvidence)
	res.ChunksMatch = chunksMatch(tc.ExpectedChunks, s.ChunkIDs)
	res.Passed = res.TypeMatch && res.EvidenceMatch && res.ChunksMatch
	return res
}

// FormatReport renders a report for the terminal.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Evaluation Report: %s ===\n", r.Dataset)
	if r.Difficulty != "" {
		fmt.Fprintf(&b, "Difficulty: %s\n", r.Difficulty)
	}
	fmt.Fprintf(&b, "Total: %d | Passed: %d (%.1f%%) | Failed: %d\n",
		r.TotalTests, r.Passed, passRate(r.Passed, r.TotalTests), r.Failed)
	fmt.Fprintf(&b, "Run time: %s\n\n", r.RunTime.Round(time.Microsecond))

	fmt.Fprintf(&b, "Aggregate Metrics:\n")
	fmt.Fprintf(&b, "  Type Accuracy:      %.2f\n", r.Metrics.TypeAccuracy)
	fmt.Fprintf(&b, "  Evidence Accuracy:  %.2f\n", r.Metrics.EvidenceAccuracy)
	fmt.Fprintf(&b, "  Chunk Accuracy:     %.2f\n", r.Metrics.ChunkAccuracy)
	fmt.Fprintf(&b, "  Confidence:         %.2f\n", r.Metrics.AvgConfidence)
	fmt.Fprintf(&b, "  Resolved Ratio:     %.2f\n\n", r.Metrics.ResolvedRatio)

	fmt.Fprintf(&b, "Per-Type Metrics:\n")
	for _, t := range span.Types {
		m := r.Metrics.PerType[t]
		if m == nil || (m.Expected == 0 && m.Got == 0) {
			continue
		}
		fmt.Fprintf(&b, "  %-16s expected=%d got=%d P=%.2f R=%.2f\n",
			t, m.Expected, m.Got, m.Precision(), m.Recall())
	}
	fmt.Fprintln(&b)

	for i, res := range r.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %d. (%s, %s, %s)\n", status, i+1, res.Subject, res.Predicate, res.Object)
		fmt.Fprintf(&b, "  type=%s conf=%.2f ref=%s\n", res.GotType, res.Confidence, res.DocumentRef)
		if !res.TypeMatch {
			fmt.Fprintf(&b, "  expected type: %s\n", res.ExpectedType)
		}
		if !res.EvidenceMatch {
			fmt.Fprintf(&b, "  expected evidence: %q\n  got evidence:      %q\n",
				truncate(res.ExpectedEvidence, 120), truncate(res.GotEvidence, 120))
		}
		if !res.ChunksMatch {
			fmt.Fprintf(&b, "  expected chunks: %v got %v\n", res.ExpectedChunks, res.GotChunks)
		}
	}
	return b.String()
}

func passRate(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
