package eval

import (
	"slices"
	"strings"
	"unicode"

	"github.com/brunobiangulo/goprov/span"
)

// normalizeText folds case and maps Unicode whitespace and hyphens to
// ASCII so evidence written by hand compares equal to the source text.
// Zero-width characters are dropped and whitespace runs collapse.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case r == '\u200B' || r == '\u200C' || r == '\u200D' || r == '\uFEFF':
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		if r == '\u2010' || r == '\u2011' || r == '\u2012' || r == '\u2013' || r == '\u2014' {
			b.WriteByte('-')
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// evidenceMatches reports whether got is the expected evidence up to
// normalization.
func evidenceMatches(want, got string) bool {
	return normalizeText(want) == normalizeText(got)
}

// chunksMatch compares expected chunk IDs in order. No expectation matches
// anything.
func chunksMatch(want, got []int) bool {
	if len(want) == 0 {
		return true
	}
	return slices.Equal(want, got)
}

// TypeMetrics counts one span type across a run.
type TypeMetrics struct {
	Expected int `json:"expected"`
	Got      int `json:"got"`
	Correct  int `json:"correct"`
}

// Precision is the share of spans labelled with this type that were right.
func (m TypeMetrics) Precision() float64 { return ratio(m.Correct, m.Got) }

// Recall is the share of expected spans of this type that were found.
func (m TypeMetrics) Recall() float64 { return ratio(m.Correct, m.Expected) }

// AggregateMetrics summarizes a run.
type AggregateMetrics struct {
	TypeAccuracy     float64                    `json:"type_accuracy"`
	EvidenceAccuracy float64                    `json:"evidence_accuracy"`
	ChunkAccuracy    float64                    `json:"chunk_accuracy"`
	AvgConfidence    float64                    `json:"avg_confidence"`
	ResolvedRatio    float64                    `json:"resolved_ratio"`
	PerType          map[span.Type]*TypeMetrics `json:"per_type"`
}

func computeMetrics(results []TestResult, summary span.Summary) AggregateMetrics {
	m := AggregateMetrics{
		PerType:       make(map[span.Type]*TypeMetrics, len(span.Types)),
		ResolvedRatio: summary.ResolvedRatio(),
	}
	for _, t := range span.Types {
		m.PerType[t] = &TypeMetrics{}
	}

	var typeOK, evidenceOK, evidenceN, chunkOK, chunkN int
	var confidence float64
	for _, r := range results {
		m.PerType[r.ExpectedType].Expected++
		if tm, ok := m.PerType[r.GotType]; ok {
			tm.Got++
		}
		if r.TypeMatch {
			typeOK++
			m.PerType[r.ExpectedType].Correct++
		}
		if r.ExpectedEvidence != "" {
			evidenceN++
			if r.EvidenceMatch {
				evidenceOK++
			}
		}
		if len(r.ExpectedChunks) > 0 {
			chunkN++
			if r.ChunksMatch {
				chunkOK++
			}
		}
		confidence += r.Confidence
	}

	m.TypeAccuracy = ratio(typeOK, len(results))
	m.EvidenceAccuracy = ratio(evidenceOK, evidenceN)
	m.ChunkAccuracy = ratio(chunkOK, chunkN)
	if len(results) > 0 {
		m.AvgConfidence = confidence / float64(len(results))
	}
	return m
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
