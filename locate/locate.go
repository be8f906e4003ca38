// Package locate finds where an extracted entity string is mentioned in a
// run of sentences. Matching is done by strategies tried in sequence: the
// first strategy that finds anything wins.
package locate

import (
	"github.com/brunobiangulo/goprov/document"
)

// Strategy names recorded on occurrences.
const (
	StrategyExact   = "exact"
	StrategyRelaxed = "relaxed"
)

// EntityOccurrence is a located mention of an entity. Start and End are
// byte offsets into the sentence text, so
// MatchedText == sentence.Text[Start:End] and Start < End.
type EntityOccurrence struct {
	MatchedText string  `json:"matched_text"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
	SentenceID  int     `json:"sentence_id"`
	ChunkID     int     `json:"chunk_id"`
	Strategy    string  `json:"strategy"`
	Confidence  float64 `json:"confidence"`
}

// Match is a raw hit produced by a Strategy inside one sentence.
type Match struct {
	Start      int
	End        int
	Confidence float64
}

// Strategy matches an entity against a single sentence. Implementations
// must be pure and return matches ordered by Start.
type Strategy interface {
	Name() string
	Match(entity, sentence string) []Match
}

// Locator runs its strategies in order over a sentence sequence.
type Locator struct {
	strategies []Strategy
}

// New returns a Locator that tries the given strategies in order.
func New(strategies ...Strategy) *Locator {
	return &Locator{strategies: strategies}
}

// Default returns the exact-then-relaxed locator with the given relaxed
// word window. A non-positive window uses DefaultRelaxedWindow.
func Default(relaxedWindow int) *Locator {
	return New(Exact{}, Relaxed{Window: relaxedWindow})
}

// Locate returns every occurrence of entity in sentences, ordered by
// sentence then start offset. An empty result means the entity could not
// be found by any strategy.
func (l *Locator) Locate(entity string, sentences []document.Sentence) []EntityOccurrence {
	for _, s := range l.strategies {
		if occ := locateWith(s, entity, sentences); len(occ) > 0 {
			return occ
		}
	}
	return nil
}

func locateWith(s Strategy, entity string, sentences []document.Sentence) []EntityOccurrence {
	var out []EntityOccurrence
	for _, sent := range sentences {
		for _, m := range s.Match(entity, sent.Text) {
			if m.Start < 0 || m.End > len(sent.Text) || m.Start >= m.End {
				continue
			}
			out = append(out, EntityOccurrence{
				MatchedText: sent.Text[m.Start:m.End],
				Start:       m.Start,
				End:         m.End,
				SentenceID:  sent.ID,
				Strategy:    s.Name(),
				Confidence:  m.Confidence,
			})
		}
	}
	return out
}
