package locate

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultRelaxedWindow is the widest run of sentence words a relaxed match
// may span, unless the entity itself has more tokens.
const DefaultRelaxedWindow = 12

// minTokenRunes is the shortest entity token the relaxed strategy insists on.
// Shorter tokens ("M.", "of") are ignored.
const minTokenRunes = 3

// ---------------------------------------------------------------------------
// Exact
// ---------------------------------------------------------------------------

// Exact is a case-insensitive substring match where runs of whitespace in
// both strings compare equal to a single space.
type Exact struct{}

func (Exact) Name() string { return StrategyExact }

func (Exact) Match(entity, sentence string) []Match {
	needle := normalize(entity).text
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return nil
	}
	hay := normalize(sentence)

	var out []Match
	from := 0
	for from <= len(hay.text)-len(needle) {
		idx := strings.Index(hay.text[from:], needle)
		if idx < 0 {
			break
		}
		pos := from + idx
		last := pos + len(needle) - 1
		out = append(out, Match{
			Start:      hay.start[pos],
			End:        hay.end[last],
			Confidence: 1.0,
		})
		from = pos + len(needle)
	}
	return out
}

// normalized is a lowercased, whitespace-collapsed copy of a string with a
// byte-for-byte map back to the original: start[i] and end[i] bound the
// original rune that produced normalized byte i.
type normalized struct {
	text  string
	start []int
	end   []int
}

func normalize(s string) normalized {
	var b strings.Builder
	b.Grow(len(s))
	start := make([]int, 0, len(s))
	end := make([]int, 0, len(s))

	inSpace := false
	var buf [utf8.UTFMax]byte
	for i, r := range s {
		_, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			// Invalid byte: kept as is so it only matches itself.
			inSpace = false
			b.WriteByte(s[i])
			start = append(start, i)
			end = append(end, i+1)
			continue
		}
		if unicode.IsSpace(r) {
			if inSpace {
				continue
			}
			inSpace = true
			b.WriteByte(' ')
			start = append(start, i)
			end = append(end, i+size)
			continue
		}
		inSpace = false
		n := utf8.EncodeRune(buf[:], unicode.ToLower(r))
		b.Write(buf[:n])
		for k := 0; k < n; k++ {
			start = append(start, i)
			end = append(end, i+size)
		}
	}
	return normalized{text: b.String(), start: start, end: end}
}

// ---------------------------------------------------------------------------
// Relaxed
// ---------------------------------------------------------------------------

// Relaxed matches when every significant entity token appears as a word of
// the sentence, in any order, within a bounded window of words. It absorbs
// small paraphrases between the extracted entity and the source wording,
// e.g. "M. trichosporium" against "Methylosinus trichosporium OB3b".
type Relaxed struct {
	Window int
}

func (Relaxed) Name() string { return StrategyRelaxed }

func (r Relaxed) Match(entity, sentence string) []Match {
	tokens := significantTokens(entity)
	if len(tokens) == 0 {
		return nil
	}
	limit := r.Window
	if limit <= 0 {
		limit = DefaultRelaxedWindow
	}
	if limit < len(tokens) {
		limit = len(tokens)
	}

	words := splitWords(sentence)
	// tokenAt[i] is the index of the entity token word i matches, or -1.
	tokenAt := make([]int, len(words))
	for i, w := range words {
		tokenAt[i] = -1
		for k, tok := range tokens {
			if w.lower == tok {
				tokenAt[i] = k
				break
			}
		}
	}

	// windowEnd[i] is the last word index of the smallest window starting
	// at word i that covers all tokens, or -1.
	windowEnd := make([]int, len(words))
	for i := range words {
		windowEnd[i] = -1
		if tokenAt[i] < 0 {
			continue
		}
		seen := make([]bool, len(tokens))
		missing := len(tokens)
		for j := i; j < len(words) && j-i < limit; j++ {
			if k := tokenAt[j]; k >= 0 && !seen[k] {
				seen[k] = true
				missing--
			}
			if missing == 0 {
				windowEnd[i] = j
				break
			}
		}
	}

	var out []Match
	lastEnd := -1
	for i := range words {
		j := windowEnd[i]
		if j < 0 || i <= lastEnd {
			continue
		}
		// A later start closing at the same word is tighter.
		if i+1 < len(words) && windowEnd[i+1] == j {
			continue
		}
		out = append(out, Match{
			Start:      words[i].start,
			End:        words[j].end,
			Confidence: RelaxedConfidence(len(tokens), j-i+1),
		})
		lastEnd = j
	}
	return out
}

// RelaxedConfidence scores a relaxed match of tokens entity tokens spread
// over span sentence words. A contiguous match scores 0.9 and the score
// decays towards 0.5 as unrelated words intrude.
func RelaxedConfidence(tokens, span int) float64 {
	if tokens <= 0 || span <= 0 {
		return 0
	}
	if span < tokens {
		span = tokens
	}
	return 0.5 + 0.4*float64(tokens)/float64(span)
}

type word struct {
	lower string
	start int
	end   int
}

// splitWords returns the whitespace-delimited words of s with surrounding
// punctuation trimmed, keeping byte offsets into s.
func splitWords(s string) []word {
	var words []word
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		j := i
		for j < len(s) {
			r, size := utf8.DecodeRuneInString(s[j:])
			if unicode.IsSpace(r) {
				break
			}
			j += size
		}
		start, end := trimPunct(s, i, j)
		if end > start {
			words = append(words, word{lower: strings.ToLower(s[start:end]), start: start, end: end})
		}
		i = j
	}
	return words
}

func trimPunct(s string, start, end int) (int, int) {
	for start < end {
		r, size := utf8.DecodeRuneInString(s[start:end])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(s[start:end])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			break
		}
		end -= size
	}
	return start, end
}

// significantTokens returns the distinct lowercased entity tokens with at
// least minTokenRunes runes, in first-seen order.
func significantTokens(entity string) []string {
	var tokens []string
	seen := make(map[string]bool)
	for _, w := range splitWords(entity) {
		if utf8.RuneCountInString(w.lower) < minTokenRunes || seen[w.lower] {
			continue
		}
		seen[w.lower] = true
		tokens = append(tokens, w.lower)
	}
	return tokens
}
