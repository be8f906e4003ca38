// Package segment splits chunk text into sentences while keeping exact byte
// offsets, so every sentence can be sliced back out of its chunk.
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/brunobiangulo/goprov/document"
)

// Bound is a half-open byte range [Start, End) of a sentence in a text.
type Bound struct {
	Start int
	End   int
}

// abbreviations never end a sentence. Keys are lowercased and keep any
// inner dots ("e.g" for "e.g.").
var abbreviations = map[string]bool{
	"e.g": true, "i.e": true, "al": true, "cf": true,
	"fig": true, "figs": true, "eq": true, "eqs": true, "tab": true,
	"ref": true, "refs": true, "sec": true, "ch": true, "vol": true,
	"no": true, "nos": true, "pp": true, "p": true, "approx": true,
	"ca": true, "vs": true, "resp": true, "sp": true, "spp": true,
	"var": true, "subsp": true, "dr": true, "mr": true, "mrs": true,
	"ms": true, "prof": true, "st": true, "jr": true, "sr": true,
	"inc": true, "ltd": true, "co": true, "corp": true, "dept": true,
	"univ": true, "min": true, "max": true, "wt": true, "conc": true,
}

// Segment splits the chunk text into ordered sentences. Empty or blank
// text yields no sentences; text without terminal punctuation yields one.
func Segment(chunk document.Chunk) []document.Sentence {
	bounds := Bounds(chunk.Text)
	if len(bounds) == 0 {
		return nil
	}
	sentences := make([]document.Sentence, len(bounds))
	for i, b := range bounds {
		sentences[i] = document.Sentence{
			ID:            i,
			Text:          chunk.Text[b.Start:b.End],
			Start:         b.Start,
			End:           b.End,
			DocumentStart: chunk.DocumentOffsetStart + b.Start,
			DocumentEnd:   chunk.DocumentOffsetStart + b.End,
		}
	}
	return sentences
}

// Bounds returns the sentence ranges of text. Ranges never include
// leading or trailing whitespace and the bytes between them are all
// whitespace.
func Bounds(text string) []Bound {
	var bounds []Bound
	n := len(text)
	start := -1

	emit := func(end int) {
		end = trimRight(text, start, end)
		if end > start {
			bounds = append(bounds, Bound{Start: start, End: end})
		}
		start = -1
	}

	for i := 0; i < n; {
		c := text[i]
		if start < 0 {
			if isSpace(c) {
				i++
				continue
			}
			start = i
		}

		switch {
		case c == '\n' && paragraphBreak(text, i):
			emit(i)
			i++
		case c == '.' || c == '!' || c == '?':
			j := i + 1
			for j < n && (text[j] == '.' || text[j] == '!' || text[j] == '?') {
				j++
			}
			j = skipClosers(text, j)
			if j == n || isSpace(text[j]) {
				if c != '.' || !suppressBreak(text, start, i, j) {
					emit(j)
				}
			}
			i = j
		default:
			i++
		}
	}
	if start >= 0 {
		emit(n)
	}
	return bounds
}

// Reconstruct joins sentences and the gaps between them back into the
// text they were cut from. For any text, Reconstruct(text, Bounds(text))
// returns text.
func Reconstruct(text string, sentences []document.Sentence) string {
	var b strings.Builder
	prev := 0
	for _, s := range sentences {
		if s.Start < prev || s.End > len(text) {
			break
		}
		b.WriteString(text[prev:s.Start])
		b.WriteString(s.Text)
		prev = s.End
	}
	b.WriteString(text[prev:])
	return b.String()
}

// suppressBreak decides whether a period at dot (with the terminator run
// ending at after) is an abbreviation rather than a sentence end.
func suppressBreak(text string, start, dot, after int) bool {
	if nextStartsLower(text, after) {
		return true
	}
	if after-dot > 1 && text[dot+1] == '.' {
		// ellipsis
		return false
	}

	ws := dot
	for ws > start && !isSpace(text[ws-1]) {
		ws--
	}
	word := strings.TrimLeft(text[ws:dot], "([{\"'")
	if word == "" {
		return false
	}

	// Single-letter initial: "M. trichosporium", "J. Smith".
	if r, size := utf8.DecodeRuneInString(word); size == len(word) && unicode.IsLetter(r) {
		return true
	}
	// Enumerator at the start of a sentence: "1. Introduction".
	if ws == start && len(word) <= 3 && allDigits(word) {
		return true
	}
	return abbreviations[strings.ToLower(word)]
}

// nextStartsLower reports whether the first non-space rune at or after i is
// a lowercase letter.
func nextStartsLower(text string, i int) bool {
	for i < len(text) && isSpace(text[i]) {
		i++
	}
	if i >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return unicode.IsLower(r)
}

func paragraphBreak(text string, i int) bool {
	j := i + 1
	for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\r') {
		j++
	}
	return j < len(text) && text[j] == '\n'
}

func skipClosers(text string, j int) int {
	for j < len(text) {
		switch {
		case text[j] == ')' || text[j] == ']' || text[j] == '"' || text[j] == '\'':
			j++
		case strings.HasPrefix(text[j:], "”") || strings.HasPrefix(text[j:], "’"):
			j += len("”")
		default:
			return j
		}
	}
	return j
}

func trimRight(text string, start, end int) int {
	for end > start && isSpace(text[end-1]) {
		end--
	}
	return end
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r' || c == '\f' || c == '\v'
}
