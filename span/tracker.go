package span

import (
	"fmt"
	"sort"

	"github.com/brunobiangulo/goprov/docref"
	"github.com/brunobiangulo/goprov/document"
	"github.com/brunobiangulo/goprov/locate"
)

// crossChunkSeparator joins the two sentences of a cross-chunk span.
const crossChunkSeparator = " ... "

type trackedChunk struct {
	chunk     document.Chunk
	sentences []document.Sentence
}

// Tracker remembers the last WindowSize chunks of one document run so that
// triples whose subject and object fall in different chunks can be paired.
// Chunks must be registered in document order. Register is the only
// mutating method; once a chunk is registered, any number of goroutines
// may resolve against the tracker until the next Register.
type Tracker struct {
	opts    Options
	locator *locate.Locator

	ring  []trackedChunk
	next  int // ring slot the next registration overwrites
	count int

	registered bool
	lastID     int
	seen       map[int]struct{} // every ID ever registered, evicted or not
}

// NewTracker returns an empty tracker sized by opts.WindowSize.
func NewTracker(opts Options) *Tracker {
	opts = opts.withDefaults()
	return &Tracker{
		opts:    opts,
		locator: locate.Default(opts.RelaxedWindow),
		ring:    make([]trackedChunk, opts.WindowSize),
		seen:    make(map[int]struct{}),
	}
}

// WindowSize returns how many chunks the tracker keeps.
func (t *Tracker) WindowSize() int { return len(t.ring) }

// Register adds a chunk and its sentences to the window, evicting the
// oldest chunk once the window is full. Chunk IDs must strictly increase.
func (t *Tracker) Register(chunk document.Chunk, sentences []document.Sentence) error {
	if t.registered && chunk.ID <= t.lastID {
		return fmt.Errorf("%w: chunk %d registered after chunk %d", ErrOutOfOrderRegistration, chunk.ID, t.lastID)
	}
	t.ring[t.next] = trackedChunk{chunk: chunk, sentences: sentences}
	t.next = (t.next + 1) % len(t.ring)
	if t.count < len(t.ring) {
		t.count++
	}
	t.registered = true
	t.lastID = chunk.ID
	t.seen[chunk.ID] = struct{}{}
	return nil
}

// Registered reports whether a chunk with chunkID was registered. Chunks
// evicted from the window still count; IDs skipped over do not.
func (t *Tracker) Registered(chunkID int) bool {
	_, ok := t.seen[chunkID]
	return ok
}

// LastChunkID returns the most recently registered chunk ID, or -1.
func (t *Tracker) LastChunkID() int {
	if !t.registered {
		return -1
	}
	return t.lastID
}

// window returns the tracked chunks, most recent first.
func (t *Tracker) window() []trackedChunk {
	out := make([]trackedChunk, 0, t.count)
	for i := 1; i <= t.count; i++ {
		idx := (t.next - i + len(t.ring)) % len(t.ring)
		out = append(out, t.ring[idx])
	}
	return out
}

// Mentions returns the occurrences of entity in the window, most recent
// first: newest chunk first and, within a chunk, latest occurrence first.
func (t *Tracker) Mentions(entity string) []locate.EntityOccurrence {
	var out []locate.EntityOccurrence
	for _, tc := range t.window() {
		occ := t.locate(entity, tc)
		for i := len(occ) - 1; i >= 0; i-- {
			out = append(out, occ[i])
		}
	}
	return out
}

func (t *Tracker) locate(entity string, tc trackedChunk) []locate.EntityOccurrence {
	occ := t.locator.Locate(entity, tc.sentences)
	for i := range occ {
		occ[i].ChunkID = tc.chunk.ID
	}
	return occ
}

// ResolveCrossChunk pairs a triple whose subject or object is missing from
// the current chunk with a mention of the missing entity in an earlier
// chunk of the window. It returns false unless exactly one entity is
// present in the current chunk and the other is mentioned in a prior
// chunk still in the window.
func (t *Tracker) ResolveCrossChunk(triple document.Triple, current document.Chunk, sentences []document.Sentence) (SourceSpan, bool) {
	cur := trackedChunk{chunk: current, sentences: sentences}
	return t.crossChunk(triple, current, sentences, t.locate(triple.Subject, cur), t.locate(triple.Object, cur))
}

// crossChunk does the work of ResolveCrossChunk with the current chunk's
// occurrences already located.
func (t *Tracker) crossChunk(triple document.Triple, current document.Chunk, sentences []document.Sentence, subj, obj []locate.EntityOccurrence) (SourceSpan, bool) {
	if (len(subj) > 0) == (len(obj) > 0) {
		return SourceSpan{}, false
	}

	present, missing := subj, triple.Object
	subjectIsCurrent := true
	if len(subj) == 0 {
		present, missing = obj, triple.Subject
		subjectIsCurrent = false
	}

	for _, tc := range t.window() {
		if tc.chunk.ID >= current.ID {
			continue
		}
		prior := t.locate(missing, tc)
		if len(prior) == 0 {
			continue
		}
		// Latest mention in the most recent prior chunk, paired with the
		// earliest mention in the current chunk: the closest pairing.
		p := prior[len(prior)-1]
		c := present[0]
		return t.crossSpan(tc, p, prior, current, sentences, c, present, subjectIsCurrent), true
	}
	return SourceSpan{}, false
}

func (t *Tracker) crossSpan(
	prior trackedChunk, p locate.EntityOccurrence, priorOcc []locate.EntityOccurrence,
	current document.Chunk, sentences []document.Sentence, c locate.EntityOccurrence, currentOcc []locate.EntityOccurrence,
	subjectIsCurrent bool,
) SourceSpan {
	ps := sentenceByID(prior.sentences, p.SentenceID)
	cs := sentenceByID(sentences, c.SentenceID)

	priorPos := inSentences(priorOcc, p.SentenceID, p.SentenceID)
	currentPos := inSentences(currentOcc, c.SentenceID, c.SentenceID)

	s := SourceSpan{
		Type:          CrossChunk,
		TextEvidence:  ps.Text + crossChunkSeparator + cs.Text,
		Confidence:    clamp01(t.opts.CrossChunkConfidence * minConfidence(p, c)),
		ChunkIDs:      []int{prior.chunk.ID, current.ID},
		PageNumbers:   pages(prior.chunk, current),
		DocumentStart: ps.DocumentStart,
		DocumentEnd:   cs.DocumentEnd,
	}
	if subjectIsCurrent {
		s.DocumentRef = docref.FormatCross(current, prior.chunk)
		s.SubjectPositions, s.ObjectPositions = currentPos, priorPos
	} else {
		s.DocumentRef = docref.FormatCross(prior.chunk, current)
		s.SubjectPositions, s.ObjectPositions = priorPos, currentPos
	}
	return s
}

// sentenceByID finds a sentence by ID. Segmented sentences are indexed by
// ID, so the direct lookup almost always hits.
func sentenceByID(sentences []document.Sentence, id int) document.Sentence {
	if id >= 0 && id < len(sentences) && sentences[id].ID == id {
		return sentences[id]
	}
	for _, s := range sentences {
		if s.ID == id {
			return s
		}
	}
	return document.Sentence{}
}

// inSentences returns the occurrences whose sentence lies in [lo, hi].
func inSentences(occ []locate.EntityOccurrence, lo, hi int) []locate.EntityOccurrence {
	out := []locate.EntityOccurrence{}
	for _, o := range occ {
		if o.SentenceID >= lo && o.SentenceID <= hi {
			out = append(out, o)
		}
	}
	return out
}

func minConfidence(a, b locate.EntityOccurrence) float64 {
	if a.Confidence < b.Confidence {
		return a.Confidence
	}
	return b.Confidence
}

// pages returns the distinct positive page numbers of chunks, ascending.
func pages(chunks ...document.Chunk) []int {
	out := []int{}
	for _, c := range chunks {
		if c.PageNumber <= 0 {
			continue
		}
		dup := false
		for _, p := range out {
			if p == c.PageNumber {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c.PageNumber)
		}
	}
	sort.Ints(out)
	return out
}
