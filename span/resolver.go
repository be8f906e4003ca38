package span

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/goprov/docref"
	"github.com/brunobiangulo/goprov/document"
	"github.com/brunobiangulo/goprov/locate"
)

// Resolver maps triples to source spans. It holds no per-triple state, so
// a single Resolver may be shared by goroutines resolving triples of the
// same registered chunk.
type Resolver struct {
	opts    Options
	locator *locate.Locator
	tracker *Tracker
}

// New returns a Resolver. tracker may be nil, in which case cross-chunk
// resolution and registration checks are skipped.
func New(opts Options, tracker *Tracker) *Resolver {
	opts = opts.withDefaults()
	return &Resolver{
		opts:    opts,
		locator: locate.Default(opts.RelaxedWindow),
		tracker: tracker,
	}
}

// Options returns the effective options.
func (r *Resolver) Options() Options { return r.opts }

// Resolve finds the span justifying triple in chunk. Sentences must be the
// segmentation of chunk. The error is non-nil only for contract
// violations: a triple attributed to another chunk, or a chunk the tracker
// has not reached yet.
func (r *Resolver) Resolve(triple document.Triple, chunk document.Chunk, sentences []document.Sentence) (SourceSpan, error) {
	if triple.ChunkID != chunk.ID {
		return unresolvedSpan(), fmt.Errorf("%w: triple chunk %d, resolving against chunk %d", ErrChunkMismatch, triple.ChunkID, chunk.ID)
	}
	if r.tracker != nil && !r.tracker.Registered(chunk.ID) {
		return unresolvedSpan(), fmt.Errorf("%w: chunk %d (last registered %d)", ErrOutOfOrderRegistration, chunk.ID, r.tracker.LastChunkID())
	}

	subj := r.locate(triple.Subject, chunk, sentences)
	obj := r.locate(triple.Object, chunk, sentences)

	if len(subj) > 0 && len(obj) > 0 {
		if s, ok := r.inChunk(chunk, sentences, subj, obj); ok {
			return s, nil
		}
		slog.Debug("span: entities too far apart",
			"chunk_id", chunk.ID, "subject", triple.Subject, "object", triple.Object)
		return unresolvedSpan(), nil
	}

	if r.tracker != nil {
		if s, ok := r.tracker.crossChunk(triple, chunk, sentences, subj, obj); ok {
			return s, nil
		}
	}
	slog.Debug("span: triple unresolved",
		"chunk_id", chunk.ID, "subject", triple.Subject, "object", triple.Object,
		"subject_found", len(subj) > 0, "object_found", len(obj) > 0)
	return unresolvedSpan(), nil
}

func (r *Resolver) locate(entity string, chunk document.Chunk, sentences []document.Sentence) []locate.EntityOccurrence {
	occ := r.locator.Locate(entity, sentences)
	for i := range occ {
		occ[i].ChunkID = chunk.ID
	}
	return occ
}

// inChunk pairs subject and object occurrences of the same chunk. The pair
// with the smallest sentence distance wins; ties go to the pair starting
// earliest in the document. It returns false when the best pair is more
// than MaxSentenceDistance sentences apart.
func (r *Resolver) inChunk(chunk document.Chunk, sentences []document.Sentence, subj, obj []locate.EntityOccurrence) (SourceSpan, bool) {
	var (
		bestS, bestO locate.EntityOccurrence
		bestDist     = -1
		bestStart    int
	)
	for _, s := range subj {
		for _, o := range obj {
			dist := abs(s.SentenceID - o.SentenceID)
			start := min(docOffset(sentences, s), docOffset(sentences, o))
			if bestDist < 0 || dist < bestDist || (dist == bestDist && start < bestStart) {
				bestS, bestO, bestDist, bestStart = s, o, dist, start
			}
		}
	}
	if bestDist > r.opts.MaxSentenceDistance {
		return SourceSpan{}, false
	}

	lo := min(bestS.SentenceID, bestO.SentenceID)
	hi := max(bestS.SentenceID, bestO.SentenceID)
	first := sentenceByID(sentences, lo)
	last := sentenceByID(sentences, hi)

	out := SourceSpan{
		DocumentRef:      docref.Format(chunk),
		SubjectPositions: inSentences(subj, lo, hi),
		ObjectPositions:  inSentences(obj, lo, hi),
		ChunkIDs:         []int{chunk.ID},
		PageNumbers:      pages(chunk),
		DocumentStart:    first.DocumentStart,
		DocumentEnd:      last.DocumentEnd,
	}
	weakest := minConfidence(bestS, bestO)
	if bestDist == 0 {
		out.Type = SingleSentence
		out.TextEvidence = first.Text
		out.Confidence = clamp01(r.opts.SingleSentenceConfidence * weakest)
	} else {
		out.Type = MultiSentence
		out.TextEvidence = sentenceRange(chunk, sentences, lo, hi)
		out.Confidence = clamp01(r.opts.MultiSentenceConfidence * weakest)
	}
	return out, true
}

// sentenceRange returns the chunk text from the start of sentence lo to
// the end of sentence hi, keeping the original whitespace between them.
func sentenceRange(chunk document.Chunk, sentences []document.Sentence, lo, hi int) string {
	first := sentenceByID(sentences, lo)
	last := sentenceByID(sentences, hi)
	if 0 <= first.Start && first.Start <= first.End && first.End <= last.Start &&
		last.Start <= last.End && last.End <= len(chunk.Text) &&
		chunk.Text[first.Start:first.End] == first.Text && chunk.Text[last.Start:last.End] == last.Text {
		return chunk.Text[first.Start:last.End]
	}
	// Sentences that do not slice the chunk: join them instead.
	var parts []string
	for id := lo; id <= hi; id++ {
		parts = append(parts, sentenceByID(sentences, id).Text)
	}
	return strings.Join(parts, " ")
}

// docOffset is the document offset at which an occurrence starts.
func docOffset(sentences []document.Sentence, o locate.EntityOccurrence) int {
	return sentenceByID(sentences, o.SentenceID).DocumentStart + o.Start
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
