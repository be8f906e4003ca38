package eval

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/brunobiangulo/goprov/document"
	"github.com/brunobiangulo/goprov/span"
)

// Difficulty levels for evaluation datasets.
const (
	DifficultyEasy   = "easy"   // subject and object share a sentence
	DifficultyMedium = "medium" // nearby sentences, or too far apart to pair
	DifficultyHard   = "hard"   // entities split across chunks
)

// Separator is placed between chunk texts when a dataset lists texts
// instead of chunks with offsets.
const Separator = "\n\n"

// Dataset is a document with labelled triples.
type Dataset struct {
	Name       string           `json:"name"`
	Difficulty string           `json:"difficulty"`
	Texts      []string         `json:"texts,omitempty"`  // chunk texts, laid out with Separator
	Chunks     []document.Chunk `json:"chunks,omitempty"` // used as-is when set
	Tests      []TestCase       `json:"tests"`
}

// TestCase is one triple and the provenance it should resolve to.
type TestCase struct {
	Triple           document.Triple `json:"triple"`
	ExpectedType     span.Type       `json:"expected_type"`
	ExpectedEvidence string          `json:"expected_evidence,omitempty"` // compared after normalization
	ExpectedChunks   []int           `json:"expected_chunks,omitempty"`
	Category         string          `json:"category,omitempty"`
	Explanation      string          `json:"explanation,omitempty"`
}

// DocumentChunks returns the chunks to resolve against.
func (d Dataset) DocumentChunks() []document.Chunk {
	if len(d.Chunks) > 0 {
		return d.Chunks
	}
	return Layout(d.Texts...)
}

// Triples returns the triples of all test cases in order.
func (d Dataset) Triples() []document.Triple {
	out := make([]document.Triple, len(d.Tests))
	for i, tc := range d.Tests {
		out[i] = tc.Triple
	}
	return out
}

// Validate checks that every test names a known span type.
func (d Dataset) Validate() error {
	if len(d.Tests) == 0 {
		return fmt.Errorf("dataset %q has no tests", d.Name)
	}
	for i, tc := range d.Tests {
		if !tc.ExpectedType.Valid() {
			return fmt.Errorf("dataset %q test %d: unknown span type %q", d.Name, i, tc.ExpectedType)
		}
	}
	return nil
}

// Layout numbers texts as consecutive chunks on page 1, with document
// offsets as if the texts were joined by Separator.
func Layout(texts ...string) []document.Chunk {
	chunks := make([]document.Chunk, len(texts))
	offset := 0
	for i, t := range texts {
		chunks[i] = document.Chunk{
			ID:                  i,
			Text:                t,
			DocumentOffsetStart: offset,
			DocumentOffsetEnd:   offset + len(t),
			PageNumber:          1,
		}
		offset += len(t) + len(Separator)
	}
	return chunks
}

// LoadDataset reads a JSON dataset from path.
func LoadDataset(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("reading dataset: %w", err)
	}
	var d Dataset
	if err := json.Unmarshal(data, &d); err != nil {
		return Dataset{}, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	if d.Name == "" {
		d.Name = path
	}
	if err := d.Validate(); err != nil {
		return Dataset{}, err
	}
	return d, nil
}

// EasyDataset returns single-sentence cases, including a paraphrased
// entity that only the relaxed strategy finds.
func EasyDataset() Dataset {
	return Dataset{
		Name:       "Easy - Single Sentence",
		Difficulty: DifficultyEasy,
		Texts: []string{
			"Aspirin reduces fever in adults. Ibuprofen relieves pain.",
			"Methylosinus trichosporium OB3b oxidizes methane.",
		},
		Tests: []TestCase{
			{
				Triple:           document.Triple{Subject: "Aspirin", Predicate: "reduces", Object: "fever", ChunkID: 0},
				ExpectedType:     span.SingleSentence,
				ExpectedEvidence: "Aspirin reduces fever in adults.",
				ExpectedChunks:   []int{0},
				Category:         "exact",
			},
			{
				Triple:           document.Triple{Subject: "ibuprofen", Predicate: "relieves", Object: "PAIN", ChunkID: 0},
				ExpectedType:     span.SingleSentence,
				ExpectedEvidence: "Ibuprofen relieves pain.",
				ExpectedChunks:   []int{0},
				Category:         "case-insensitive",
			},
			{
				Triple:           document.Triple{Subject: "M. trichosporium", Predicate: "oxidizes", Object: "methane", ChunkID: 1},
				ExpectedType:     span.SingleSentence,
				ExpectedEvidence: "Methylosinus trichosporium OB3b oxidizes methane.",
				ExpectedChunks:   []int{1},
				Category:         "relaxed",
			},
		},
	}
}

// MediumDataset returns multi-sentence cases and a pair that is too far
// apart to be linked.
func MediumDataset() Dataset {
	return Dataset{
		Name:       "Medium - Multi Sentence",
		Difficulty: DifficultyMedium,
		Texts: []string{
			"Metformin is a first-line drug. It lowers blood glucose in most patients.",
			"Warfarin is an anticoagulant. Doses vary. Monitoring is needed. Diet matters. Bleeding is the main risk.",
		},
		Tests: []TestCase{
			{
				Triple:           document.Triple{Subject: "Metformin", Predicate: "lowers", Object: "blood glucose", ChunkID: 0},
				ExpectedType:     span.MultiSentence,
				ExpectedEvidence: "Metformin is a first-line drug. It lowers blood glucose in most patients.",
				ExpectedChunks:   []int{0},
				Category:         "adjacent",
			},
			{
				Triple:         document.Triple{Subject: "Warfarin", Predicate: "interacts with", Object: "diet", ChunkID: 1},
				ExpectedType:   span.MultiSentence,
				ExpectedChunks: []int{1},
				Category:       "distance-3",
			},
			{
				Triple:       document.Triple{Subject: "Warfarin", Predicate: "risks", Object: "bleeding", ChunkID: 1},
				ExpectedType: span.Unresolved,
				Category:     "too-far",
				Explanation:  "four sentences apart",
			},
		},
	}
}

// HardDataset returns cross-chunk cases and a triple with no mention.
func HardDataset() Dataset {
	return Dataset{
		Name:       "Hard - Cross Chunk",
		Difficulty: DifficultyHard,
		Texts: []string{
			"Statins lower cholesterol.",
			"They also reduce inflammation.",
			"Exercise improves outcomes.",
		},
		Tests: []TestCase{
			{
				Triple:           document.Triple{Subject: "Statins", Predicate: "reduce", Object: "inflammation", ChunkID: 1},
				ExpectedType:     span.CrossChunk,
				ExpectedEvidence: "Statins lower cholesterol. ... They also reduce inflammation.",
				ExpectedChunks:   []int{0, 1},
				Category:         "subject-prior",
			},
			{
				Triple:           document.Triple{Subject: "Exercise", Predicate: "affects", Object: "cholesterol", ChunkID: 2},
				ExpectedType:     span.CrossChunk,
				ExpectedEvidence: "Statins lower cholesterol. ... Exercise improves outcomes.",
				ExpectedChunks:   []int{0, 2},
				Category:         "object-prior",
			},
			{
				Triple:       document.Triple{Subject: "Nitrogen", Predicate: "fixes", Object: "ammonia", ChunkID: 2},
				ExpectedType: span.Unresolved,
				Category:     "absent",
			},
		},
	}
}

// AllDatasets returns the built-in datasets keyed by difficulty.
func AllDatasets() map[string]Dataset {
	return map[string]Dataset{
		DifficultyEasy:   EasyDataset(),
		DifficultyMedium: MediumDataset(),
		DifficultyHard:   HardDataset(),
	}
}
