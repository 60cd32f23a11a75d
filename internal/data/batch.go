package data

import (
	"fmt"
	"math/rand"

	"github.com/arjav2002/codemix/crf"
)

// WordEncoder turns words into model input ids. Implemented by Tokenizer.
type WordEncoder interface {
	EncodeWords(words []string) ([]int, error)
	PadID() int
}

// Batch is one padded model-ready batch. Tag rows carry the padding tag id
// beyond each mask prefix; input rows carry the padding token id.
type Batch struct {
	Inputs  [][]int
	NERTags [][]int
	LIDTags [][]int
	Masks   [][]bool
}

// Size returns the number of sequences in the batch.
func (b *Batch) Size() int { return len(b.Inputs) }

// Batcher converts sentences into padded id batches.
type Batcher struct {
	Tok       WordEncoder
	NER       *crf.Alphabet
	LID       *crf.Alphabet
	MaxLen    int
	BatchSize int
}

// NewBatcher wires a word encoder and the tag alphabets. Sentences longer
// than maxLen words are truncated.
func NewBatcher(tok WordEncoder, ner, lid *crf.Alphabet, maxLen, batchSize int) *Batcher {
	return &Batcher{Tok: tok, NER: ner, LID: lid, MaxLen: maxLen, BatchSize: batchSize}
}

// EncodeSentence converts one sentence into parallel id slices.
func (b *Batcher) EncodeSentence(s Sentence) (inputs, ner, lid []int, err error) {
	if err := s.Check(); err != nil {
		return nil, nil, nil, err
	}
	n := s.Len()
	if b.MaxLen > 0 && n > b.MaxLen {
		n = b.MaxLen
	}

	inputs, err = b.Tok.EncodeWords(s.Tokens[:n])
	if err != nil {
		return nil, nil, nil, err
	}
	ner = make([]int, n)
	lid = make([]int, n)
	for t := range n {
		if ner[t] = b.NER.Get(s.NER[t]); ner[t] < 0 {
			return nil, nil, nil, fmt.Errorf("unknown ner tag %q", s.NER[t])
		}
		if lid[t] = b.LID.Get(s.LID[t]); lid[t] < 0 {
			return nil, nil, nil, fmt.Errorf("unknown lid tag %q", s.LID[t])
		}
	}
	return inputs, ner, lid, nil
}

// Batches groups the sentences into padded batches in their current order.
func (b *Batcher) Batches(sentences []Sentence) ([]Batch, error) {
	if b.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", b.BatchSize)
	}
	var out []Batch
	for start := 0; start < len(sentences); start += b.BatchSize {
		end := min(start+b.BatchSize, len(sentences))
		batch, err := b.pad(sentences[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch at sentence %d: %w", start, err)
		}
		out = append(out, batch)
	}
	return out, nil
}

func (b *Batcher) pad(sentences []Sentence) (Batch, error) {
	type encoded struct {
		inputs, ner, lid []int
	}
	encs := make([]encoded, len(sentences))
	width := 0
	for i, s := range sentences {
		inputs, ner, lid, err := b.EncodeSentence(s)
		if err != nil {
			return Batch{}, fmt.Errorf("sentence %d: %w", i, err)
		}
		encs[i] = encoded{inputs, ner, lid}
		if len(inputs) > width {
			width = len(inputs)
		}
	}

	nerPad := b.NER.Size() - 1
	lidPad := b.LID.Size() - 1
	batch := Batch{
		Inputs:  make([][]int, len(encs)),
		NERTags: make([][]int, len(encs)),
		LIDTags: make([][]int, len(encs)),
		Masks:   make([][]bool, len(encs)),
	}
	for i, e := range encs {
		n := len(e.inputs)
		inputs := make([]int, width)
		ner := make([]int, width)
		lid := make([]int, width)
		mask := make([]bool, width)
		for t := range width {
			if t < n {
				inputs[t] = e.inputs[t]
				ner[t] = e.ner[t]
				lid[t] = e.lid[t]
				mask[t] = true
			} else {
				inputs[t] = b.Tok.PadID()
				ner[t] = nerPad
				lid[t] = lidPad
			}
		}
		batch.Inputs[i] = inputs
		batch.NERTags[i] = ner
		batch.LIDTags[i] = lid
		batch.Masks[i] = mask
	}
	return batch, nil
}

// Shuffle permutes sentences in place.
func Shuffle(sentences []Sentence, rng *rand.Rand) {
	rng.Shuffle(len(sentences), func(i, j int) {
		sentences[i], sentences[j] = sentences[j], sentences[i]
	})
}
