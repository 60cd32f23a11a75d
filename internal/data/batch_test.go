package data

import (
	"math/rand"
	"testing"

	"github.com/arjav2002/codemix/crf"
)

// stubEncoder maps every word to its length so batch tests have known ids.
type stubEncoder struct{ pad int }

func (s stubEncoder) EncodeWords(words []string) ([]int, error) {
	ids := make([]int, len(words))
	for i, w := range words {
		ids[i] = len(w)
	}
	return ids, nil
}

func (s stubEncoder) PadID() int { return s.pad }

func testAlphabets() (ner, lid *crf.Alphabet) {
	ner = crf.NewAlphabet()
	for _, tag := range []string{"O", "B-PER", "I-PER", PadTag} {
		ner.Add(tag)
	}
	lid = crf.NewAlphabet()
	for _, tag := range []string{"en", "hi", PadTag} {
		lid.Add(tag)
	}
	return ner, lid
}

func TestEncodeSentence(t *testing.T) {
	ner, lid := testAlphabets()
	b := NewBatcher(stubEncoder{pad: 99}, ner, lid, 128, 2)

	inputs, nerIDs, lidIDs, err := b.EncodeSentence(Sentence{
		Tokens: []string{"Modi", "ji", "rocks"},
		LID:    []string{"hi", "hi", "en"},
		NER:    []string{"B-PER", "I-PER", "O"},
	})
	if err != nil {
		t.Fatal(err)
	}
	wantInputs := []int{4, 2, 5}
	wantNER := []int{1, 2, 0}
	wantLID := []int{1, 1, 0}
	for i := range wantInputs {
		if inputs[i] != wantInputs[i] || nerIDs[i] != wantNER[i] || lidIDs[i] != wantLID[i] {
			t.Fatalf("position %d: got %d/%d/%d, want %d/%d/%d",
				i, inputs[i], nerIDs[i], lidIDs[i], wantInputs[i], wantNER[i], wantLID[i])
		}
	}
}

func TestEncodeSentenceTruncates(t *testing.T) {
	ner, lid := testAlphabets()
	b := NewBatcher(stubEncoder{}, ner, lid, 2, 2)

	inputs, nerIDs, lidIDs, err := b.EncodeSentence(Sentence{
		Tokens: []string{"a", "b", "c", "d"},
		LID:    []string{"en", "en", "en", "en"},
		NER:    []string{"O", "O", "O", "O"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(inputs) != 2 || len(nerIDs) != 2 || len(lidIDs) != 2 {
		t.Errorf("lengths = %d/%d/%d, want 2 each", len(inputs), len(nerIDs), len(lidIDs))
	}
}

func TestEncodeSentenceUnknownTag(t *testing.T) {
	ner, lid := testAlphabets()
	b := NewBatcher(stubEncoder{}, ner, lid, 128, 2)
	_, _, _, err := b.EncodeSentence(Sentence{
		Tokens: []string{"Paris"},
		LID:    []string{"en"},
		NER:    []string{"B-LOC"},
	})
	if err == nil {
		t.Error("expected error for tag outside the alphabet")
	}
}

func TestBatchesPadsAndMasks(t *testing.T) {
	ner, lid := testAlphabets()
	b := NewBatcher(stubEncoder{pad: 99}, ner, lid, 128, 2)

	batches, err := b.Batches([]Sentence{
		{Tokens: []string{"Modi", "ji", "rocks"}, LID: []string{"hi", "hi", "en"}, NER: []string{"B-PER", "I-PER", "O"}},
		{Tokens: []string{"ok", "bye"}, LID: []string{"en", "en"}, NER: []string{"O", "O"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 {
		t.Fatalf("batch count = %d, want 1", len(batches))
	}
	batch := batches[0]
	if batch.Size() != 2 {
		t.Fatalf("batch size = %d, want 2", batch.Size())
	}

	wantMasks := [][]bool{{true, true, true}, {true, true, false}}
	for i := range wantMasks {
		if len(batch.Masks[i]) != 3 {
			t.Fatalf("sequence %d padded to %d, want 3", i, len(batch.Masks[i]))
		}
		for t2 := range wantMasks[i] {
			if batch.Masks[i][t2] != wantMasks[i][t2] {
				t.Errorf("mask[%d][%d] = %v", i, t2, batch.Masks[i][t2])
			}
		}
	}
	if batch.Inputs[1][2] != 99 {
		t.Errorf("padded input id = %d, want 99", batch.Inputs[1][2])
	}
	if batch.NERTags[1][2] != 3 {
		t.Errorf("padded ner tag = %d, want 3", batch.NERTags[1][2])
	}
	if batch.LIDTags[1][2] != 2 {
		t.Errorf("padded lid tag = %d, want 2", batch.LIDTags[1][2])
	}
}

func TestBatchesChunks(t *testing.T) {
	ner, lid := testAlphabets()
	b := NewBatcher(stubEncoder{}, ner, lid, 128, 2)

	sentences := make([]Sentence, 5)
	for i := range sentences {
		sentences[i] = Sentence{Tokens: []string{"x"}, LID: []string{"en"}, NER: []string{"O"}}
	}
	batches, err := b.Batches(sentences)
	if err != nil {
		t.Fatal(err)
	}
	sizes := make([]int, len(batches))
	for i, batch := range batches {
		sizes[i] = batch.Size()
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Errorf("batch sizes = %v, want [2 2 1]", sizes)
	}
}

func TestBatchesRejectsBadSize(t *testing.T) {
	ner, lid := testAlphabets()
	b := NewBatcher(stubEncoder{}, ner, lid, 128, 0)
	if _, err := b.Batches(nil); err == nil {
		t.Error("expected error for zero batch size")
	}
}

func TestShuffleDeterministic(t *testing.T) {
	build := func() []Sentence {
		out := make([]Sentence, 10)
		for i := range out {
			out[i] = Sentence{Tokens: []string{string(rune('a' + i))}}
		}
		return out
	}

	a := build()
	Shuffle(a, rand.New(rand.NewSource(42)))
	b := build()
	Shuffle(b, rand.New(rand.NewSource(42)))
	for i := range a {
		if a[i].Tokens[0] != b[i].Tokens[0] {
			t.Fatalf("same seed produced different orders at %d", i)
		}
	}

	c := build()
	Shuffle(c, rand.New(rand.NewSource(7)))
	same := true
	for i := range a {
		if a[i].Tokens[0] != c[i].Tokens[0] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced the same order")
	}
}
