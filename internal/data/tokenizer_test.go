package data

import (
	"path/filepath"
	"testing"
)

func trainingSentences() []Sentence {
	words := [][]string{
		{"modi", "ji", "delhi", "mein", "rally", "karenge"},
		{"chai", "peeke", "kaam", "karte", "hain", "hum"},
		{"the", "rally", "in", "delhi", "was", "huge"},
		{"modi", "spoke", "about", "chai", "and", "kaam"},
	}
	out := make([]Sentence, 0, len(words)*4)
	for range 4 {
		for _, w := range words {
			out = append(out, Sentence{Tokens: w})
		}
	}
	return out
}

func TestTrainTokenizer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	tok, err := TrainTokenizer(trainingSentences(), path, 200)
	if err != nil {
		t.Fatal(err)
	}
	if tok.VocabSize() <= 4 {
		t.Fatalf("vocab size = %d, want more than the special tokens", tok.VocabSize())
	}
	if tok.PadID() == tok.UnkID() {
		t.Error("pad and unk ids collide")
	}

	words := []string{"modi", "ji", "delhi"}
	ids, err := tok.EncodeWords(words)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != len(words) {
		t.Fatalf("got %d ids for %d words", len(ids), len(words))
	}
	for i, id := range ids {
		if id < 0 || id >= tok.VocabSize() {
			t.Errorf("id[%d] = %d out of vocabulary range", i, id)
		}
	}

	again, err := tok.EncodeWords(words)
	if err != nil {
		t.Fatal(err)
	}
	for i := range ids {
		if ids[i] != again[i] {
			t.Fatalf("encoding is not deterministic at word %d", i)
		}
	}
}

func TestTokenizerLowercases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	tok, err := TrainTokenizer(trainingSentences(), path, 200)
	if err != nil {
		t.Fatal(err)
	}
	lower, err := tok.EncodeWords([]string{"delhi"})
	if err != nil {
		t.Fatal(err)
	}
	upper, err := tok.EncodeWords([]string{"DELHI"})
	if err != nil {
		t.Fatal(err)
	}
	if lower[0] != upper[0] {
		t.Errorf("case changed the encoding: %d vs %d", lower[0], upper[0])
	}
}

func TestLoadTokenizer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	trained, err := TrainTokenizer(trainingSentences(), path, 200)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadTokenizer(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.VocabSize() != trained.VocabSize() {
		t.Errorf("vocab size changed on reload: %d vs %d", loaded.VocabSize(), trained.VocabSize())
	}
	if loaded.PadID() != trained.PadID() || loaded.UnkID() != trained.UnkID() {
		t.Error("special token ids changed on reload")
	}

	words := []string{"modi", "rally", "chai", "huge"}
	want, err := trained.EncodeWords(words)
	if err != nil {
		t.Fatal(err)
	}
	got, err := loaded.EncodeWords(words)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("reloaded tokenizer encodes %q as %d, want %d", words[i], got[i], want[i])
		}
	}
}

func TestTrainOrLoadTokenizerLoadsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	trained, err := TrainTokenizer(trainingSentences(), path, 200)
	if err != nil {
		t.Fatal(err)
	}
	want, err := trained.EncodeWords([]string{"delhi"})
	if err != nil {
		t.Fatal(err)
	}

	// A different corpus must not matter when the file already exists.
	other := []Sentence{{Tokens: []string{"completely", "different", "words"}}}
	tok, err := TrainOrLoadTokenizer(other, path, 200)
	if err != nil {
		t.Fatal(err)
	}
	got, err := tok.EncodeWords([]string{"delhi"})
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != want[0] {
		t.Errorf("existing tokenizer was retrained: id %d, want %d", got[0], want[0])
	}
}

func TestLoadTokenizerMissingFile(t *testing.T) {
	if _, err := LoadTokenizer(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for a missing tokenizer file")
	}
}
