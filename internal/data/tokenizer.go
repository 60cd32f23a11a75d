package data

import (
	"fmt"
	"os"
	"strings"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/models"
	"github.com/sugarme/tokenizer/normalizers"
	"github.com/sugarme/tokenizer/pretokenizers"
	"github.com/sugarme/tokenizer/trainers"

	"github.com/arjav2002/codemix/internal/textutil"
)

const unkToken = "<unk>"

// Tokenizer wraps a trained BPE subword model for word-level tagging. Every
// word maps to its first subword id, keeping model inputs aligned with the
// word-level tags.
type Tokenizer struct {
	tok   *tokenizer.Tokenizer
	unkID int
	padID int
}

// TrainTokenizer fits a BPE vocabulary on the sentences and saves the
// tokenizer file to path. Text is NFKC normalized and lowercased, split on
// whitespace.
func TrainTokenizer(sentences []Sentence, path string, vocabSize int) (*Tokenizer, error) {
	corpus, err := os.CreateTemp("", "codemix-corpus-*.txt")
	if err != nil {
		return nil, fmt.Errorf("tokenizer corpus: %w", err)
	}
	defer os.Remove(corpus.Name())
	for _, sent := range sentences {
		line := textutil.NormalizeWhitespaces(strings.Join(sent.Tokens, " "))
		if _, err := fmt.Fprintln(corpus, line); err != nil {
			corpus.Close()
			return nil, fmt.Errorf("tokenizer corpus: %w", err)
		}
	}
	if err := corpus.Close(); err != nil {
		return nil, fmt.Errorf("tokenizer corpus: %w", err)
	}

	bpe := models.NewBPE()
	t := tokenizer.NewTokenizer(bpe)
	t.WithNormalizer(normalizers.NewSequence(
		normalizers.NewNFKC(),
		normalizers.NewLowercase(),
	))
	t.WithPreTokenizer(pretokenizers.NewWhitespaceSplit())

	tr := trainers.NewBpeTrainer()
	tr.VocabSize = vocabSize
	tr.SpecialTokens = []string{PadTag, "<bos>", "<eos>", unkToken}

	if err := t.Train(tr, []string{corpus.Name()}); err != nil {
		return nil, fmt.Errorf("train tokenizer: %w", err)
	}
	if err := t.Save(path); err != nil {
		return nil, fmt.Errorf("save tokenizer: %w", err)
	}
	return wrapTokenizer(t)
}

// LoadTokenizer reads a tokenizer file written by TrainTokenizer.
func LoadTokenizer(path string) (*Tokenizer, error) {
	t, err := tokenizer.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return wrapTokenizer(t)
}

// TrainOrLoadTokenizer loads the tokenizer file if it exists and trains a
// fresh one otherwise.
func TrainOrLoadTokenizer(sentences []Sentence, path string, vocabSize int) (*Tokenizer, error) {
	if _, err := os.Stat(path); err == nil {
		return LoadTokenizer(path)
	}
	return TrainTokenizer(sentences, path, vocabSize)
}

func wrapTokenizer(t *tokenizer.Tokenizer) (*Tokenizer, error) {
	unk, ok := t.TokenToId(unkToken)
	if !ok {
		return nil, fmt.Errorf("tokenizer vocabulary is missing %q", unkToken)
	}
	pad, ok := t.TokenToId(PadTag)
	if !ok {
		return nil, fmt.Errorf("tokenizer vocabulary is missing %q", PadTag)
	}
	return &Tokenizer{tok: t, unkID: int(unk), padID: int(pad)}, nil
}

// Save writes the tokenizer file so a model directory can carry its own
// vocabulary.
func (t *Tokenizer) Save(path string) error {
	if err := t.tok.Save(path); err != nil {
		return fmt.Errorf("save tokenizer: %w", err)
	}
	return nil
}

// VocabSize counts the full vocabulary including special tokens.
func (t *Tokenizer) VocabSize() int {
	return int(t.tok.GetVocabSize(true))
}

// PadID returns the padding token id.
func (t *Tokenizer) PadID() int { return t.padID }

// UnkID returns the unknown token id.
func (t *Tokenizer) UnkID() int { return t.unkID }

// EncodeWords returns one id per word: the first subword id, or the unknown
// id for words the subword model cannot represent at all.
func (t *Tokenizer) EncodeWords(words []string) ([]int, error) {
	ids := make([]int, len(words))
	for i, w := range words {
		enc, err := t.tok.EncodeSingle(w)
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", w, err)
		}
		if len(enc.Ids) == 0 {
			ids[i] = t.unkID
			continue
		}
		ids[i] = int(enc.Ids[0])
	}
	return ids, nil
}
