// Package codemix tags code-switched social media text, labeling every
// token with a named entity tag and a language ID.
//
// It trains a joint model: a shared transformer/BiLSTM encoder feeding two
// task heads, each scored by a linear-chain CRF.
//
//	t, _ := codemix.New()
//	ner, lid, _ := t.Tag([]string{"Modi", "ji", "gave", "a", "speech"})
//	fmt.Println(ner) // ["B-PER" "I-PER" "O" "O" "O"]
//	fmt.Println(lid) // ["hi" "hi" "en" "en" "en"]
package codemix

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/arjav2002/codemix/crf"
	"github.com/arjav2002/codemix/internal/data"
	"github.com/arjav2002/codemix/model"
)

// Artifact names inside a model directory.
const (
	modelFile     = "model.gob"
	tokenizerFile = "tokenizer.json"
	tagsFile      = "tags.json"
)

// Tagger bundles a trained model with its tokenizer and tag inventories.
type Tagger struct {
	model *model.Joint
	tok   *data.Tokenizer
	ner   *crf.Alphabet
	lid   *crf.Alphabet

	languages []string
	epoch     int
	metric    float64
}

// tagsJSON is the tag inventory file written next to the model weights.
type tagsJSON struct {
	Languages []string      `json:"languages"`
	NER       *crf.Alphabet `json:"ner"`
	LID       *crf.Alphabet `json:"lid"`
}

// New loads the tagger from a "model" directory, searching the current
// directory and parent directories up to the module root (where go.mod
// lives).
func New() (*Tagger, error) {
	dir, err := findModelDir("model")
	if err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}
	return Load(dir)
}

func findModelDir(name string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(filepath.Join(path, modelFile)); err == nil {
			return path, nil
		}
		// Stop at module root
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("model directory not found")
}

// Load reads a trained tagger from a model directory.
func Load(dir string) (*Tagger, error) {
	m, ck, err := model.Load(filepath.Join(dir, modelFile), rand.New(rand.NewSource(0)))
	if err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}
	tok, err := data.LoadTokenizer(filepath.Join(dir, tokenizerFile))
	if err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, tagsFile))
	if err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}
	var tags tagsJSON
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, fmt.Errorf("codemix: parse %s: %w", tagsFile, err)
	}

	cfg := m.Config()
	if tags.NER == nil || tags.NER.Size() != cfg.NumNERTags {
		return nil, fmt.Errorf("codemix: ner tag inventory does not match the model")
	}
	if tags.LID == nil || tags.LID.Size() != cfg.NumLIDTags {
		return nil, fmt.Errorf("codemix: lid tag inventory does not match the model")
	}
	if tok.VocabSize() != cfg.Encoder.VocabSize {
		return nil, fmt.Errorf("codemix: tokenizer vocabulary (%d) does not match the model (%d)",
			tok.VocabSize(), cfg.Encoder.VocabSize)
	}

	return &Tagger{
		model:     m,
		tok:       tok,
		ner:       tags.NER,
		lid:       tags.LID,
		languages: tags.Languages,
		epoch:     ck.Epoch,
		metric:    ck.Metric,
	}, nil
}

// Save writes the tagger to a model directory.
func (t *Tagger) Save(dir string) error {
	if t.model == nil {
		return fmt.Errorf("codemix: tagger not initialized")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("codemix: %w", err)
	}
	ck := model.NewCheckpoint(t.model, nil, t.epoch, t.metric)
	if err := model.SaveCheckpoint(filepath.Join(dir, modelFile), ck); err != nil {
		return fmt.Errorf("codemix: %w", err)
	}
	if err := t.tok.Save(filepath.Join(dir, tokenizerFile)); err != nil {
		return fmt.Errorf("codemix: %w", err)
	}
	raw, err := json.MarshalIndent(tagsJSON{Languages: t.languages, NER: t.ner, LID: t.lid}, "", "  ")
	if err != nil {
		return fmt.Errorf("codemix: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, tagsFile), raw, 0o644); err != nil {
		return fmt.Errorf("codemix: %w", err)
	}
	return nil
}

// Languages returns the corpus languages the tagger was trained on.
func (t *Tagger) Languages() []string { return t.languages }

// Tag labels each word with a named entity tag and a language ID.
func (t *Tagger) Tag(words []string) (ner, lid []string, err error) {
	if t.model == nil {
		return nil, nil, fmt.Errorf("codemix: tagger not initialized")
	}
	if len(words) == 0 {
		return nil, nil, nil
	}
	if maxLen := t.model.Config().Encoder.MaxLen; len(words) > maxLen {
		return nil, nil, fmt.Errorf("codemix: sentence has %d words, model maximum is %d", len(words), maxLen)
	}

	ids, err := t.tok.EncodeWords(words)
	if err != nil {
		return nil, nil, fmt.Errorf("codemix: %w", err)
	}
	mask := make([]bool, len(ids))
	for i := range mask {
		mask[i] = true
	}
	nerIDs, lidIDs, err := t.model.Predict([][]int{ids}, [][]bool{mask})
	if err != nil {
		return nil, nil, fmt.Errorf("codemix: %w", err)
	}

	ner = make([]string, len(words))
	lid = make([]string, len(words))
	for i := range words {
		ner[i] = t.ner.ToStr[nerIDs[0][i]]
		lid[i] = t.lid.ToStr[lidIDs[0][i]]
	}
	return ner, lid, nil
}
