// Package data loads code-switched corpora for training the joint tagger.
//
// A corpus folder holds a config.json card naming the languages, the tag
// inventories and the split files, plus one CoNLL file per split. Labels
// are word level; the padding tag is appended to each tag alphabet as its
// last id.
package data

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arjav2002/codemix/crf"
)

// PadTag names the padding tag appended to both tag alphabets.
const PadTag = "<pad>"

// Store wraps a corpus data folder.
type Store struct {
	Folder string
}

// NewStore creates a Store for the given data folder.
func NewStore(folder string) *Store {
	return &Store{Folder: folder}
}

// configJSON is the structure of config.json.
type configJSON struct {
	Languages []string          `json:"languages"`
	NERTags   []string          `json:"ner_tags"`
	LIDTags   []string          `json:"lid_tags"`
	Splits    map[string]string `json:"splits"`
}

// GetConfig reads the corpus card.
func (s *Store) GetConfig() (*configJSON, error) {
	data, err := os.ReadFile(filepath.Join(s.Folder, "config.json"))
	if err != nil {
		return nil, err
	}
	var config configJSON
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Corpus bundles the loaded splits with their tag alphabets. The alphabets
// list the card tags in order with the padding tag appended last.
type Corpus struct {
	Train []Sentence
	Val   []Sentence
	Test  []Sentence

	NER *crf.Alphabet
	LID *crf.Alphabet

	Languages []string
}

// NERPadID returns the NER padding tag id.
func (c *Corpus) NERPadID() int { return c.NER.Size() - 1 }

// LIDPadID returns the LID padding tag id.
func (c *Corpus) LIDPadID() int { return c.LID.Size() - 1 }

// Split returns the named split.
func (c *Corpus) Split(name string) ([]Sentence, error) {
	switch name {
	case "train":
		return c.Train, nil
	case "val":
		return c.Val, nil
	case "test":
		return c.Test, nil
	}
	return nil, fmt.Errorf("unknown split %q", name)
}

// Load reads the card and every split, building the tag alphabets and
// validating each sentence against them.
func (s *Store) Load() (*Corpus, error) {
	config, err := s.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	if len(config.NERTags) == 0 || len(config.LIDTags) == 0 {
		return nil, fmt.Errorf("corpus card names no tags")
	}

	c := &Corpus{
		NER:       crf.NewAlphabet(),
		LID:       crf.NewAlphabet(),
		Languages: config.Languages,
	}
	for _, tag := range config.NERTags {
		c.NER.Add(tag)
	}
	c.NER.Add(PadTag)
	for _, tag := range config.LIDTags {
		c.LID.Add(tag)
	}
	c.LID.Add(PadTag)

	for _, split := range []struct {
		name string
		dst  *[]Sentence
	}{
		{"train", &c.Train},
		{"val", &c.Val},
		{"test", &c.Test},
	} {
		file, ok := config.Splits[split.name]
		if !ok {
			return nil, fmt.Errorf("corpus card names no %s split", split.name)
		}
		sentences, err := ReadCoNLL(filepath.Join(s.Folder, file))
		if err != nil {
			return nil, fmt.Errorf("%s split: %w", split.name, err)
		}
		if err := c.validate(split.name, sentences); err != nil {
			return nil, err
		}
		*split.dst = sentences
	}
	return c, nil
}

func (c *Corpus) validate(split string, sentences []Sentence) error {
	for i, sent := range sentences {
		if err := sent.Check(); err != nil {
			return fmt.Errorf("%s split, sentence %d: %w", split, i, err)
		}
		for t, tag := range sent.NER {
			if c.NER.Get(tag) < 0 || tag == PadTag {
				return fmt.Errorf("%s split, sentence %d: unknown ner tag %q at position %d", split, i, tag, t)
			}
		}
		for t, tag := range sent.LID {
			if c.LID.Get(tag) < 0 || tag == PadTag {
				return fmt.Errorf("%s split, sentence %d: unknown lid tag %q at position %d", split, i, tag, t)
			}
		}
	}
	return nil
}
