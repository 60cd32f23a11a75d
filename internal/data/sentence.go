package data

import "fmt"

// Sentence is one annotated utterance: tokens with parallel language and
// entity tags.
type Sentence struct {
	Tokens []string
	LID    []string
	NER    []string
}

// Len returns the token count.
func (s Sentence) Len() int { return len(s.Tokens) }

// Check verifies the tag slices run parallel to the tokens.
func (s Sentence) Check() error {
	if len(s.Tokens) == 0 {
		return fmt.Errorf("empty sentence")
	}
	if len(s.LID) != len(s.Tokens) || len(s.NER) != len(s.Tokens) {
		return fmt.Errorf("%d tokens with %d lid and %d ner tags", len(s.Tokens), len(s.LID), len(s.NER))
	}
	return nil
}
