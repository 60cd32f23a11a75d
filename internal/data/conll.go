package data

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadCoNLL parses one split file: a token, its language tag and its entity
// tag per line separated by tabs, sentences separated by blank lines.
// Comment lines carry no tabs and start with '#'.
func ReadCoNLL(path string) ([]Sentence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open split: %w", err)
	}
	defer f.Close()
	return parseCoNLL(f, path)
}

func parseCoNLL(r io.Reader, name string) ([]Sentence, error) {
	var sentences []Sentence
	var cur Sentence
	flush := func() {
		if len(cur.Tokens) > 0 {
			sentences = append(sentences, cur)
			cur = Sentence{}
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSuffix(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) == 1 && strings.HasPrefix(line, "#") {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("%s:%d: want token, lid and ner columns, got %d", name, lineNo, len(fields))
		}
		if fields[0] == "" {
			return nil, fmt.Errorf("%s:%d: empty token", name, lineNo)
		}
		cur.Tokens = append(cur.Tokens, fields[0])
		cur.LID = append(cur.LID, fields[1])
		cur.NER = append(cur.NER, fields[2])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	flush()
	return sentences, nil
}
