package data

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseCoNLL(t *testing.T) {
	input := "# sent_enum = 1\n" +
		"Modi\thi\tB-PER\n" +
		"ji\thi\tI-PER\n" +
		"rocks\ten\tO\n" +
		"\n" +
		"#\ten\tO\n" +
		"hello\ten\tO\r\n" +
		"\n" +
		"\n" +
		"bye\ten\tO\n"

	sentences, err := parseCoNLL(strings.NewReader(input), "test")
	if err != nil {
		t.Fatal(err)
	}
	if len(sentences) != 3 {
		t.Fatalf("sentence count = %d, want 3", len(sentences))
	}
	if got := sentences[0].Len(); got != 3 {
		t.Errorf("first sentence length = %d, want 3", got)
	}
	if sentences[0].Tokens[0] != "Modi" || sentences[0].NER[0] != "B-PER" || sentences[0].LID[0] != "hi" {
		t.Errorf("first token parsed as %q/%q/%q", sentences[0].Tokens[0], sentences[0].LID[0], sentences[0].NER[0])
	}
	// a literal # token carries tab columns and is not a comment
	if sentences[1].Tokens[0] != "#" {
		t.Errorf("hash token parsed as %q", sentences[1].Tokens[0])
	}
	if sentences[1].Tokens[1] != "hello" {
		t.Errorf("CRLF line parsed as %q", sentences[1].Tokens[1])
	}
	if sentences[2].Tokens[0] != "bye" {
		t.Errorf("last sentence parsed as %q", sentences[2].Tokens[0])
	}
}

func TestParseCoNLLColumnCount(t *testing.T) {
	_, err := parseCoNLL(strings.NewReader("token\ten\n"), "bad")
	if err == nil || !strings.Contains(err.Error(), "bad:1") {
		t.Errorf("expected column error naming bad:1, got %v", err)
	}
}

func TestParseCoNLLEmptyToken(t *testing.T) {
	if _, err := parseCoNLL(strings.NewReader("\ten\tO\n"), "bad"); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestReadCoNLL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "split.conll")
	content := "a\ten\tO\nb\thi\tO\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	sentences, err := ReadCoNLL(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(sentences) != 1 || sentences[0].Len() != 2 {
		t.Errorf("parsed %d sentences, want 1 with 2 tokens", len(sentences))
	}

	if _, err := ReadCoNLL(filepath.Join(t.TempDir(), "missing.conll")); err == nil {
		t.Error("expected error for missing file")
	}
}
