// Package textutil provides token classification and normalization for
// social media text.
package textutil

import (
	"regexp"
	"strings"
	"unicode"
)

// Token classes reported by Classify.
const (
	ClassWord    = "word"
	ClassMention = "mention"
	ClassHashtag = "hashtag"
	ClassURL     = "url"
	ClassNumber  = "number"
	ClassPunct   = "punct"
)

var (
	mentionRe = regexp.MustCompile(`^@[A-Za-z0-9_]+$`)
	hashtagRe = regexp.MustCompile(`^#\p{L}[\p{L}\p{N}_]*$`)
	urlRe     = regexp.MustCompile(`(?i)^(https?://|www\.)\S+$`)
	numberRe  = regexp.MustCompile(`^[+-]?\p{N}+([.,:]\p{N}+)*$`)
)

// Classify buckets a token into one of the token classes. Anything that is
// not a mention, hashtag, url, number, or pure punctuation counts as a word.
func Classify(token string) string {
	switch {
	case mentionRe.MatchString(token):
		return ClassMention
	case hashtagRe.MatchString(token):
		return ClassHashtag
	case urlRe.MatchString(token):
		return ClassURL
	case numberRe.MatchString(token):
		return ClassNumber
	case isPunct(token):
		return ClassPunct
	}
	return ClassWord
}

func isPunct(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}

var (
	newlineRe    = regexp.MustCompile(`[\n\r]`)
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
)

// NormalizeWhitespaces replaces newlines and multiple whitespace with a single space.
func NormalizeWhitespaces(text string) string {
	text = newlineRe.ReplaceAllString(text, " ")
	return multiSpaceRe.ReplaceAllString(text, " ")
}

// Normalize lowercases text and normalizes whitespace.
func Normalize(text string) string {
	return NormalizeWhitespaces(strings.ToLower(text))
}
