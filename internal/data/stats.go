package data

import (
	"fmt"
	"strings"

	"github.com/pemistahl/lingua-go"

	"github.com/arjav2002/codemix/internal/textutil"
)

// Stats summarizes one split for the data command.
type Stats struct {
	Sentences int
	Tokens    int
	MaxLen    int
	AvgLen    float64
	NERCounts map[string]int
	LIDCounts map[string]int

	// TokenClasses counts mentions, hashtags, urls, numbers, punctuation,
	// and plain words across the split.
	TokenClasses map[string]int

	// SwitchPoints counts adjacent token pairs tagged with two different
	// corpus languages. SwitchRate is that count over all adjacent pairs.
	SwitchPoints int
	SwitchRate   float64

	// Detected counts sentence-level language guesses restricted to the
	// corpus languages. Code-switched text makes this a rough consistency
	// check, not ground truth.
	Detected map[string]int

	// DetectorAgreement is the share of detected sentences whose guess
	// matches the dominant gold language tag.
	DetectorAgreement float64
}

var linguaByCode = map[string]lingua.Language{
	"ar": lingua.Arabic,
	"bn": lingua.Bengali,
	"de": lingua.German,
	"en": lingua.English,
	"es": lingua.Spanish,
	"fr": lingua.French,
	"hi": lingua.Hindi,
	"ne": lingua.Nepali,
	"pt": lingua.Portuguese,
	"ta": lingua.Tamil,
	"tr": lingua.Turkish,
	"ur": lingua.Urdu,
	"zh": lingua.Chinese,
}

// Collect gathers tag and length statistics. With two or more corpus
// languages it also runs a language detector restricted to that set over
// every sentence and compares the guesses against the gold tags.
func Collect(sentences []Sentence, languages []string) (*Stats, error) {
	st := &Stats{
		NERCounts:    make(map[string]int),
		LIDCounts:    make(map[string]int),
		TokenClasses: make(map[string]int),
	}
	langSet := make(map[string]bool, len(languages))
	for _, code := range languages {
		langSet[strings.ToLower(code)] = true
	}
	pairs := 0
	for _, s := range sentences {
		st.Sentences++
		st.Tokens += s.Len()
		if s.Len() > st.MaxLen {
			st.MaxLen = s.Len()
		}
		for _, tok := range s.Tokens {
			st.TokenClasses[textutil.Classify(tok)]++
		}
		for _, tag := range s.NER {
			st.NERCounts[tag]++
		}
		for _, tag := range s.LID {
			st.LIDCounts[tag]++
		}
		for i := 0; i+1 < len(s.LID); i++ {
			pairs++
			a, b := strings.ToLower(s.LID[i]), strings.ToLower(s.LID[i+1])
			if a != b && langSet[a] && langSet[b] {
				st.SwitchPoints++
			}
		}
	}
	if st.Sentences > 0 {
		st.AvgLen = float64(st.Tokens) / float64(st.Sentences)
	}
	if pairs > 0 {
		st.SwitchRate = float64(st.SwitchPoints) / float64(pairs)
	}

	if len(languages) >= 2 {
		detector, err := buildDetector(languages)
		if err != nil {
			return nil, err
		}
		st.Detected = make(map[string]int, len(languages))
		compared, agreed := 0, 0
		for _, s := range sentences {
			text := textutil.Normalize(strings.Join(s.Tokens, " "))
			lang, ok := detector.DetectLanguageOf(text)
			if !ok {
				continue
			}
			st.Detected[strings.ToLower(lang.String())]++
			code, ok := dominantLanguage(s, languages)
			if !ok {
				continue
			}
			compared++
			if linguaByCode[strings.ToLower(code)] == lang {
				agreed++
			}
		}
		if compared > 0 {
			st.DetectorAgreement = float64(agreed) / float64(compared)
		}
	}
	return st, nil
}

// dominantLanguage picks the corpus language with the most gold tags in
// the sentence. Ties keep the language listed first in the card.
func dominantLanguage(s Sentence, languages []string) (string, bool) {
	best, bestCount := "", 0
	for _, code := range languages {
		n := 0
		for _, tag := range s.LID {
			if strings.EqualFold(tag, code) {
				n++
			}
		}
		if n > bestCount {
			best, bestCount = code, n
		}
	}
	return best, bestCount > 0
}

func buildDetector(codes []string) (lingua.LanguageDetector, error) {
	langs := make([]lingua.Language, 0, len(codes))
	for _, code := range codes {
		lang, ok := linguaByCode[strings.ToLower(code)]
		if !ok {
			return nil, fmt.Errorf("no detector support for language %q", code)
		}
		langs = append(langs, lang)
	}
	return lingua.NewLanguageDetectorBuilder().FromLanguages(langs...).Build(), nil
}
