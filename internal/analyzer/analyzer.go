// Package analyzer produces the token streams consumed by the index
// writer and the query engine. Text containing CJK code points goes
// through morphological segmentation (kagome, short-unit UniDic);
// everything else is split on whitespace and punctuation. Surfaces are
// lowercased and stop words removed; positions are preserved.
package analyzer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ikawaha/kagome-dict/uni"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

// Analyzer is a deterministic token stream producer. Safe for concurrent use.
type Analyzer struct {
	segmenter *tokenizer.Tokenizer
}

// New creates an analyzer, loading the segmentation dictionary once.
func New() (*Analyzer, error) {
	seg, err := tokenizer.New(uni.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, fmt.Errorf("failed to build segmenter: %w", err)
	}

	return &Analyzer{segmenter: seg}, nil
}

// Analyze returns the ordered token list for text: same input, same
// output. Tokens are lowercased; stop words are dropped; duplicates are
// kept so positions stay meaningful.
func (a *Analyzer) Analyze(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var surfaces []string
	if containsCJK(text) {
		surfaces = a.segment(text)
	} else {
		surfaces = splitWords(text)
	}

	tokens := make([]string, 0, len(surfaces))
	for _, surface := range surfaces {
		token := strings.ToLower(surface)
		if token == "" || isStopWord(token) {
			continue
		}
		tokens = append(tokens, token)
	}

	return tokens
}

// segment runs morphological segmentation and keeps word-like surfaces.
func (a *Analyzer) segment(text string) []string {
	morphemes := a.segmenter.Tokenize(text)

	surfaces := make([]string, 0, len(morphemes))
	for _, m := range morphemes {
		surface := strings.TrimSpace(m.Surface)
		if surface == "" || !hasLetterOrDigit(surface) {
			continue
		}
		surfaces = append(surfaces, surface)
	}

	return surfaces
}

// splitWords breaks text on anything that is not a letter or digit.
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsCJK reports whether text holds Hiragana, Katakana, or CJK
// Unified Ideograph code points.
func containsCJK(text string) bool {
	for _, r := range text {
		switch {
		case r >= 0x3040 && r <= 0x309F: // Hiragana
			return true
		case r >= 0x30A0 && r <= 0x30FF: // Katakana
			return true
		case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
			return true
		}
	}
	return false
}

// hasLetterOrDigit reports whether s contains at least one word rune.
func hasLetterOrDigit(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
