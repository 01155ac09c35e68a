package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	an, err := New()
	require.NoError(t, err)
	return an
}

func TestAnalyzeSplitsAndLowercases(t *testing.T) {
	an := newTestAnalyzer(t)

	tokens := an.Analyze("The Quick, Brown FOX jumps!")
	assert.Equal(t, []string{"quick", "brown", "fox", "jumps"}, tokens)
}

func TestAnalyzeDropsStopWords(t *testing.T) {
	an := newTestAnalyzer(t)

	tokens := an.Analyze("this is a test of the system")
	assert.Equal(t, []string{"test", "system"}, tokens)
}

func TestAnalyzeKeepsDuplicatesInOrder(t *testing.T) {
	an := newTestAnalyzer(t)

	tokens := an.Analyze("go tools and go modules")
	assert.Equal(t, []string{"go", "tools", "go", "modules"}, tokens)
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	an := newTestAnalyzer(t)

	text := "Python guide for distributed systems"
	first := an.Analyze(text)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, an.Analyze(text))
	}
}

func TestAnalyzeEmptyAndWhitespace(t *testing.T) {
	an := newTestAnalyzer(t)

	assert.Nil(t, an.Analyze(""))
	assert.Nil(t, an.Analyze("   \t\n"))
	assert.Empty(t, an.Analyze("... !!! ---"))
}

func TestAnalyzePunctuationAndDigits(t *testing.T) {
	an := newTestAnalyzer(t)

	tokens := an.Analyze("error-code 404 (not found)")
	assert.Contains(t, tokens, "404")
	assert.Contains(t, tokens, "error")
	assert.Contains(t, tokens, "code")
	assert.Contains(t, tokens, "found")
}

func TestAnalyzeSegmentsCJK(t *testing.T) {
	an := newTestAnalyzer(t)

	tokens := an.Analyze("東京タワーに行きました")
	assert.NotEmpty(t, tokens)
	assert.Contains(t, tokens, "東京")
	assert.Contains(t, tokens, "タワー")
	// Segmentation never passes the raw input through whole.
	assert.NotContains(t, tokens, "東京タワーに行きました")
}

func TestAnalyzeMixedScripts(t *testing.T) {
	an := newTestAnalyzer(t)

	tokens := an.Analyze("Go言語 tutorial")
	assert.NotEmpty(t, tokens)
	assert.Contains(t, tokens, "tutorial")
}
