package search

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultSnippetWindow is the rune budget around the first match.
const DefaultSnippetWindow = 160

// Snippet builds a keyword-in-context excerpt. The window is centered on
// the first query-token occurrence and snapped outward to whitespace.
// Output is HTML-escaped first; matched terms are then wrapped in
// <mark> tags, so document text can never inject markup.
func Snippet(content string, tokens []string, window int) string {
	if window <= 0 {
		window = DefaultSnippetWindow
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}

	runes := []rune(content)
	lower := strings.ToLower(content)

	matchStart, matchLen := firstMatch(lower, tokens)

	start, end := 0, len(runes)
	prefix, suffix := "", ""
	if matchStart >= 0 {
		center := utf8.RuneCountInString(content[:matchStart])
		half := window / 2
		start = center - half
		end = center + matchLen + half
	} else {
		end = window
	}

	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}

	start = snapBack(runes, start)
	end = snapForward(runes, end)

	if start > 0 {
		prefix = "..."
	}
	if end < len(runes) {
		suffix = "..."
	}

	excerpt := string(runes[start:end])
	return prefix + highlight(excerpt, tokens) + suffix
}

// firstMatch finds the earliest token occurrence in the lowercased
// content, returning its byte offset and rune length. -1 when no token
// matches.
func firstMatch(lower string, tokens []string) (int, int) {
	best, bestLen := -1, 0
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if pos := strings.Index(lower, token); pos >= 0 && (best < 0 || pos < best) {
			best = pos
			bestLen = utf8.RuneCountInString(token)
		}
	}
	return best, bestLen
}

// snapBack moves the window start left to a whitespace boundary, giving
// up after a short scan so CJK text without spaces still cuts cleanly.
const snapLimit = 16

func snapBack(runes []rune, start int) int {
	if start == 0 {
		return 0
	}
	for i := start; i > 0 && start-i < snapLimit; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return start
}

func snapForward(runes []rune, end int) int {
	if end >= len(runes) {
		return len(runes)
	}
	for i := end; i < len(runes) && i-end < snapLimit; i++ {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return end
}

// highlight escapes the excerpt and wraps each token occurrence in
// <mark> tags, case-insensitively, longest token first so overlapping
// tokens do not split each other's tags.
func highlight(excerpt string, tokens []string) string {
	escaped := html.EscapeString(excerpt)

	ordered := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		ordered = append(ordered, html.EscapeString(token))
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && len(ordered[j]) > len(ordered[j-1]); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	var b strings.Builder
	lower := strings.ToLower(escaped)
	pos := 0
	for pos < len(escaped) {
		next, tokenLen := -1, 0
		for _, token := range ordered {
			if at := strings.Index(lower[pos:], strings.ToLower(token)); at >= 0 {
				if next < 0 || pos+at < next || (pos+at == next && len(token) > tokenLen) {
					next = pos + at
					tokenLen = len(token)
				}
			}
		}
		if next < 0 {
			b.WriteString(escaped[pos:])
			break
		}

		b.WriteString(escaped[pos:next])
		b.WriteString("<mark>")
		b.WriteString(escaped[next : next+tokenLen])
		b.WriteString("</mark>")
		pos = next + tokenLen
	}

	return b.String()
}
