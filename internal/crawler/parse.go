package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMaxOutlinks bounds links extracted per page.
const DefaultMaxOutlinks = 50

// Page is the parsed form of a fetched document.
type Page struct {
	Title    string
	Text     string
	Outlinks []string
}

// ParsePage extracts the title, visible text, and up to maxOutlinks
// absolute http(s) outlinks from an HTML body. Relative hrefs resolve
// against baseURL; fragments are stripped; duplicates and self-links
// collapse.
func ParsePage(body []byte, baseURL string, maxOutlinks int) (*Page, error) {
	if maxOutlinks <= 0 {
		maxOutlinks = DefaultMaxOutlinks
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}

	doc.Find("script, style, noscript").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())

	var text string
	if body := doc.Find("body"); body.Length() > 0 {
		text = body.Text()
	} else {
		text = doc.Text()
	}
	text = strings.Join(strings.Fields(text), " ")

	seen := make(map[string]struct{})
	var outlinks []string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		resolved := resolveLink(base, href)
		if resolved == "" || resolved == baseURL {
			return true
		}
		if _, dup := seen[resolved]; dup {
			return true
		}
		seen[resolved] = struct{}{}
		outlinks = append(outlinks, resolved)
		return len(outlinks) < maxOutlinks
	})

	return &Page{Title: title, Text: text, Outlinks: outlinks}, nil
}

// resolveLink resolves href against base, dropping fragments and
// anything that is not absolute http(s).
func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}
