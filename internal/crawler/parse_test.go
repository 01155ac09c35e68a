package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePageExtractsTitleTextLinks(t *testing.T) {
	body := []byte(`<html>
		<head><title> Example Page </title><style>body { color: red }</style></head>
		<body>
			<script>var tracking = true;</script>
			<h1>Heading</h1>
			<p>Some   body
			text.</p>
			<a href="/about">About</a>
			<a href="https://other.test/page">Other</a>
		</body>
	</html>`)

	page, err := ParsePage(body, "https://example.com/", 0)
	require.NoError(t, err)

	assert.Equal(t, "Example Page", page.Title)
	assert.Equal(t, "Heading Some body text. About Other", page.Text)
	assert.NotContains(t, page.Text, "tracking")
	assert.NotContains(t, page.Text, "color")
	assert.Equal(t, []string{
		"https://example.com/about",
		"https://other.test/page",
	}, page.Outlinks)
}

func TestParsePageSkipsNonHTTPAndFragments(t *testing.T) {
	body := []byte(`<body>
		<a href="mailto:someone@example.com">mail</a>
		<a href="javascript:void(0)">js</a>
		<a href="#section">anchor</a>
		<a href="/docs#install">docs</a>
		<a href="ftp://files.example.com/a">ftp</a>
	</body>`)

	page, err := ParsePage(body, "https://example.com/", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/docs"}, page.Outlinks)
}

func TestParsePageDeduplicatesAndSkipsSelf(t *testing.T) {
	body := []byte(`<body>
		<a href="https://example.com/page">self</a>
		<a href="/other">one</a>
		<a href="/other">again</a>
	</body>`)

	page, err := ParsePage(body, "https://example.com/page", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/other"}, page.Outlinks)
}

func TestParsePageBoundsOutlinks(t *testing.T) {
	var b []byte
	b = append(b, []byte("<body>")...)
	for i := 0; i < 20; i++ {
		b = append(b, []byte(`<a href="/p`)...)
		b = append(b, byte('a'+i))
		b = append(b, []byte(`">x</a>`)...)
	}
	b = append(b, []byte("</body>")...)

	page, err := ParsePage(b, "https://example.com/", 5)
	require.NoError(t, err)
	assert.Len(t, page.Outlinks, 5)
}

func TestParsePageEmptyBody(t *testing.T) {
	page, err := ParsePage(nil, "https://example.com/", 0)
	require.NoError(t, err)
	assert.Empty(t, page.Title)
	assert.Empty(t, page.Text)
	assert.Empty(t, page.Outlinks)
}
