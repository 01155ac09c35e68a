package domain

import "time"

// Document is a successfully indexed page.
type Document struct {
	URL       string    `db:"url"        json:"url"`
	Title     string    `db:"title"      json:"title"`
	Content   string    `db:"content"    json:"content"`
	WordCount int       `db:"word_count" json:"word_count"`
	IndexedAt time.Time `db:"indexed_at" json:"indexed_at"`
}

// Index field names for inverted-index entries.
const (
	FieldTitle   = "title"
	FieldContent = "content"
)

// Posting is one inverted-index entry: a token's occurrences within one
// field of one document. Positions are token offsets within the field.
type Posting struct {
	Token     string `db:"token"     json:"token"`
	URL       string `db:"url"       json:"url"`
	Field     string `db:"field"     json:"field"`
	TermFreq  int    `db:"term_freq" json:"term_freq"`
	Positions []int  `db:"-"         json:"positions"`
}

// LinkEdge is a directed edge in the document graph.
type LinkEdge struct {
	SrcURL string `db:"src_url" json:"src_url"`
	DstURL string `db:"dst_url" json:"dst_url"`
}

// PageRankScore is a normalized [0,1] score for a page or a domain.
type PageRankScore struct {
	Key   string  `db:"key"   json:"key"`
	Score float64 `db:"score" json:"score"`
}

// Embedding is an immutable vector for one document.
type Embedding struct {
	URL    string `db:"url"    json:"url"`
	Vector []byte `db:"vector" json:"-"`
}
