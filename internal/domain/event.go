package domain

import "time"

// Search event types.
const (
	EventTypeImpression = "impression"
	EventTypeClick      = "click"
)

// SearchEvent is one append-only analytics event from the query path.
// RequestID joins a click back to the impression it belongs to.
type SearchEvent struct {
	ID          int64     `db:"id"           json:"id"`
	EventType   string    `db:"event_type"   json:"event_type"`
	Query       string    `db:"query"        json:"query"`
	QueryNorm   string    `db:"query_norm"   json:"query_norm"`
	RequestID   string    `db:"request_id"   json:"request_id"`
	SessionHash *string   `db:"session_hash" json:"session_hash,omitempty"`
	ResultCount *int      `db:"result_count" json:"result_count,omitempty"`
	ClickedURL  *string   `db:"clicked_url"  json:"clicked_url,omitempty"`
	ClickedRank *int      `db:"clicked_rank" json:"clicked_rank,omitempty"`
	LatencyMs   *int64    `db:"latency_ms"   json:"latency_ms,omitempty"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
}
