package domain

import (
	"context"
	"time"
)

// HistoryStore persists a record of every pack fetch.
type HistoryStore interface {
	RecordFetch(ctx context.Context, f Fetch) (int64, error)
	RecentFetches(ctx context.Context, limit int) ([]Fetch, error)
	CountFetches(ctx context.Context) (int64, error)
	Close() error
}

// Fetch statuses.
const (
	FetchOK      = "ok"
	FetchPartial = "partial" // some members were skipped
	FetchError   = "error"
)

type Fetch struct {
	ID           int64     `json:"id"`
	SetName      string    `json:"set_name"`
	Title        string    `json:"title"`
	Channel      string    `json:"channel"`
	ChatID       string    `json:"chat_id"`
	RequestedBy  string    `json:"requested_by"`
	Total        int       `json:"total"`   // members in the set
	Fetched      int       `json:"fetched"` // members in the archive
	Skipped      int       `json:"skipped"`
	ArchiveBytes int64     `json:"archive_bytes"`
	Status       string    `json:"status"` // ok | partial | error
	Error        string    `json:"error,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}
