package storage

import "time"

// HistoryRecord is one completed document analysis owned by a user.
type HistoryRecord struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	DocumentID    string    `json:"document_id"`
	DocumentTitle string    `json:"document_title"`
	CreatedAt     time.Time `json:"created_at"`
	Summary       string    `json:"summary,omitempty"`
	Advantages    []string  `json:"advantages"`
	Limitations   []string  `json:"limitations"`
	Queries       []Query   `json:"queries"`
}

// Query is one question/answer exchange appended to a record. Queries are
// append-only and keep insertion order for the life of the record.
type Query struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}

// ArchivedRecord is the tombstone copy of a deleted HistoryRecord. It is
// written once at deletion time and never mutated afterward.
type ArchivedRecord struct {
	ID                string    `json:"id"`
	RecordID          string    `json:"record_id"`
	OwnerID           string    `json:"owner_id"`
	DocumentID        string    `json:"document_id"`
	DocumentTitle     string    `json:"document_title"`
	OriginalCreatedAt time.Time `json:"original_created_at"`
	DeletedAt         time.Time `json:"deleted_at"`
	Summary           string    `json:"summary,omitempty"`
	Advantages        []string  `json:"advantages"`
	Limitations       []string  `json:"limitations"`
	Queries           []Query   `json:"queries"`
}

// Stats holds aggregate statistics about the ThinkBrief database.
type Stats struct {
	TotalRecords   int64
	TotalQueries   int64
	TotalArchived  int64
	DistinctOwners int64
	OldestRecord   time.Time
	NewestRecord   time.Time
}
