// Package db is the SQLite session archive and settings store.
package db

import (
	"time"

	"github.com/jwulff/clinote/internal/note"
)

// Session represents one patient encounter.
type Session struct {
	ID          string
	Specialty   string
	BackendMode string
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      string
	CreatedAt   time.Time
}

// Segment is the text of one finalized recording.
type Segment struct {
	ID             string
	SessionID      string
	Text           string
	SequenceNumber int
	CreatedAt      time.Time
}

// Summary is a generated clinical note.
type Summary struct {
	ID        string
	SessionID string
	Specialty string
	ModelID   string
	Note      note.StructuredNote
	CreatedAt time.Time
}

// Session statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)
