package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Setting is one persisted key. Value holds the JSON encoding of the stored value.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// HistoryEntry records a single write to a key.
type HistoryEntry struct {
	ID        int64
	Key       string
	Value     string
	ChangedAt time.Time
}
