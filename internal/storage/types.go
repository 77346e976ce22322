package storage

import (
	"context"
	"errors"
	"time"

	"sebastian/internal/alarm"
)

var (
	// ErrDisabled is returned by operations the selected driver does not keep.
	ErrDisabled = errors.New("storage disabled")
	// ErrCorrupt marks an alarm document that could not be decoded.
	// Load never returns it; the document is quarantined instead.
	ErrCorrupt = errors.New("alarm document corrupt")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON document on disk (default)
//   - "sqlite": SQLite database file
//   - "bolt": bbolt database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store persists alarms plus audit and dedup records.
type Store interface {
	alarm.Persister
	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// AuditEntry records one command mutation.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Action  string    `json:"action"`
	AlarmID string    `json:"alarm_id,omitempty"`
	Title   string    `json:"title,omitempty"`
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}
