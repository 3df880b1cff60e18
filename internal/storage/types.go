package storage

import (
	"context"
	"errors"
	"time"

	"notifybot/internal/access"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "" or "none": storage disabled (whitelist lives in memory only)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// AuditEntry records an operator action (job create/remove, whitelist change).
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time
	ActorID int64
	Action  string
	Target  string
	OK      bool
	Error   string
}

// Store persists the whitelist and the audit trail. Job state is deliberately
// not persisted; jobs are memory-resident for the process lifetime.
type Store interface {
	SaveWhitelist(ctx context.Context, s access.Snapshot) error
	LoadWhitelist(ctx context.Context) (access.Snapshot, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
