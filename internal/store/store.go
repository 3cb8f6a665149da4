// Package store persists the little state the agent needs to resume
// correctly after a restart: the last fire date and one record per day.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "rewardsd/pkg/logx"
)

var ErrDisabled = errors.New("store disabled")

// Config selects the persistence backend.
//
// Driver values:
//   - "file": dependency-free JSON snapshot
//   - "sqlite": SQLite database file
//
// Empty or "none" disables persistence; the agent then relies on wall-clock
// time alone and may re-fire after a same-day restart.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is the finalized report of one day's cycle. Written once per
// fire; read back only to avoid double-firing on the same date.
type RunRecord struct {
	Date        string    `json:"date"` // "2006-01-02" in the schedule zone
	Outcome     string    `json:"outcome"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Attempts    int       `json:"attempts"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// Store is the minimal persistence API used by the agent.
type Store interface {
	PutRun(ctx context.Context, r RunRecord) error
	GetRun(ctx context.Context, date string) (RunRecord, bool, error)
	PutLastFireDate(ctx context.Context, date string) error
	GetLastFireDate(ctx context.Context) (string, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if persistence is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
