package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "rewardsd/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	date         TEXT PRIMARY KEY,
	outcome      TEXT NOT NULL,
	tx_hash      TEXT,
	attempts     INTEGER NOT NULL,
	finalized_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const lastFireKey = "last_fire_date"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.FinalizedAt.IsZero() {
		r.FinalizedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(date, outcome, tx_hash, attempts, finalized_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(date) DO UPDATE SET
		   outcome=excluded.outcome, tx_hash=excluded.tx_hash,
		   attempts=excluded.attempts, finalized_at=excluded.finalized_at`,
		r.Date, r.Outcome, nullStr(r.TxHash), r.Attempts, r.FinalizedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetRun(ctx context.Context, date string) (RunRecord, bool, error) {
	if s == nil || s.db == nil {
		return RunRecord{}, false, ErrDisabled
	}
	var (
		r      RunRecord
		txHash sql.NullString
		at     string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT date, outcome, tx_hash, attempts, finalized_at FROM runs WHERE date = ?`, date,
	).Scan(&r.Date, &r.Outcome, &txHash, &r.Attempts, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, err
	}
	r.TxHash = txHash.String
	if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
		r.FinalizedAt = t
	}
	return r, true, nil
}

func (s *sqliteStore) PutLastFireDate(ctx context.Context, date string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		lastFireKey, date,
	)
	return err
}

func (s *sqliteStore) GetLastFireDate(ctx context.Context) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrDisabled
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, lastFireKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
