package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "rewardsd/pkg/logx"
)

// fileStore is a dependency-free persistence backend: one JSON snapshot,
// rewritten atomically on every mutation. Write volume is a handful of
// records per day.
type fileStore struct {
	log  logx.Logger
	path string

	mu   sync.Mutex
	data fileSnapshot
}

type fileSnapshot struct {
	LastFireDate string               `json:"last_fire_date,omitempty"`
	Runs         map[string]RunRecord `json:"runs"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path, data: fileSnapshot{Runs: map[string]RunRecord{}}}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Fresh state.
	case err != nil:
		return nil, err
	default:
		if jerr := json.Unmarshal(b, &s.data); jerr != nil {
			return nil, errors.New("corrupt store snapshot: " + jerr.Error())
		}
		if s.data.Runs == nil {
			s.data.Runs = map[string]RunRecord{}
		}
	}
	return s, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) PutRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	if r.FinalizedAt.IsZero() {
		r.FinalizedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Runs[r.Date] = r
	return s.flushLocked()
}

func (s *fileStore) GetRun(ctx context.Context, date string) (RunRecord, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.Runs[date]
	return r, ok, nil
}

func (s *fileStore) PutLastFireDate(ctx context.Context, date string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.LastFireDate = date
	return s.flushLocked()
}

func (s *fileStore) GetLastFireDate(ctx context.Context) (string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.LastFireDate, nil
}

// flushLocked writes the snapshot via rename so a crash mid-write never
// leaves a truncated file behind.
func (s *fileStore) flushLocked() error {
	b, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
