package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "rewardsd/pkg/logx"
)

// WatchSettings re-reads the settings file on change and hands the log
// configuration to apply. Schedule, gas and retry tunables are read once
// at startup; re-pointing those mid-flight would race the active cycle,
// so a restart is required for them.
func WatchSettings(ctx context.Context, path string, log logx.Logger, apply func(logx.Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: editors replace files, which drops a watch
	// installed on the file itself.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	reload := func() {
		s, lerr := loadSettings(path)
		if lerr != nil {
			log.Warn("settings reload failed", logx.String("path", path), logx.Err(lerr))
			return
		}
		cfg := logx.Config{Level: s.LogLevel, Console: true, File: s.LogFile}
		if cfg.Level == "" {
			cfg.Level = "info"
		}
		apply(cfg)
		log.Info("settings reloaded", logx.String("path", path), logx.String("log_level", cfg.Level))
	}

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Editors emit bursts of events per save; coalesce them.
			if debounce == nil {
				debounce = time.NewTimer(250 * time.Millisecond)
			} else {
				debounce.Reset(250 * time.Millisecond)
			}
			fire = debounce.C
		case <-fire:
			fire = nil
			reload()
		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("settings watcher error", logx.Err(werr))
		}
	}
}
