package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Dicklesworthstone/dappcheck/internal/config"
)

const watchDebounce = 300 * time.Millisecond

// watchAndRun runs once, then again after every burst of changes to the
// scenarios directory, until ctx is cancelled.
func watchAndRun(ctx context.Context, cfg config.Config, f *runFlags, stdout, stderr io.Writer) error {
	dir := cfg.Run.ScenariosDir
	if dir == "" {
		return errors.New("--watch needs a scenarios directory (--scenarios or run.scenarios_dir)")
	}
	logger := newLogger(cfg, stderr, "watch")

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	rerun := func() {
		if _, err := runOnce(ctx, cfg, f, stdout, stderr); err != nil {
			logger.Error("run failed", "error", err)
		}
		logger.Info("waiting for changes", "dir", dir)
	}
	rerun()

	var (
		timer   *time.Timer
		trigger <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isScenarioFile(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			logger.Debug("change", "file", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			trigger = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		case <-trigger:
			trigger = nil
			rerun()
		}
	}
}

func isScenarioFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
