package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/motion.report/internal/monitoring"
)

// Watch reloads the configuration file at path whenever it is written and
// passes each valid result to onChange. Invalid edits are logged and
// skipped. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}

	const debounceDelay = 100 * time.Millisecond
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			monitoring.Logf("[config] ignoring change to %s: %v", path, err)
			return
		}
		onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			monitoring.Logf("[config] watcher error: %v", err)
		}
	}
}

// Diff lists the engine parameters that differ between two configurations.
// Engine parameters apply only at startup, so a changed file is reported
// rather than applied.
func Diff(old, new *Config) []string {
	var changes []string
	add := func(name string, a, b int) {
		if a != b {
			changes = append(changes, fmt.Sprintf("%s %d -> %d", name, a, b))
		}
	}
	add("trigger_point", old.GetTriggerPoint(), new.GetTriggerPoint())
	add("trigger_point_base", old.GetTriggerPointBase(), new.GetTriggerPointBase())
	add("movement_window", old.GetMovementWindow(), new.GetMovementWindow())
	add("movement_window_age", old.GetMovementWindowAge(), new.GetMovementWindowAge())
	add("pre_frames", old.GetPreFrames(), new.GetPreFrames())
	add("post_frames", old.GetPostFrames(), new.GetPostFrames())
	return changes
}
