package control

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/motion"
)

// WatchDir queues a command for every file created in dir whose name, minus
// any extension, is a command name ("trigger", "dump", ...). Handled files
// are removed. Files present when WatchDir starts are handled first.
// WatchDir blocks until ctx is cancelled.
func WatchDir(ctx context.Context, dir string, cmds *motion.Commands) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create command dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch command dir: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read command dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			handleFile(filepath.Join(dir, e.Name()), cmds)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			handleFile(event.Name, cmds)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			monitoring.Logf("[control] watcher error: %v", err)
		}
	}
}

// CommandFromFile maps a dropped file name to a command.
func CommandFromFile(path string) (motion.Command, error) {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return motion.ParseCommand(strings.ToLower(name))
}

func handleFile(path string, cmds *motion.Commands) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	cmd, err := CommandFromFile(path)
	if err != nil {
		monitoring.Debugf("[control] ignoring %s: %v", path, err)
		return
	}
	// A Write event may follow the Create for the same file.
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			monitoring.Logf("[control] failed to remove %s: %v", path, err)
		}
		return
	}
	monitoring.Logf("[control] %s: requesting %v", filepath.Base(path), cmd)
	cmds.Request(cmd)
}
