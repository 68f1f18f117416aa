package control

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motion.report/internal/motion"
)

// waitFor polls the queue until cond holds for the drained flags.
func waitFor(t *testing.T, cmds *motion.Commands, wantForce, wantDump bool) {
	t.Helper()
	var gotForce, gotDump bool
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		force, dump := cmds.Poll()
		gotForce = gotForce || force
		gotDump = gotDump || dump
		if gotForce == wantForce && gotDump == wantDump {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("commands: got force=%v dump=%v, want force=%v dump=%v", gotForce, gotDump, wantForce, wantDump)
}

func TestCommandFromFile(t *testing.T) {
	tests := []struct {
		path    string
		want    motion.Command
		wantErr bool
	}{
		{path: "/tmp/cmd/trigger", want: motion.CommandForceClip},
		{path: "/tmp/cmd/TRIGGER.txt", want: motion.CommandForceClip},
		{path: "force-clip", want: motion.CommandForceClip},
		{path: "/tmp/cmd/dump", want: motion.CommandDumpDiagnostics},
		{path: "dump-diagnostics.cmd", want: motion.CommandDumpDiagnostics},
		{path: "/tmp/cmd/reboot", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := CommandFromFile(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleSignals(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmds := motion.NewCommands()
	HandleSignals(ctx, cmds)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))
	waitFor(t, cmds, true, false)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR2))
	waitFor(t, cmds, false, true)
}

func TestWatchDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "commands")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	// Present before the watcher starts.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dump"), nil, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cmds := motion.NewCommands()
	done := make(chan error, 1)
	go func() { done <- WatchDir(ctx, dir, cmds) }()

	waitFor(t, cmds, false, true)
	assert.NoFileExists(t, filepath.Join(dir, "dump"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "trigger"), []byte("now"), 0o644))
	waitFor(t, cmds, true, false)
	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "trigger"))
		return os.IsNotExist(err)
	}, 3*time.Second, 10*time.Millisecond)

	// Unknown files are left alone.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	force, dump := cmds.Poll()
	assert.False(t, force)
	assert.False(t, dump)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("WatchDir did not return after cancel")
	}
}
