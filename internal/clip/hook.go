package clip

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/motion"
)

// Placeholder is replaced by the clip file name in post-clip commands.
const Placeholder = "<CLIP>"

// RunFunc executes a shell command line and returns its combined output.
type RunFunc func(ctx context.Context, command string) ([]byte, error)

// ShellRun runs command with sh -c.
func ShellRun(ctx context.Context, command string) ([]byte, error) {
	return exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
}

// CommandHook runs a shell command after every closed clip, for example to
// link the clip into a web root. Commands run in the background so that a
// slow command never stalls frame processing.
type CommandHook struct {
	Command string
	Timeout time.Duration
	Run     RunFunc

	wg sync.WaitGroup
}

// NewCommandHook returns a hook running command through the shell.
func NewCommandHook(command string) *CommandHook {
	return &CommandHook{Command: command, Timeout: time.Minute, Run: ShellRun}
}

// Expand substitutes the clip file name into the command.
func (h *CommandHook) Expand(s motion.ClipSummary) (string, bool) {
	sink, ok := SinkOf(s)
	if !ok || h.Command == "" {
		return "", false
	}
	return strings.ReplaceAll(h.Command, Placeholder, filepath.Base(sink.Path())), true
}

// ClipClosed implements motion.ClipObserver.
func (h *CommandHook) ClipClosed(s motion.ClipSummary) {
	cmd, ok := h.Expand(s)
	if !ok {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.Timeout)
		defer cancel()

		monitoring.Logf("[clip] running post-clip command: %s", cmd)
		out, err := h.Run(ctx, cmd)
		if err != nil {
			monitoring.Logf("[clip] post-clip command failed: %v: %s", err, strings.TrimSpace(string(out)))
		}
	}()
}

// Wait blocks until running commands have finished.
func (h *CommandHook) Wait() { h.wg.Wait() }
