// Package control turns out-of-band requests into engine commands: POSIX
// signals and marker files dropped into a command directory.
package control

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/motion"
)

// SignalCommands maps each handled signal to the command it requests.
var SignalCommands = map[os.Signal]motion.Command{
	syscall.SIGUSR1: motion.CommandForceClip,
	syscall.SIGUSR2: motion.CommandDumpDiagnostics,
}

// HandleSignals queues a command for every SIGUSR1/SIGUSR2 received until ctx
// is cancelled. It returns immediately.
func HandleSignals(ctx context.Context, cmds *motion.Commands) {
	ch := make(chan os.Signal, 4)
	for sig := range SignalCommands {
		signal.Notify(ch, sig)
	}
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				cmd := SignalCommands[sig]
				monitoring.Logf("[control] %v: requesting %v", sig, cmd)
				cmds.Request(cmd)
			}
		}
	}()
}
