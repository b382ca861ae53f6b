//go:build unix

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// foregroundEvents reports job-control changes: false when the terminal
// suspends the process (SIGTSTP), true when it resumes (SIGCONT). The
// channel is closed once ctx ends.
func foregroundEvents(ctx context.Context) <-chan bool {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTSTP, syscall.SIGCONT)

	events := make(chan bool)
	go func() {
		defer close(events)
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				select {
				case events <- sig == syscall.SIGCONT:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events
}

// suspend stops the process the way an unhandled SIGTSTP would.
func suspend() {
	_ = syscall.Kill(os.Getpid(), syscall.SIGSTOP)
}
