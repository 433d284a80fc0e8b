package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/astracloud/astra-extras/internal/job"
	"github.com/astracloud/astra-extras/internal/platform"
)

const (
	exitOK = 0
	// exitOrchestration flags failures of the tool itself, as opposed to
	// failures of the work it orchestrates.
	exitOrchestration = 125
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

// exitCode maps an execution error to the process exit code: remote job
// and subprocess failures mirror the underlying exit code, everything
// else is an orchestration failure.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var remoteErr *job.RemoteJobError
	if errors.As(err, &remoteErr) && remoteErr.HasExitCode && remoteErr.ExitCode != 0 {
		return remoteErr.ExitCode
	}
	if code := platform.ExitCode(err); code > 0 {
		return code
	}
	return exitOrchestration
}

func isCancelled(err error) bool {
	return errors.Is(err, job.ErrJobCancelled) || errors.Is(err, context.Canceled)
}

// errExitCode extracts the remote job's exit code when the error carries
// one.
func errExitCode(err error) (int, bool) {
	var remoteErr *job.RemoteJobError
	if errors.As(err, &remoteErr) && remoteErr.HasExitCode {
		return remoteErr.ExitCode, true
	}
	return 0, false
}
