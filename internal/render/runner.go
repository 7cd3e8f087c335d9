package render

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// CommandRunner invokes an external binary with a hard wall-clock timeout.
// Strategies depend on this interface so they can be tested without the
// real rasterizers installed.
type CommandRunner interface {
	Run(ctx context.Context, timeout time.Duration, binary string, args ...string) ([]byte, error)
}

// ExecRunner runs commands as killable child processes. A timeout
// terminates the process rather than abandoning it.
type ExecRunner struct{}

var _ CommandRunner = ExecRunner{}

func (ExecRunner) Run(ctx context.Context, timeout time.Duration, binary string, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binary, args...)
	// Give a killed process a moment to release its pipes before Wait
	// gives up on them.
	cmd.WaitDelay = 2 * time.Second

	out, err := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("%w: %s exceeded %v", ErrRenderTimeout, binary, timeout)
	}
	if err != nil {
		return out, fmt.Errorf("%w: %s: %v: %s", ErrRenderFailure, binary, err, out)
	}
	return out, nil
}
