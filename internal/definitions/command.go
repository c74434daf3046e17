package definitions

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"recurrent/internal/task/engine"
)

// Shell is the interpreter used for command actions.
var Shell = "sh"

const (
	// maxStderr bounds how much stderr is carried into an error message.
	maxStderr = 512
	waitDelay = 2 * time.Second
)

// Command returns an action that runs cmdline with `sh -c`. The trimmed
// stdout is the return value. Cancelling ctx kills the process.
func Command(cmdline string) engine.Func {
	return func(ctx context.Context) (any, error) {
		cmd := exec.CommandContext(ctx, Shell, "-c", cmdline)
		cmd.WaitDelay = waitDelay
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("command interrupted: %w", ctx.Err())
			}
			msg := strings.TrimSpace(stderr.String())
			if len(msg) > maxStderr {
				msg = msg[:maxStderr] + "..."
			}
			if msg != "" {
				return nil, fmt.Errorf("command failed: %w: %s", err, msg)
			}
			return nil, fmt.Errorf("command failed: %w", err)
		}
		return strings.TrimSpace(stdout.String()), nil
	}
}
