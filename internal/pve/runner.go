package pve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// Runner executes a validated command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// CommandError reports a command that ran and exited unsuccessfully, or
// could not be started.
type CommandError struct {
	Command  Command
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s %s: %s", e.Command.Name, firstArg(e.Command), msg)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func firstArg(c Command) string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	log logr.Logger
}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner(log logr.Logger) *ExecRunner {
	return &ExecRunner{log: log}
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	r.log.V(2).Info("ran command", "command", cmd.String(), "duration", time.Since(start).String())

	if err != nil {
		cmdErr := &CommandError{Command: cmd, ExitCode: -1, Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}
		return stdout.Bytes(), cmdErr
	}
	return stdout.Bytes(), nil
}
