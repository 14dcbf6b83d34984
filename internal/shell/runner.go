// Package shell runs external commands and captures their combined output.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Command describes a single process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

// String renders the command line for logging.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the combined stdout/stderr text and exit code of a finished command.
type Result struct {
	Output   string
	ExitCode int
}

// Success reports whether the command exited with status zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes commands. A non-zero exit is reported through Result, not as an error;
// the error return is reserved for failures to start or wait on the process.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

var _ Runner = &OSRunner{}

// OSRunner executes commands with os/exec, streaming output to the logger at debug level.
type OSRunner struct {
	logger hclog.Logger
}

func NewOSRunner(logger hclog.Logger) *OSRunner {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &OSRunner{logger: logger}
}

func (r *OSRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	dir := cmd.Dir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	r.logger.Info("executing command", "command", cmd.String(), "dir", dir)

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)

	var captured bytes.Buffer
	stream := newLineWriter(r.logger.With("command", cmd.Name))
	out := io.MultiWriter(&captured, stream)
	c.Stdout = out
	c.Stderr = out

	err := c.Run()
	stream.Flush()

	result := Result{Output: strings.TrimSpace(captured.String())}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			r.logger.Debug("command exited with non-zero status", "command", cmd.Name, "exit_code", result.ExitCode)
			return result, nil
		}
		return result, fmt.Errorf("running %q: %w", cmd.String(), err)
	}

	return result, nil
}
