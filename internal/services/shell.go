package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/exporter/internal/shared"
)

// maxCapturedOutput bounds how much stderr is kept for error messages.
const maxCapturedOutput = 8 << 10

// Command is an external process invocation.
type Command struct {
	Name       string
	Args       []string
	Env        []string // extra KEY=VALUE entries added to the current environment
	OutputPath string   // stdout is written here when set, otherwise captured
	MaxTries   int
	BaseDelay  time.Duration
	Logger     *log.Logger
}

// String renders the command line for logs, with the output redirect.
func (c Command) String() string {
	parts := append([]string{c.Name}, c.Args...)
	s := strings.Join(parts, " ")
	if c.OutputPath != "" {
		s += " > " + c.OutputPath
	}
	return s
}

// ExitError reports a failed command together with the tail of its error stream.
type ExitError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command %q failed: %v: %s", e.Command, e.Err, e.Stderr)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Execute runs cmd, retrying up to cmd.MaxTries times.
//
// A missing executable returns [shared.ErrMissingExecutable] without retrying.
func Execute(ctx context.Context, cmd Command) error {
	path, err := exec.LookPath(cmd.Name)
	if err != nil {
		return fmt.Errorf("%w: %s", shared.ErrMissingExecutable, cmd.Name)
	}

	attempt := 0
	return shared.Retry(ctx, cmd.MaxTries, cmd.BaseDelay, func(ctx context.Context) error {
		attempt++
		err := runOnce(ctx, path, cmd)
		if err != nil && cmd.Logger != nil {
			cmd.Logger.Warn("command failed", "command", cmd.Name, "attempt", attempt, "error", err)
		}
		return err
	})
}

func runOnce(ctx context.Context, path string, cmd Command) (err error) {
	c := exec.CommandContext(ctx, path, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)

	stderr := &tailBuffer{limit: maxCapturedOutput}
	c.Stderr = stderr

	if cmd.OutputPath != "" {
		out, err := os.Create(cmd.OutputPath)
		if err != nil {
			return fmt.Errorf("failed to create output %s: %w", cmd.OutputPath, err)
		}
		defer func() {
			if cerr := out.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("failed to close output %s: %w", cmd.OutputPath, cerr)
			}
		}()
		c.Stdout = out
	} else {
		c.Stdout = io.Discard
	}

	if err := c.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("failed to start %s: %w", cmd.Name, err)
		}
		return &ExitError{Command: cmd.String(), Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
