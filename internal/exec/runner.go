// Package exec runs the external helpers behind the device adapters (speech
// synthesizers, audio recorders) with a timeout and output capture.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a helper when the caller gives no timeout
	DefaultTimeout = 2 * time.Minute
	// maxCapture caps what is kept of each output stream
	maxCapture = 256 << 10
	// killGrace is how long a killed helper's children may hold the pipes
	killGrace = time.Second
)

// Result describes one finished helper process.
type Result struct {
	Command  string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Error    error
	// TimedOut is set when the runner's own deadline killed the process
	TimedOut bool
	// Canceled is set when the caller's context ended first
	Canceled bool
}

// Commander runs external commands. Runner is the real implementation;
// adapters take a Commander so tests can fake it.
type Commander interface {
	Run(ctx context.Context, name string, args ...string) *Result
	RunWithTimeout(ctx context.Context, timeout time.Duration, name string, args ...string) *Result
}

// OK reports a zero exit with no error.
func (r *Result) OK() bool {
	return r.ExitCode == 0 && r.Error == nil
}

func (r *Result) String() string {
	var status string
	switch {
	case r.Canceled:
		status = "canceled"
	case r.TimedOut:
		status = "timeout"
	case r.OK():
		status = "ok"
	default:
		status = fmt.Sprintf("exit %d", r.ExitCode)
	}
	return fmt.Sprintf("%s %s [%s, %s]", r.Command, strings.Join(r.Args, " "), status, r.Duration.Round(time.Millisecond))
}

// StderrTail returns the last n lines of stderr, for logging a failure.
func (r *Result) StderrTail(n int) string {
	return lastLines(r.Stderr, n)
}

// lastLines returns at most n trailing lines of s.
func lastLines(s string, n int) string {
	if n <= 0 {
		return ""
	}
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Runner starts helpers with exec.CommandContext.
type Runner struct {
	Timeout time.Duration
}

// NewRunner returns a Runner using DefaultTimeout.
func NewRunner() *Runner {
	return &Runner{Timeout: DefaultTimeout}
}

// Run executes name with the runner's timeout.
func (r *Runner) Run(ctx context.Context, name string, args ...string) *Result {
	return r.RunWithTimeout(ctx, r.Timeout, name, args...)
}

// RunWithTimeout executes name, killing it when timeout passes or ctx ends.
func (r *Runner) RunWithTimeout(ctx context.Context, timeout time.Duration, name string, args ...string) *Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	res := &Result{Command: name, Args: args}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr capped
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.WaitDelay = killGrace
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	switch {
	case ctx.Err() != nil:
		res.Canceled = true
		res.Error = ctx.Err()
		res.ExitCode = -1
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.Error = fmt.Errorf("%s timed out after %s", name, timeout)
		res.ExitCode = -1
	case err != nil:
		res.Error = err
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
	}
	return res
}

// RunSimple runs name on c and returns its trimmed stdout. A failure
// carries the tail of stderr.
func RunSimple(ctx context.Context, c Commander, name string, args ...string) (string, error) {
	res := c.Run(ctx, name, args...)
	if !res.OK() {
		return "", fmt.Errorf("%s: %w: %s", name, res.Error, strings.TrimSpace(res.StderrTail(5)))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// CommandExists reports whether name is on PATH.
func CommandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// FirstAvailable returns the first of names found on PATH.
func FirstAvailable(names ...string) (string, bool) {
	for _, name := range names {
		if CommandExists(name) {
			return name, true
		}
	}
	return "", false
}

// capped is a buffer that silently drops everything past maxCapture.
type capped struct {
	bytes.Buffer
}

func (c *capped) Write(p []byte) (int, error) {
	if room := maxCapture - c.Len(); room < len(p) {
		if room > 0 {
			c.Buffer.Write(p[:room])
		}
		return len(p), nil
	}
	return c.Buffer.Write(p)
}
