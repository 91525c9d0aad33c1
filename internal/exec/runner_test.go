package exec

import (
	"context"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if !CommandExists("sh") {
		t.Skip("sh not available")
	}
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	requireShell(t)
	r := NewRunner()

	res := r.Run(context.Background(), "sh", "-c", "echo hello; echo oops >&2; exit 3")
	if res.OK() {
		t.Fatal("expected failure")
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "hello" || strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("stdout = %q, stderr = %q", res.Stdout, res.Stderr)
	}
}

func TestRunSimpleIncludesStderr(t *testing.T) {
	requireShell(t)
	out, err := RunSimple(context.Background(), NewRunner(), "sh", "-c", "echo ok")
	if err != nil || out != "ok" {
		t.Errorf("RunSimple = %q, %v", out, err)
	}

	_, err = RunSimple(context.Background(), NewRunner(), "sh", "-c", "echo no voice >&2; exit 1")
	if err == nil || !strings.Contains(err.Error(), "no voice") {
		t.Errorf("err = %v, want stderr tail", err)
	}
}

func TestRunTimeout(t *testing.T) {
	requireShell(t)
	res := NewRunner().RunWithTimeout(context.Background(), 50*time.Millisecond, "sh", "-c", "sleep 5")
	if !res.TimedOut || res.Canceled {
		t.Errorf("result = %+v, want timed out", res)
	}
}

func TestRunCanceled(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	res := NewRunner().Run(ctx, "sh", "-c", "sleep 5")
	if !res.Canceled || res.TimedOut {
		t.Errorf("result = %+v, want canceled", res)
	}
	if res.Duration > 4*time.Second {
		t.Errorf("process was not killed promptly: %s", res.Duration)
	}
}

func TestLastLines(t *testing.T) {
	if got := lastLines("a\nb\nc\n", 2); got != "b\nc" {
		t.Errorf("lastLines = %q", got)
	}
	if got := lastLines("a", 5); got != "a" {
		t.Errorf("lastLines = %q", got)
	}
}

func TestStderrTail(t *testing.T) {
	requireShell(t)
	res := NewRunner().Run(context.Background(), "sh", "-c", "printf 'one\\ntwo\\nthree\\n' >&2; exit 2")
	if res.OK() {
		t.Fatal("expected failure")
	}
	if got := res.StderrTail(2); got != "two\nthree" {
		t.Errorf("StderrTail(2) = %q", got)
	}
	if got := res.StderrTail(0); got != "" {
		t.Errorf("StderrTail(0) = %q", got)
	}
}

func TestCappedDropsOverflow(t *testing.T) {
	var c capped
	big := strings.Repeat("x", maxCapture+10)
	n, err := c.Write([]byte(big))
	if err != nil || n != len(big) {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if c.Len() != maxCapture {
		t.Errorf("kept %d bytes, want %d", c.Len(), maxCapture)
	}
}
