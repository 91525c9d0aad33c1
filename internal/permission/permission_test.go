package permission

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestAllowAndDenyPolicies(t *testing.T) {
	ctx := context.Background()
	if err := NewGate(Allow).Request(ctx, Camera); err != nil {
		t.Errorf("allow: %v", err)
	}
	err := NewGate(Deny).Request(ctx, Location)
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("deny: %v", err)
	}
	if !strings.Contains(err.Error(), "location") {
		t.Errorf("error should name the kind: %v", err)
	}
}

func TestPromptIsAskedOncePerKind(t *testing.T) {
	var out bytes.Buffer
	g := NewGate(Prompt, WithIO(strings.NewReader("y\nno\n"), &out))
	ctx := context.Background()

	if err := g.Request(ctx, Camera); err != nil {
		t.Fatalf("camera: %v", err)
	}
	if err := g.Request(ctx, Camera); err != nil {
		t.Fatalf("camera again: %v", err)
	}
	if err := g.Request(ctx, Microphone); !errors.Is(err, ErrDenied) {
		t.Fatalf("microphone: %v", err)
	}
	if n := strings.Count(out.String(), "Allow? [y/N]"); n != 2 {
		t.Errorf("prompted %d times, want 2", n)
	}
	if granted, decided := g.Granted(Microphone); granted || !decided {
		t.Errorf("Granted(microphone) = %v, %v", granted, decided)
	}
}

func TestPromptEOFDenies(t *testing.T) {
	g := NewGate(Prompt, WithIO(strings.NewReader(""), &bytes.Buffer{}))
	if err := g.Request(context.Background(), Location); !errors.Is(err, ErrDenied) {
		t.Errorf("err = %v", err)
	}
}

func TestResetAsksAgain(t *testing.T) {
	g := NewGate(Prompt, WithIO(strings.NewReader("n\nyes\n"), &bytes.Buffer{}))
	ctx := context.Background()
	if err := g.Request(ctx, Camera); !errors.Is(err, ErrDenied) {
		t.Fatalf("first: %v", err)
	}
	g.Reset(Camera)
	if err := g.Request(ctx, Camera); err != nil {
		t.Errorf("after reset: %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewGate(Allow).Request(ctx, Camera); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}
