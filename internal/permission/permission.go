// Package permission gates access to the camera, microphone and location.
package permission

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Kind is a device capability that needs the user's consent.
type Kind string

const (
	Camera     Kind = "camera"
	Microphone Kind = "microphone"
	Location   Kind = "location"
)

// Policy decides how requests are answered.
type Policy string

const (
	// Allow grants every request without asking
	Allow Policy = "allow"
	// Deny refuses every request
	Deny Policy = "deny"
	// Prompt asks the user once per kind per process
	Prompt Policy = "prompt"
)

// ErrDenied is returned when the user or policy refuses access.
var ErrDenied = errors.New("permission denied")

// Gate answers permission requests and remembers decisions for the life of
// the process.
type Gate struct {
	policy Policy
	in     *bufio.Reader
	out    io.Writer
	log    *zap.Logger

	mu        sync.Mutex
	decisions map[Kind]bool
}

// Option configures a Gate.
type Option func(*Gate)

// WithIO sets where prompts are read from and written to. Defaults to
// stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(g *Gate) {
		g.in = bufio.NewReader(in)
		g.out = out
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(g *Gate) { g.log = log.Named("permission") }
}

// NewGate returns a gate applying policy. An unknown policy behaves as
// Prompt.
func NewGate(policy Policy, opts ...Option) *Gate {
	g := &Gate{
		policy:    policy,
		in:        bufio.NewReader(os.Stdin),
		out:       os.Stdout,
		log:       zap.NewNop(),
		decisions: make(map[Kind]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Request asks for access to kind. It returns nil when granted and an error
// wrapping ErrDenied otherwise.
func (g *Gate) Request(ctx context.Context, kind Kind) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	granted, decided := g.decisions[kind]
	if !decided {
		switch g.policy {
		case Allow:
			granted = true
		case Deny:
			granted = false
		default:
			granted = g.prompt(kind)
		}
		g.decisions[kind] = granted
		g.log.Info("permission decided",
			zap.String("kind", string(kind)),
			zap.String("policy", string(g.policy)),
			zap.Bool("granted", granted))
	}

	if !granted {
		return fmt.Errorf("%s: %w", kind, ErrDenied)
	}
	return nil
}

// Granted reports a remembered decision without prompting.
func (g *Gate) Granted(kind Kind) (granted, decided bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	granted, decided = g.decisions[kind]
	return granted, decided
}

// Reset forgets the decision for kind so the next request asks again.
func (g *Gate) Reset(kind Kind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.decisions, kind)
}

// prompt asks the user on the terminal. Anything but y/yes denies.
func (g *Gate) prompt(kind Kind) bool {
	fmt.Fprint(g.out, renderRequest(kind))
	fmt.Fprint(g.out, "Allow? [y/N]: ")

	input, err := g.in.ReadString('\n')
	if err != nil && input == "" {
		fmt.Fprintln(g.out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
