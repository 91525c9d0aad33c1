// Package llm is the gateway to the generative model backend.
//
// The Gateway assembles requests (instruction, history, the new user turn,
// an optional attachment, optional tool schemas), picks the model variant,
// retries transport failures and parses the first candidate into a Reply.
// It never executes tools and never touches conversation state.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/neuna/neuna/internal/redact"
)

const (
	// SilentCompletion is the reply text when the backend returned no text,
	// typically because it only asked for a tool call.
	SilentCompletion = "Task completed silently."

	// DegradedReply is shown in place of a reply when the backend call failed.
	DegradedReply = "I encountered an error processing that request. My vision sensors might be incompatible with my toolset."
)

var (
	// ErrInvalidRequest is returned when a request has neither text nor attachment.
	ErrInvalidRequest = errors.New("invalid request: text or attachment required")
	// ErrTransport wraps any failure reaching or parsing the backend.
	ErrTransport = errors.New("model backend unavailable")

	errEmptyResponse = errors.New("backend returned no content")
)

// Config selects models and retry behaviour.
type Config struct {
	TextModel   string
	VisionModel string
	AudioModel  string
	// SystemInstruction is used when a request does not carry its own.
	SystemInstruction string
	// Search enables search grounding for requests that ask for it.
	Search     bool
	MaxRetries uint
	// Timeout bounds each backend attempt.
	Timeout time.Duration
	// BackOff overrides the retry schedule. Defaults to exponential.
	BackOff func() backoff.BackOff
}

// Request is one user turn.
type Request struct {
	Text              string
	History           []Turn
	Attachment        *Attachment
	Tools             []ToolDefinition
	SystemInstruction string
	Search            bool
}

// Reply is the parsed backend answer.
type Reply struct {
	Text            string         `json:"text"`
	Silent          bool           `json:"silent,omitempty"`
	Grounding       []GroundingRef `json:"grounding,omitempty"`
	PendingToolCall *ToolCall      `json:"pending_tool_call,omitempty"`
	Model           string         `json:"model"`
}

// FollowUp is the second hop of a tool call: the original user text, the
// model's call, and the local result.
type FollowUp struct {
	UserText          string
	Call              ToolCall
	Result            any
	SystemInstruction string
}

// Gateway sends requests to a Backend.
type Gateway struct {
	backend Backend
	cfg     Config
	log     *zap.Logger
}

// NewGateway returns a gateway using backend. Empty model names fall back to
// the Gemini defaults.
func NewGateway(backend Backend, cfg Config, log *zap.Logger) *Gateway {
	if cfg.TextModel == "" {
		cfg.TextModel = "gemini-2.5-flash"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = "gemini-2.5-flash-image"
	}
	if cfg.AudioModel == "" {
		cfg.AudioModel = cfg.TextModel
	}
	if cfg.SystemInstruction == "" {
		cfg.SystemInstruction = SystemInstruction
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BackOff == nil {
		cfg.BackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{backend: backend, cfg: cfg, log: log.Named("gateway")}
}

// BackendName returns the name of the underlying backend.
func (g *Gateway) BackendName() string { return g.backend.Name() }

// Health checks the backend.
func (g *Gateway) Health(ctx context.Context) (*HealthResult, error) {
	return g.backend.Health(ctx)
}

// ModelFor returns the model variant used for a request with attachment a.
func (g *Gateway) ModelFor(a *Attachment) string {
	switch {
	case a.IsAudio():
		return g.cfg.AudioModel
	case a != nil:
		return g.cfg.VisionModel
	default:
		return g.cfg.TextModel
	}
}

// Send performs one request. Tools and search are only sent when there is
// no attachment.
func (g *Gateway) Send(ctx context.Context, req Request) (*Reply, error) {
	hasText := strings.TrimSpace(req.Text) != ""
	if !hasText && req.Attachment == nil {
		return nil, ErrInvalidRequest
	}

	gen := &GenerateRequest{
		Model:             g.ModelFor(req.Attachment),
		SystemInstruction: g.instruction(req.SystemInstruction),
		Turns:             make([]Turn, 0, len(req.History)+1),
	}
	gen.Turns = append(gen.Turns, req.History...)

	user := Turn{Role: RoleUser}
	if req.Attachment != nil {
		user.Parts = append(user.Parts, Part{Attachment: req.Attachment})
	}
	if hasText {
		user.Parts = append(user.Parts, Part{Text: req.Text})
	}
	gen.Turns = append(gen.Turns, user)

	if req.Attachment == nil {
		gen.Tools = req.Tools
		gen.Search = req.Search && g.cfg.Search
	}

	resp, err := g.generate(ctx, gen)
	if err != nil {
		return nil, err
	}
	return buildReply(gen.Model, resp), nil
}

// FollowUp sends the tool result back and returns the model's final reply.
// It carries the system instruction but no tools.
func (g *Gateway) FollowUp(ctx context.Context, f FollowUp) (*Reply, error) {
	if f.Call.Function.Name == "" {
		return nil, fmt.Errorf("%w: follow-up without a tool call", ErrInvalidRequest)
	}

	call := f.Call
	var turns []Turn
	if strings.TrimSpace(f.UserText) != "" {
		turns = append(turns, TextTurn(RoleUser, f.UserText))
	}
	turns = append(turns,
		Turn{Role: RoleModel, Parts: []Part{{ToolCall: &call}}},
		Turn{Role: RoleUser, Parts: []Part{{ToolResponse: &ToolResponse{
			CallID:   call.ID,
			Name:     call.Function.Name,
			Response: map[string]any{"result": f.Result},
		}}}},
	)

	gen := &GenerateRequest{
		Model:             g.cfg.TextModel,
		SystemInstruction: g.instruction(f.SystemInstruction),
		Turns:             turns,
	}
	resp, err := g.generate(ctx, gen)
	if err != nil {
		return nil, err
	}
	return buildReply(gen.Model, resp), nil
}

func (g *Gateway) instruction(override string) string {
	if override != "" {
		return override
	}
	return g.cfg.SystemInstruction
}

func (g *Gateway) generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	attempt := 0
	op := func() (*GenerateResponse, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		resp, err := g.backend.Generate(callCtx, req)
		if err == nil && (resp == nil || len(resp.Parts) == 0) {
			err = errEmptyResponse
		}
		if err == nil {
			return resp, nil
		}

		var perm *PermanentError
		if ctx.Err() != nil || errors.As(err, &perm) {
			return nil, backoff.Permanent(err)
		}
		g.log.Warn("backend call failed",
			zap.String("backend", g.backend.Name()),
			zap.String("model", req.Model),
			zap.Int("attempt", attempt),
			redact.Err(err))
		return nil, err
	}

	start := time.Now()
	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(g.cfg.BackOff()),
		backoff.WithMaxTries(g.cfg.MaxRetries))
	if err != nil {
		g.log.Error("backend request failed",
			zap.String("backend", g.backend.Name()),
			zap.String("model", req.Model),
			zap.Int("attempts", attempt),
			redact.Err(err))
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	g.log.Debug("backend request ok",
		zap.String("model", req.Model),
		zap.Int("parts", len(resp.Parts)),
		zap.Duration("took", time.Since(start)))
	return resp, nil
}

func buildReply(model string, resp *GenerateResponse) *Reply {
	r := &Reply{Model: model, Grounding: dedupeGrounding(resp.Grounding)}
	for _, p := range resp.Parts {
		if r.Text == "" && strings.TrimSpace(p.Text) != "" {
			r.Text = p.Text
		}
		if r.PendingToolCall == nil && p.ToolCall != nil {
			call := *p.ToolCall
			if call.Type == "" {
				call.Type = "function"
			}
			r.PendingToolCall = &call
		}
	}
	if r.Text == "" {
		r.Text = SilentCompletion
		r.Silent = true
	}
	return r
}

func dedupeGrounding(refs []GroundingRef) []GroundingRef {
	if len(refs) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(refs))
	out := make([]GroundingRef, 0, len(refs))
	for _, ref := range refs {
		if ref.URI == "" || seen[ref.URI] {
			continue
		}
		seen[ref.URI] = true
		out = append(out, ref)
	}
	return out
}

// DisplayText is the user-facing text for a Send or FollowUp outcome: the
// reply on success, the in-character apology on any failure.
func DisplayText(reply *Reply, err error) string {
	if err != nil || reply == nil {
		return DegradedReply
	}
	return reply.Text
}
