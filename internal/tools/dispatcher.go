package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/neuna/neuna/internal/llm"
	"github.com/neuna/neuna/internal/redact"
)

// FollowUpSender sends the second hop of a tool call.
type FollowUpSender interface {
	FollowUp(ctx context.Context, f llm.FollowUp) (*llm.Reply, error)
}

// Dispatcher executes pending tool calls and completes the two-hop exchange.
type Dispatcher struct {
	registry *Registry
	gateway  FollowUpSender
	log      *zap.Logger
}

// NewDispatcher creates a dispatcher resolving calls against registry and
// sending follow-ups through gateway.
func NewDispatcher(registry *Registry, gateway FollowUpSender, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{registry: registry, gateway: gateway, log: log.Named("tools")}
}

// Resolve executes call and returns its result. Unknown tools and bad
// arguments become failed results, never errors.
func (d *Dispatcher) Resolve(ctx context.Context, call llm.ToolCall) Result {
	res, _ := d.resolve(ctx, call)
	return res
}

func (d *Dispatcher) resolve(ctx context.Context, call llm.ToolCall) (Result, Undo) {
	name := call.Function.Name
	h, ok := d.registry.Get(name)
	if !ok {
		d.log.Warn("unknown tool", zap.String("tool", name))
		return Result{Success: false, Message: MsgDeviceNotFound}, noUndo
	}

	start := time.Now()
	res, undo, err := h.Run(ctx, json.RawMessage(call.Function.Arguments))
	if err != nil {
		d.log.Warn("invalid tool arguments",
			zap.String("tool", name),
			zap.String("args", call.Function.Arguments),
			zap.Error(err))
		return Result{Success: false, Message: fmt.Sprintf("Invalid arguments for %s: %v", name, err)}, noUndo
	}
	if undo == nil {
		undo = noUndo
	}

	d.log.Info("tool executed",
		zap.String("tool", name),
		zap.Bool("success", res.Success),
		zap.String("message", res.Message),
		zap.Duration("took", time.Since(start)))
	return res, undo
}

// Complete finishes a reply that carries a pending tool call: it runs the
// tool, sends the result back, and returns the model's final reply. Replies
// without a call are returned as is. If the follow-up fails, the tool's
// changes are rolled back and the follow-up error is returned.
func (d *Dispatcher) Complete(ctx context.Context, userText string, reply *llm.Reply) (*llm.Reply, error) {
	if reply == nil || reply.PendingToolCall == nil {
		return reply, nil
	}
	call := *reply.PendingToolCall

	res, undo := d.resolve(ctx, call)
	final, err := d.gateway.FollowUp(ctx, llm.FollowUp{
		UserText: userText,
		Call:     call,
		Result:   res,
	})
	if err != nil {
		undo()
		d.log.Warn("follow-up failed, tool changes rolled back",
			zap.String("tool", call.Function.Name),
			redact.Err(err))
		return nil, err
	}
	return final, nil
}
