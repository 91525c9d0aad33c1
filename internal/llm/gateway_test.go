package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v5"
)

// scriptedBackend replays canned responses and records every request.
type scriptedBackend struct {
	mu        sync.Mutex
	responses []*GenerateResponse
	errs      []error
	requests  []*GenerateRequest
}

func (s *scriptedBackend) Name() string { return "scripted" }

func (s *scriptedBackend) Health(context.Context) (*HealthResult, error) {
	return &HealthResult{Ok: true, Provider: "scripted"}, nil
}

func (s *scriptedBackend) Generate(_ context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return textResponse("ok"), nil
}

func (s *scriptedBackend) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestGateway(b Backend, retries uint) *Gateway {
	return NewGateway(b, Config{
		Search:     true,
		MaxRetries: retries,
		BackOff:    func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}, nil)
}

func TestSendWithoutTextOrAttachmentIsInvalid(t *testing.T) {
	b := &scriptedBackend{}
	g := newTestGateway(b, 3)

	for _, text := range []string{"", "   \n"} {
		_, err := g.Send(context.Background(), Request{Text: text, Tools: GetToolDefinitions()})
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Send(%q) err = %v, want ErrInvalidRequest", text, err)
		}
	}
	if b.calls() != 0 {
		t.Errorf("invalid request reached the backend %d times", b.calls())
	}
}

func TestSendTextUsesToolsAndTextModel(t *testing.T) {
	b := &scriptedBackend{}
	g := newTestGateway(b, 1)

	history := []Turn{TextTurn(RoleUser, "hi"), TextTurn(RoleModel, "hey")}
	_, err := g.Send(context.Background(), Request{
		Text:    "turn on the lights",
		History: history,
		Tools:   GetToolDefinitions(),
		Search:  true,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	req := b.requests[0]
	if req.Model != "gemini-2.5-flash" {
		t.Errorf("model = %q, want text model", req.Model)
	}
	if len(req.Tools) != 2 {
		t.Errorf("tools = %d, want 2", len(req.Tools))
	}
	if !req.Search {
		t.Error("search should be enabled for text requests")
	}
	if len(req.Turns) != 3 || req.Turns[2].Parts[0].Text != "turn on the lights" {
		t.Errorf("turns = %+v", req.Turns)
	}
	if req.SystemInstruction != SystemInstruction {
		t.Error("default system instruction not applied")
	}
}

func TestSendWithAttachmentDropsTools(t *testing.T) {
	b := &scriptedBackend{}
	g := newTestGateway(b, 1)

	img := &Attachment{MIMEType: "image/jpeg", Data: []byte{1, 2, 3}}
	_, err := g.Send(context.Background(), Request{
		Text:       RoastPrompt,
		Attachment: img,
		Tools:      GetToolDefinitions(),
		Search:     true,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	req := b.requests[0]
	if req.Model != "gemini-2.5-flash-image" {
		t.Errorf("model = %q, want vision model", req.Model)
	}
	if len(req.Tools) != 0 || req.Search {
		t.Error("tools and search must not be sent with an attachment")
	}
	parts := req.Turns[len(req.Turns)-1].Parts
	if len(parts) != 2 || parts[0].Attachment != img || parts[1].Text != RoastPrompt {
		t.Errorf("user parts = %+v", parts)
	}
}

func TestSendAudioOnlyUsesAudioModel(t *testing.T) {
	b := &scriptedBackend{}
	g := NewGateway(b, Config{AudioModel: "audio-model"}, nil)

	_, err := g.Send(context.Background(), Request{Attachment: &Attachment{MIMEType: "audio/wav", Data: []byte{0}}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if b.requests[0].Model != "audio-model" {
		t.Errorf("model = %q", b.requests[0].Model)
	}
}

func TestReplyTakesFirstTextAndToolCall(t *testing.T) {
	call := &ToolCall{ID: "c1", Function: FunctionCall{Name: ToolSetThermostat, Arguments: `{"temperature":68}`}}
	b := &scriptedBackend{responses: []*GenerateResponse{{
		Parts: []Part{{Text: "  "}, {Text: "first"}, {ToolCall: call}, {Text: "second"}},
		Grounding: []GroundingRef{
			{URI: "https://a.example"}, {URI: "https://a.example"}, {URI: "https://b.example", Title: "B"},
		},
	}}}
	g := newTestGateway(b, 1)

	reply, err := g.Send(context.Background(), Request{Text: "q"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Text != "first" || reply.Silent {
		t.Errorf("reply = %+v", reply)
	}
	if reply.PendingToolCall == nil || reply.PendingToolCall.Function.Name != ToolSetThermostat {
		t.Fatalf("pending tool call = %+v", reply.PendingToolCall)
	}
	if reply.PendingToolCall.Type != "function" {
		t.Errorf("tool call type = %q", reply.PendingToolCall.Type)
	}
	if len(reply.Grounding) != 2 {
		t.Errorf("grounding = %+v, want 2 unique refs", reply.Grounding)
	}
}

func TestReplyWithOnlyToolCallIsSilent(t *testing.T) {
	b := &scriptedBackend{responses: []*GenerateResponse{{
		Parts: []Part{{ToolCall: &ToolCall{ID: "c1", Function: FunctionCall{Name: ToolSetLightState}}}},
	}}}
	g := newTestGateway(b, 1)

	reply, err := g.Send(context.Background(), Request{Text: "lights"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Text != SilentCompletion || !reply.Silent {
		t.Errorf("reply = %+v, want silent completion", reply)
	}
}

func TestTransportFailureRetriesThenWraps(t *testing.T) {
	boom := errors.New("connection reset")
	b := &scriptedBackend{errs: []error{boom, boom, boom}}
	g := newTestGateway(b, 3)

	reply, err := g.Send(context.Background(), Request{Text: "hello"})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, should wrap the cause", err)
	}
	if b.calls() != 3 {
		t.Errorf("backend called %d times, want 3", b.calls())
	}
	if got := DisplayText(reply, err); got != DegradedReply {
		t.Errorf("DisplayText = %q, want degraded reply", got)
	}
}

func TestTransportRecoversOnRetry(t *testing.T) {
	b := &scriptedBackend{
		errs:      []error{errors.New("503")},
		responses: []*GenerateResponse{nil, textResponse("back online")},
	}
	g := newTestGateway(b, 3)

	reply, err := g.Send(context.Background(), Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if DisplayText(reply, err) != "back online" {
		t.Errorf("reply = %q", reply.Text)
	}
}

func TestEmptyResponseIsTransportFailure(t *testing.T) {
	b := &scriptedBackend{responses: []*GenerateResponse{{}}}
	g := newTestGateway(b, 1)

	if _, err := g.Send(context.Background(), Request{Text: "hello"}); !errors.Is(err, ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	b := &scriptedBackend{errs: []error{&PermanentError{Err: errors.New("bad key")}}}
	g := newTestGateway(b, 5)

	if _, err := g.Send(context.Background(), Request{Text: "hello"}); !errors.Is(err, ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
	if b.calls() != 1 {
		t.Errorf("backend called %d times, want 1", b.calls())
	}
}

func TestFollowUpShape(t *testing.T) {
	b := &scriptedBackend{responses: []*GenerateResponse{textResponse("Office light is on.")}}
	g := newTestGateway(b, 1)

	call := ToolCall{ID: "c1", Type: "function", Function: FunctionCall{Name: ToolSetLightState, Arguments: `{"deviceName":"office","state":true}`}}
	result := map[string]any{"success": false, "message": "Device not found."}
	reply, err := g.FollowUp(context.Background(), FollowUp{UserText: "turn on office light", Call: call, Result: result})
	if err != nil {
		t.Fatalf("FollowUp: %v", err)
	}
	if reply.Text != "Office light is on." {
		t.Errorf("reply = %q", reply.Text)
	}

	req := b.requests[0]
	if len(req.Tools) != 0 || req.Search {
		t.Error("follow-up must not carry tools")
	}
	if len(req.Turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(req.Turns))
	}
	if req.Turns[0].Role != RoleUser || req.Turns[0].Parts[0].Text != "turn on office light" {
		t.Errorf("turn 0 = %+v", req.Turns[0])
	}
	if req.Turns[1].Role != RoleModel || req.Turns[1].Parts[0].ToolCall.ID != "c1" {
		t.Errorf("turn 1 = %+v", req.Turns[1])
	}
	resp := req.Turns[2].Parts[0].ToolResponse
	if req.Turns[2].Role != RoleUser || resp == nil || resp.Name != ToolSetLightState {
		t.Fatalf("turn 2 = %+v", req.Turns[2])
	}
	got, ok := resp.Response["result"].(map[string]any)
	if !ok || got["message"] != "Device not found." {
		t.Errorf("tool response = %+v, want result verbatim", resp.Response)
	}
}

func TestFollowUpRequiresCall(t *testing.T) {
	g := newTestGateway(&scriptedBackend{}, 1)
	if _, err := g.FollowUp(context.Background(), FollowUp{UserText: "x"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestDisplayText(t *testing.T) {
	if got := DisplayText(&Reply{Text: "hi"}, nil); got != "hi" {
		t.Errorf("DisplayText = %q", got)
	}
	if got := DisplayText(nil, nil); got != DegradedReply {
		t.Errorf("DisplayText(nil) = %q", got)
	}
}
