package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// EchoBackend is an offline backend for demos and tests. It understands
// "turn on/off <device>" and "set the thermostat to <n>" well enough to
// exercise tool calling, and echoes everything else.
type EchoBackend struct{}

// NewEchoBackend creates a new echo backend
func NewEchoBackend() *EchoBackend {
	return &EchoBackend{}
}

var (
	echoLightPattern  = regexp.MustCompile(`(?i)\bturn\s+(on|off)\s+(?:the\s+)?(.+?)(?:\s+lights?)?\s*[.!?]*$`)
	echoThermoPattern = regexp.MustCompile(`(?i)\b(?:thermostat|temperature|ac)\b.*?(-?\d+(?:\.\d+)?)`)
)

func (e *EchoBackend) Name() string { return "echo" }

func (e *EchoBackend) Health(ctx context.Context) (*HealthResult, error) {
	return &HealthResult{
		Ok:       true,
		Provider: "echo",
		BaseURL:  "local",
		Model:    "echo-mock",
	}, nil
}

func (e *EchoBackend) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if len(req.Turns) == 0 {
		return nil, &PermanentError{Err: fmt.Errorf("echo: no turns")}
	}
	last := req.Turns[len(req.Turns)-1]

	var (
		text       string
		attachment *Attachment
	)
	for _, p := range last.Parts {
		switch {
		case p.ToolResponse != nil:
			return textResponse("Done. " + toolResultMessage(p.ToolResponse)), nil
		case p.Attachment != nil:
			attachment = p.Attachment
		case p.Text != "":
			text = p.Text
		}
	}

	if attachment != nil {
		if attachment.IsAudio() {
			return textResponse("(echo backend cannot transcribe audio)"), nil
		}
		return textResponse(fmt.Sprintf("Echo: I got a %s of %d bytes. I can't see it, but I'm sure it has personality.",
			attachment.MIMEType, len(attachment.Data))), nil
	}

	if len(req.Tools) > 0 {
		if call := echoToolCall(text); call != nil {
			return &GenerateResponse{Parts: []Part{{ToolCall: call}}}, nil
		}
	}

	return textResponse(fmt.Sprintf("Echo: You said: %q", text)), nil
}

func echoToolCall(text string) *ToolCall {
	text = strings.TrimSpace(text)
	if m := echoLightPattern.FindStringSubmatch(text); m != nil {
		args, _ := json.Marshal(map[string]any{
			"deviceName": strings.TrimSpace(m[2]),
			"state":      strings.EqualFold(m[1], "on"),
		})
		return &ToolCall{
			ID:       "call_echo_1",
			Type:     "function",
			Function: FunctionCall{Name: ToolSetLightState, Arguments: string(args)},
		}
	}
	if m := echoThermoPattern.FindStringSubmatch(text); m != nil {
		temp, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil
		}
		args, _ := json.Marshal(map[string]any{"temperature": temp})
		return &ToolCall{
			ID:       "call_echo_1",
			Type:     "function",
			Function: FunctionCall{Name: ToolSetThermostat, Arguments: string(args)},
		}
	}
	return nil
}

func toolResultMessage(r *ToolResponse) string {
	data, err := json.Marshal(r.Response["result"])
	if err != nil {
		return "The tool ran."
	}
	var result struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &result); err != nil || result.Message == "" {
		return "The tool ran."
	}
	return result.Message
}

func textResponse(text string) *GenerateResponse {
	return &GenerateResponse{Parts: []Part{{Text: text}}}
}
