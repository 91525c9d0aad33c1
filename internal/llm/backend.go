package llm

import (
	"context"
	"strings"
)

// Conversation roles on the wire. Backends translate them as needed.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Attachment is inline binary media (image or audio) sent with a request.
type Attachment struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// IsImage reports whether the attachment is an image.
func (a *Attachment) IsImage() bool {
	return a != nil && strings.HasPrefix(a.MIMEType, "image/")
}

// IsAudio reports whether the attachment is audio.
func (a *Attachment) IsAudio() bool {
	return a != nil && strings.HasPrefix(a.MIMEType, "audio/")
}

// ToolCall represents a function call requested by the model
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall contains the function name and arguments
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// ToolResponse carries the result of a tool call back to the model.
type ToolResponse struct {
	CallID   string         `json:"call_id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Part is one piece of a turn. Exactly one field is set.
type Part struct {
	Text         string        `json:"text,omitempty"`
	Attachment   *Attachment   `json:"attachment,omitempty"`
	ToolCall     *ToolCall     `json:"tool_call,omitempty"`
	ToolResponse *ToolResponse `json:"tool_response,omitempty"`
}

// Turn is one message of the conversation sent to the backend.
type Turn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// TextTurn builds a single-part text turn.
func TextTurn(role, text string) Turn {
	return Turn{Role: role, Parts: []Part{{Text: text}}}
}

// GroundingRef is a source the backend cited after searching.
type GroundingRef struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// GenerateRequest is a fully assembled backend request.
type GenerateRequest struct {
	Model             string
	SystemInstruction string
	Turns             []Turn
	Tools             []ToolDefinition
	Search            bool
}

// GenerateResponse holds the parts of the first candidate and any grounding.
type GenerateResponse struct {
	Parts     []Part
	Grounding []GroundingRef
}

// HealthResult reports backend reachability
type HealthResult struct {
	Ok       bool   `json:"ok"`
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url,omitempty"`
	Model    string `json:"model,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Backend is a generative model service.
type Backend interface {
	// Name returns the backend name
	Name() string

	// Health checks if the service is reachable
	Health(ctx context.Context) (*HealthResult, error)

	// Generate sends one request and returns the first candidate
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// PermanentError marks a backend failure that retrying cannot fix, such as
// a rejected API key or a malformed request.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
