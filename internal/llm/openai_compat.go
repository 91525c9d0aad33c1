package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIConfig configures an OpenAI-compatible endpoint (LM Studio, Ollama,
// OpenRouter, OpenAI).
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	TimeoutSecs int
}

// OpenAICompat implements Backend by calling /v1/chat/completions.
type OpenAICompat struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAICompat creates a new OpenAI-compatible backend.
func NewOpenAICompat(cfg OpenAIConfig) *OpenAICompat {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TimeoutSecs <= 0 {
		cfg.TimeoutSecs = 120
	}
	return &OpenAICompat{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
		},
	}
}

func (o *OpenAICompat) Name() string { return "openai" }

func (o *OpenAICompat) Health(ctx context.Context) (*HealthResult, error) {
	result := &HealthResult{Provider: o.Name(), BaseURL: o.cfg.BaseURL, Model: o.cfg.Model}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Sprintf("status %d", resp.StatusCode)
		return result, nil
	}
	result.Ok = true
	return result, nil
}

// openaiMessage is one chat message. Content is a string or a list of parts.
type openaiMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

type openaiContentPart struct {
	Type       string            `json:"type"`
	Text       string            `json:"text,omitempty"`
	ImageURL   *openaiImageURL   `json:"image_url,omitempty"`
	InputAudio *openaiInputAudio `json:"input_audio,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

type openaiInputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

// openaiChatRequest is the request body for /v1/chat/completions
type openaiChatRequest struct {
	Model       string           `json:"model,omitempty"`
	Messages    []openaiMessage  `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// openaiChatResponse is the response from /v1/chat/completions
type openaiChatResponse struct {
	Choices []struct {
		Message struct {
			Role      string     `json:"role"`
			Content   *string    `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (o *OpenAICompat) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	msgs, err := toOpenAIMessages(req)
	if err != nil {
		return nil, &PermanentError{Err: err}
	}

	model := o.cfg.Model
	if model == "" {
		model = req.Model
	}
	body := openaiChatRequest{
		Model:       model,
		Messages:    msgs,
		Tools:       req.Tools,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	if len(req.Tools) > 0 {
		body.ToolChoice = "auto"
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := o.cfg.BaseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet := string(respBody)
		if len(snippet) > 500 {
			snippet = snippet[:500] + "..."
		}
		err := fmt.Errorf("API returned status %d: %s", resp.StatusCode, snippet)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, &PermanentError{Err: err}
		}
		return nil, err
	}

	var chatResp openaiChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("API returned 0 choices")
	}

	choice := chatResp.Choices[0]
	out := &GenerateResponse{}
	if choice.Message.Content != nil && *choice.Message.Content != "" {
		out.Parts = append(out.Parts, Part{Text: *choice.Message.Content})
	}
	for i := range choice.Message.ToolCalls {
		call := choice.Message.ToolCalls[i]
		out.Parts = append(out.Parts, Part{ToolCall: &call})
	}
	return out, nil
}

func toOpenAIMessages(req *GenerateRequest) ([]openaiMessage, error) {
	var msgs []openaiMessage
	if req.SystemInstruction != "" {
		msgs = append(msgs, openaiMessage{Role: "system", Content: req.SystemInstruction})
	}

	for _, t := range req.Turns {
		role := "user"
		if t.Role == RoleModel {
			role = "assistant"
		}

		var (
			parts     []openaiContentPart
			toolCalls []ToolCall
		)
		for _, p := range t.Parts {
			switch {
			case p.ToolResponse != nil:
				content, err := json.Marshal(p.ToolResponse.Response)
				if err != nil {
					return nil, fmt.Errorf("marshal tool response: %w", err)
				}
				msgs = append(msgs, openaiMessage{
					Role:       "tool",
					Content:    string(content),
					ToolCallID: p.ToolResponse.CallID,
					Name:       p.ToolResponse.Name,
				})
			case p.ToolCall != nil:
				toolCalls = append(toolCalls, *p.ToolCall)
			case p.Attachment.IsAudio():
				parts = append(parts, openaiContentPart{
					Type: "input_audio",
					InputAudio: &openaiInputAudio{
						Data:   base64.StdEncoding.EncodeToString(p.Attachment.Data),
						Format: audioFormat(p.Attachment.MIMEType),
					},
				})
			case p.Attachment != nil:
				parts = append(parts, openaiContentPart{
					Type: "image_url",
					ImageURL: &openaiImageURL{
						URL: "data:" + p.Attachment.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Attachment.Data),
					},
				})
			default:
				parts = append(parts, openaiContentPart{Type: "text", Text: p.Text})
			}
		}

		if len(toolCalls) > 0 {
			msgs = append(msgs, openaiMessage{Role: "assistant", ToolCalls: toolCalls})
		}
		switch {
		case len(parts) == 1 && parts[0].Type == "text":
			msgs = append(msgs, openaiMessage{Role: role, Content: parts[0].Text})
		case len(parts) > 0:
			msgs = append(msgs, openaiMessage{Role: role, Content: parts})
		}
	}
	return msgs, nil
}

func audioFormat(mime string) string {
	switch {
	case strings.Contains(mime, "mp3"), strings.Contains(mime, "mpeg"):
		return "mp3"
	default:
		return "wav"
	}
}
