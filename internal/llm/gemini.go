package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiBackend talks to the Gemini API through the genai SDK.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// NewGeminiBackend creates a Gemini API client. model is only used for
// health checks; each request names its own model.
func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, errors.New("gemini backend requires GEMINI_API_KEY (or API_KEY)")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiBackend{client: client, model: model}, nil
}

func (g *GeminiBackend) Name() string { return "gemini" }

func (g *GeminiBackend) Health(ctx context.Context) (*HealthResult, error) {
	result := &HealthResult{Provider: g.Name(), Model: g.model}
	if _, err := g.client.Models.Get(ctx, g.model, nil); err != nil {
		result.Error = err.Error()
		return result, nil
	}
	result.Ok = true
	return result, nil
}

func (g *GeminiBackend) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	contents, err := toGenaiContents(req.Turns)
	if err != nil {
		return nil, &PermanentError{Err: err}
	}

	config := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleModel)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema, err := toGenaiSchema(t.Function.Parameters)
			if err != nil {
				return nil, &PermanentError{Err: fmt.Errorf("tool %s: %w", t.Function.Name, err)}
			}
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  schema,
			})
		}
		config.Tools = append(config.Tools, &genai.Tool{FunctionDeclarations: decls})
	}
	if req.Search {
		config.Tools = append(config.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}

	res, err := g.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate (%s): %w", req.Model, err)
	}
	return fromGenaiResponse(res)
}

func toGenaiContents(turns []Turn) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		c := &genai.Content{Role: t.Role}
		for _, p := range t.Parts {
			switch {
			case p.Attachment != nil:
				c.Parts = append(c.Parts, &genai.Part{InlineData: &genai.Blob{
					MIMEType: p.Attachment.MIMEType,
					Data:     p.Attachment.Data,
				}})
			case p.ToolCall != nil:
				args := map[string]any{}
				if s := strings.TrimSpace(p.ToolCall.Function.Arguments); s != "" {
					if err := json.Unmarshal([]byte(s), &args); err != nil {
						return nil, fmt.Errorf("tool call %s arguments: %w", p.ToolCall.Function.Name, err)
					}
				}
				c.Parts = append(c.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   p.ToolCall.ID,
					Name: p.ToolCall.Function.Name,
					Args: args,
				}})
			case p.ToolResponse != nil:
				resp, err := plainMap(p.ToolResponse.Response)
				if err != nil {
					return nil, fmt.Errorf("tool response %s: %w", p.ToolResponse.Name, err)
				}
				c.Parts = append(c.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       p.ToolResponse.CallID,
					Name:     p.ToolResponse.Name,
					Response: resp,
				}})
			default:
				c.Parts = append(c.Parts, &genai.Part{Text: p.Text})
			}
		}
		contents = append(contents, c)
	}
	return contents, nil
}

// plainMap round-trips v through JSON so structs become the map/slice
// shapes the SDK serializes predictably.
func plainMap(v map[string]any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromGenaiResponse(res *genai.GenerateContentResponse) (*GenerateResponse, error) {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return nil, errEmptyResponse
	}
	cand := res.Candidates[0]

	out := &GenerateResponse{}
	for i, p := range cand.Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		switch {
		case p.FunctionCall != nil:
			args, err := json.Marshal(p.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("marshal function call args: %w", err)
			}
			id := p.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			out.Parts = append(out.Parts, Part{ToolCall: &ToolCall{
				ID:   id,
				Type: "function",
				Function: FunctionCall{
					Name:      p.FunctionCall.Name,
					Arguments: string(args),
				},
			}})
		case p.Text != "":
			out.Parts = append(out.Parts, Part{Text: p.Text})
		}
	}

	if gm := cand.GroundingMetadata; gm != nil {
		for _, chunk := range gm.GroundingChunks {
			if chunk != nil && chunk.Web != nil && chunk.Web.URI != "" {
				out.Grounding = append(out.Grounding, GroundingRef{URI: chunk.Web.URI, Title: chunk.Web.Title})
			}
		}
	}
	if cm := cand.CitationMetadata; cm != nil {
		for _, c := range cm.Citations {
			if c != nil && c.URI != "" {
				out.Grounding = append(out.Grounding, GroundingRef{URI: c.URI, Title: c.Title})
			}
		}
	}
	return out, nil
}

// jsonSchema is the subset of JSON Schema used by ToolDefinitions.
type jsonSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Properties  map[string]*jsonSchema `json:"properties"`
	Required    []string               `json:"required"`
	Enum        []string               `json:"enum"`
	Items       *jsonSchema            `json:"items"`
}

func toGenaiSchema(raw json.RawMessage) (*genai.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s jsonSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse parameters schema: %w", err)
	}
	return convertSchema(&s)
}

func convertSchema(s *jsonSchema) (*genai.Schema, error) {
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
	}
	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "boolean":
		out.Type = genai.TypeBoolean
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "array":
		out.Type = genai.TypeArray
	default:
		return nil, fmt.Errorf("unsupported schema type %q", s.Type)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			converted, err := convertSchema(prop)
			if err != nil {
				return nil, fmt.Errorf("property %s: %w", name, err)
			}
			out.Properties[name] = converted
		}
	}
	if s.Items != nil {
		items, err := convertSchema(s.Items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		out.Items = items
	}
	return out, nil
}
