package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider implements Provider on the Anthropic Messages API.
// JSON mode is emulated by prefilling the assistant turn with "{".
type AnthropicProvider struct {
	id     string
	models Models
	client *anthropic.Client
}

// NewAnthropicProvider creates a provider for the Anthropic API. An empty
// baseURL uses the SDK default. The SDK's own retries are disabled; the
// failover controller decides what to retry.
func NewAnthropicProvider(id, baseURL, apiKey string, models []ModelInfo, opts ...option.RequestOption) *AnthropicProvider {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		base = append(base, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &AnthropicProvider{
		id:     id,
		models: models,
		client: anthropic.NewClient(append(base, opts...)...),
	}
}

func (p *AnthropicProvider) ID() string { return p.id }

func (p *AnthropicProvider) Models() []ModelInfo { return p.models }

// Complete sends a non-streaming Messages request.
func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	msg, err := p.client.Messages.New(ctx, p.toParams(req))
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Provider: p.id, StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
		}
		return nil, fmt.Errorf("%s request: %w", p.id, err)
	}

	var parts []string
	for _, block := range msg.Content {
		if b, ok := block.AsUnion().(anthropic.TextBlock); ok {
			parts = append(parts, b.Text)
		}
	}
	content := strings.Join(parts, "\n\n")
	if req.JSONMode && !strings.HasPrefix(strings.TrimSpace(content), "{") {
		content = "{" + content
	}

	return &CompletionResponse{
		ID:      msg.ID,
		Model:   string(msg.Model),
		Content: content,
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func (p *AnthropicProvider) toParams(req *CompletionRequest) anthropic.MessageNewParams {
	var system []string
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if req.JSONMode {
		msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock("{")))
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.models.MaxTokens(req.Model)
	}
	if maxTokens == 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.Model(req.Model)),
		MaxTokens: anthropic.Int(int64(maxTokens)),
		Messages:  anthropic.F(msgs),
	}
	if len(system) > 0 {
		params.System = anthropic.F([]anthropic.TextBlockParam{
			anthropic.NewTextBlock(strings.Join(system, "\n\n")),
		})
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}
