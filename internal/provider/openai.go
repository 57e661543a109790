package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	// Error bodies are kept for logs; the rest is discarded.
	maxErrorBody = 4 << 10
)

// OpenAIProvider speaks the chat completions dialect shared by OpenAI, the
// Gemini compatibility endpoint, Ollama, vLLM and Groq.
type OpenAIProvider struct {
	id        string
	baseURL   string
	apiKey    string
	userAgent string
	models    Models
	http      *http.Client
}

type OpenAIOption func(*OpenAIProvider)

func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) { p.http = c }
}

func WithOpenAIUserAgent(ua string) OpenAIOption {
	return func(p *OpenAIProvider) { p.userAgent = ua }
}

// NewOpenAIProvider returns a client rooted at baseURL, which should end
// before /chat/completions. An empty apiKey sends no Authorization header.
func NewOpenAIProvider(id, baseURL, apiKey string, models []ModelInfo, opts ...OpenAIOption) *OpenAIProvider {
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	p := &OpenAIProvider{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		models:  models,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenAIProvider) ID() string          { return p.id }
func (p *OpenAIProvider) Models() []ModelInfo { return p.models }

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    *float64      `json:"temperature,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *chatError `json:"error,omitempty"`
}

type chatError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	raw, err := p.post(ctx, "/chat/completions", p.chatRequest(req))
	if err != nil {
		return nil, err
	}
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", p.id, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s: %s: %s", p.id, resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: response has no choices", p.id)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" && choice.Message.Content == "" {
		return nil, fmt.Errorf("%s: reply withheld by content filter", p.id)
	}
	return &CompletionResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: choice.Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (p *OpenAIProvider) chatRequest(req *CompletionRequest) chatRequest {
	out := chatRequest{
		Model:       req.Model,
		Messages:    make([]chatMessage, 0, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = p.models.MaxTokens(req.Model)
	}
	if req.JSONMode {
		out.ResponseFormat = &chatFormat{Type: "json_object"}
	}
	return out
}

// post sends body as JSON and returns the raw 200 response. Any other status
// becomes a *StatusError carrying the API's own message when it has one.
func (p *OpenAIProvider) post(ctx context.Context, path string, body any) ([]byte, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: encoding request: %w", p.id, err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if p.userAgent != "" {
		hreq.Header.Set("User-Agent", p.userAgent)
	}

	hresp, err := p.http.Do(hreq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("%s: %w", p.id, ctxErr)
		}
		return nil, fmt.Errorf("%s: %w", p.id, err)
	}
	defer func() { _ = hresp.Body.Close() }()

	if hresp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(hresp.Body, maxErrorBody))
		return nil, &StatusError{Provider: p.id, StatusCode: hresp.StatusCode, Body: apiMessage(raw)}
	}
	raw, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", p.id, err)
	}
	return raw, nil
}

// apiMessage pulls error.message out of an OpenAI-style error body, falling
// back to the trimmed body text.
func apiMessage(raw []byte) string {
	var env struct {
		Error *chatError `json:"error"`
	}
	if json.Unmarshal(raw, &env) == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
