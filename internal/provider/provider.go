// Package provider holds the wire clients for completion backends. Every
// backend speaks the same minimal request shape: a system message, a user
// message, a temperature and optionally JSON response mode.
package provider

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	// JSONMode asks the backend to constrain its reply to one JSON object.
	JSONMode bool `json:"json_mode,omitempty"`
}

// Clone returns a copy that can be modified without affecting req.
func (req *CompletionRequest) Clone() *CompletionRequest {
	out := *req
	out.Messages = append([]Message(nil), req.Messages...)
	if req.Temperature != nil {
		t := *req.Temperature
		out.Temperature = &t
	}
	return &out
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type CompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Provider interface {
	ID() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Models() []ModelInfo
}

// Temperature returns a pointer suitable for CompletionRequest.Temperature.
func Temperature(t float64) *float64 { return &t }
