package extractor

import "github.com/opentalon/tutorflow/internal/catalog"

// Payload is the structured object produced for one queued tool: either the
// validated parameters plus injected context, or a marker naming the tool
// and why it has no parameters.
type Payload map[string]any

const (
	StatusOK             = "ok"
	StatusNotImplemented = "not_implemented"
	StatusError          = "error"

	keyToolName = "tool_name"
	keyStatus   = "status"
	keyError    = "error"
)

// ChatMessage is one entry of the chat_history field.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NotImplemented is the marker for a tool id the catalog does not know.
func NotImplemented(tool string) Payload {
	return Payload{keyToolName: tool, keyStatus: StatusNotImplemented}
}

// Failed is the marker for a known tool whose extraction did not produce a
// valid payload.
func Failed(tool string, err error) Payload {
	return Payload{keyToolName: tool, keyStatus: StatusError, keyError: err.Error()}
}

// Status returns StatusNotImplemented or StatusError for markers and
// StatusOK for extracted payloads.
func (p Payload) Status() string {
	if _, ok := p[catalog.FieldUserInfo]; ok {
		return StatusOK
	}
	if s, ok := p[keyStatus].(string); ok && (s == StatusNotImplemented || s == StatusError) {
		return s
	}
	return StatusOK
}

// Tool returns the tool name recorded in a marker payload.
func (p Payload) Tool() string {
	s, _ := p[keyToolName].(string)
	return s
}
