// Package oracle is the boundary to the text completion service. It offers
// two call shapes: free text, and a single JSON object constrained by a
// schema. Every call is bounded by a timeout and every failure wraps
// ErrOracle.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrOracle          = errors.New("oracle failure")
	ErrTimeout         = errors.New("oracle timed out")
	ErrMalformedOutput = errors.New("oracle returned malformed output")
)

type TextPrompt struct {
	System string
	User   string
}

type StructuredPrompt struct {
	System string
	// Schema is the JSON Schema the reply must satisfy.
	Schema json.RawMessage
	User   string
}

type Oracle interface {
	Complete(ctx context.Context, p TextPrompt) (string, error)
	CompleteStructured(ctx context.Context, p StructuredPrompt) (json.RawMessage, error)
}

// Call shapes and outcomes reported to a Recorder.
const (
	ShapeText       = "text"
	ShapeStructured = "structured"

	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeMalformed = "malformed"
	OutcomeCached    = "cached"
)

// Recorder observes completed oracle calls.
type Recorder interface {
	ObserveOracle(shape, outcome string, d time.Duration)
}

// Outcome classifies an error returned by an Oracle.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrMalformedOutput):
		return OutcomeMalformed
	default:
		return OutcomeError
	}
}
