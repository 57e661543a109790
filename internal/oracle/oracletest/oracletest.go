// Package oracletest provides a scripted Oracle for tests.
package oracletest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/opentalon/tutorflow/internal/oracle"
)

// Oracle answers text calls with Route and structured calls by looking up
// the tool title embedded in the schema. Calls are counted.
type Oracle struct {
	// Route is returned for every text call unless RouteErr is set.
	Route    string
	RouteErr error
	// Params maps a tool name to the raw JSON object returned for it.
	Params map[string]string
	// ParamErr maps a tool name to an error returned for it.
	ParamErr map[string]error

	mu         sync.Mutex
	text       int
	structured []string
}

func (o *Oracle) Complete(_ context.Context, _ oracle.TextPrompt) (string, error) {
	o.mu.Lock()
	o.text++
	o.mu.Unlock()
	if o.RouteErr != nil {
		return "", o.RouteErr
	}
	return o.Route, nil
}

func (o *Oracle) CompleteStructured(_ context.Context, p oracle.StructuredPrompt) (json.RawMessage, error) {
	var schema struct {
		Title string `json:"title"`
	}
	_ = json.Unmarshal(p.Schema, &schema)

	o.mu.Lock()
	o.structured = append(o.structured, schema.Title)
	o.mu.Unlock()

	if err, ok := o.ParamErr[schema.Title]; ok {
		return nil, err
	}
	raw, ok := o.Params[schema.Title]
	if !ok {
		return nil, errors.New("oracletest: no params scripted for " + schema.Title)
	}
	return oracle.ExtractObject(raw)
}

// TextCalls returns the number of routing calls.
func (o *Oracle) TextCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.text
}

// StructuredCalls returns the tools extracted so far, in call order.
func (o *Oracle) StructuredCalls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.structured...)
}

// Derivatives scripts the replies for "notes on derivatives plus five
// easy flashcards".
func Derivatives() *Oracle {
	return &Oracle{
		Route: "Note Maker Tool, Flashcard Generator Tool",
		Params: map[string]string{
			"Note Maker Tool":          `{"topic":"derivatives","subject":"Calculus","note_taking_style":"structured"}`,
			"Flashcard Generator Tool": `{"topic":"derivatives","count":5,"difficulty":"easy","subject":"Calculus"}`,
		},
	}
}

// ExplainAndPractise scripts "Explain derivatives and make me 5 easy
// flashcards on derivatives": an explanation first, then flashcards.
func ExplainAndPractise() *Oracle {
	return &Oracle{
		Route: "Concept Explainer Tool, Flashcard Generator Tool",
		Params: map[string]string{
			"Concept Explainer Tool":   `{"concept_to_explain":"derivatives","current_topic":"Calculus","desired_depth":"intermediate"}`,
			"Flashcard Generator Tool": `{"topic":"derivatives","count":5,"difficulty":"easy","subject":"Calculus"}`,
		},
	}
}

// Unreachable fails every call like a dead backend.
func Unreachable() *Oracle {
	err := errors.Join(oracle.ErrOracle, errors.New("dial tcp: connection refused"))
	return &Oracle{RouteErr: err, ParamErr: map[string]error{}}
}

var _ oracle.Oracle = (*Oracle)(nil)

