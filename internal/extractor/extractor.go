// Package extractor turns a free-text request into the validated parameter
// payload of one catalog tool.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/opentalon/tutorflow/internal/catalog"
	"github.com/opentalon/tutorflow/internal/lua"
	"github.com/opentalon/tutorflow/internal/oracle"
	"github.com/opentalon/tutorflow/internal/prompt"
	"github.com/opentalon/tutorflow/internal/reqid"
)

var builtinRules = []string{
	"Reply with a single JSON object containing exactly the parameters listed above.",
	"Use the parameter names exactly as written.",
	"When the request does not state a value, infer a sensible one from the request or use the listed default.",
	"Respect every allowed-value list and numeric range.",
	"DO NOT include explanations, markdown or any text outside the JSON object.",
}

type Options struct {
	Profile catalog.Profile
	Rules   []string
	Logger  *slog.Logger
}

type Extractor struct {
	catalog    *catalog.Catalog
	oracle     oracle.Oracle
	rules      *prompt.Rules
	profile    map[string]any
	normalizer *lua.Normalizer
	logger     *slog.Logger
}

// New builds an extractor and compiles every normalizer script the catalog
// references, so a broken script fails at startup.
func New(cat *catalog.Catalog, orc oracle.Oracle, opts Options) (*Extractor, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Profile.IsZero() {
		opts.Profile = catalog.DefaultProfile()
	}
	e := &Extractor{
		catalog:    cat,
		oracle:     orc,
		rules:      prompt.NewRules("MANDATORY EXTRACTION RULES", builtinRules, opts.Rules),
		profile:    opts.Profile.Map(),
		normalizer: lua.NewNormalizer(),
		logger:     opts.Logger,
	}
	for _, t := range cat.Tools() {
		if t.Normalizer == "" {
			continue
		}
		if err := e.normalizer.Compile(t.Normalizer); err != nil {
			return nil, fmt.Errorf("tool %q normalizer: %w", t.Name, err)
		}
	}
	return e, nil
}

// SystemPrompt renders the schema-constrained prompt for tool.
func (e *Extractor) SystemPrompt(tool catalog.Tool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a highly intelligent parameter extraction agent. Read the user's request and fill in the parameters for the tool %q.\n", tool.Name)
	if tool.Description != "" {
		fmt.Fprintf(&sb, "\nTool description: %s\n", tool.Description)
	}
	sb.WriteString("\nParameters:\n")
	for _, f := range tool.Fields {
		sb.WriteString(describeField(f))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(e.rules.BuildPromptSection())
	return sb.String()
}

func describeField(f catalog.Field) string {
	attrs := []string{string(f.Type)}
	if f.Optional {
		attrs = append(attrs, "optional")
	} else {
		attrs = append(attrs, "required")
	}
	if len(f.Enum) > 0 {
		attrs = append(attrs, "one of: "+strings.Join(f.Enum, ", "))
	}
	switch {
	case f.Minimum != nil && f.Maximum != nil:
		attrs = append(attrs, fmt.Sprintf("between %s and %s", num(*f.Minimum), num(*f.Maximum)))
	case f.Minimum != nil:
		attrs = append(attrs, "at least "+num(*f.Minimum))
	case f.Maximum != nil:
		attrs = append(attrs, "at most "+num(*f.Maximum))
	}
	if f.Default != nil {
		attrs = append(attrs, fmt.Sprintf("default: %v", f.Default))
	}
	line := fmt.Sprintf("- %s (%s)", f.Name, strings.Join(attrs, "; "))
	if f.Description != "" {
		line += ": " + f.Description
	}
	return line
}

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

var errNotObject = errors.New("reply is not a JSON object")

// Extract never fails: an unknown tool yields a not_implemented marker and
// any oracle, decode, normalize or validation failure yields an error
// marker. Successful payloads carry user_info and, when the tool asks for
// it, chat_history.
func (e *Extractor) Extract(ctx context.Context, userMessage, toolID string) (p Payload) {
	log := e.logger.With("invocation_id", reqid.ID(ctx), "tool", toolID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("extraction panicked", "panic", r)
			p = Failed(toolID, fmt.Errorf("internal error: %v", r))
		}
	}()

	tool, ok := e.catalog.Lookup(toolID)
	if !ok {
		log.Warn("no extractor for tool")
		return NotImplemented(toolID)
	}

	params, err := e.extract(ctx, tool, userMessage)
	if err != nil {
		log.Warn("extraction failed", "err", err)
		return Failed(toolID, err)
	}

	out := make(Payload, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	if tool.ChatHistory {
		out[catalog.FieldChatHistory] = []ChatMessage{{Role: "user", Content: userMessage}}
	}
	out[catalog.FieldUserInfo] = e.profileCopy()
	log.Debug("extracted", "fields", len(params))
	return out
}

func (e *Extractor) extract(ctx context.Context, tool catalog.Tool, userMessage string) (map[string]any, error) {
	schema, err := e.catalog.Schema(tool.Name)
	if err != nil {
		return nil, err
	}
	raw, err := e.oracle.CompleteStructured(ctx, oracle.StructuredPrompt{
		System: e.SystemPrompt(tool),
		Schema: schema,
		User:   userMessage,
	})
	if err != nil {
		return nil, err
	}

	params, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", oracle.ErrMalformedOutput, err)
	}
	applyDefaults(tool, params)

	if tool.Normalizer != "" {
		params, err = e.normalizer.Normalize(ctx, tool.Normalizer, tool.Name, params, userMessage)
		if err != nil {
			return nil, fmt.Errorf("normalize: %w", err)
		}
	}

	if err := e.catalog.Validate(tool.Name, params); err != nil {
		return nil, err
	}
	return params, nil
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return nil, err
	}
	if params == nil {
		return nil, errNotObject
	}
	return params, nil
}

func applyDefaults(tool catalog.Tool, params map[string]any) {
	for _, f := range tool.Fields {
		if f.Default == nil {
			continue
		}
		if v, ok := params[f.Name]; !ok || v == nil || v == "" {
			params[f.Name] = f.Default
		}
	}
}

func (e *Extractor) profileCopy() map[string]any {
	out := make(map[string]any, len(e.profile))
	for k, v := range e.profile {
		out[k] = v
	}
	return out
}
