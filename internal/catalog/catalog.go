// Package catalog holds the immutable table of tools the router can select
// and the extractor can fill: trigger descriptions, ordered parameter schemas,
// and the compiled JSON Schema used to validate extracted payloads.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sjs "github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrValidation  = errors.New("payload validation failed")
)

// Field names the extractor injects itself; catalogs may not declare them.
const (
	FieldUserInfo    = "user_info"
	FieldChatHistory = "chat_history"
)

type entry struct {
	tool     Tool
	schema   json.RawMessage
	compiled *sjs.Schema
}

// Catalog is built once and never mutated; all methods are safe for
// concurrent use without locking.
type Catalog struct {
	order   []string
	entries map[string]*entry
}

// New validates the tool definitions, builds and compiles each tool's
// JSON Schema and returns the catalog. Tool order is preserved.
func New(tools ...Tool) (*Catalog, error) {
	c := &Catalog{
		order:   make([]string, 0, len(tools)),
		entries: make(map[string]*entry, len(tools)),
	}
	for i, t := range tools {
		t = t.clone()
		t.Name = strings.TrimSpace(t.Name)
		if err := checkTool(t); err != nil {
			return nil, fmt.Errorf("catalog: tool %d: %w", i, err)
		}
		if _, exists := c.entries[t.Name]; exists {
			return nil, fmt.Errorf("catalog: tool %q declared twice", t.Name)
		}
		raw, err := json.Marshal(buildSchema(t))
		if err != nil {
			return nil, fmt.Errorf("catalog: tool %q: marshal schema: %w", t.Name, err)
		}
		compiled, err := compileSchema(i, raw)
		if err != nil {
			return nil, fmt.Errorf("catalog: tool %q: compile schema: %w", t.Name, err)
		}
		c.order = append(c.order, t.Name)
		c.entries[t.Name] = &entry{tool: t, schema: raw, compiled: compiled}
	}
	return c, nil
}

// MustNew is New for static tables known to be valid.
func MustNew(tools ...Tool) *Catalog {
	c, err := New(tools...)
	if err != nil {
		panic(err)
	}
	return c
}

func checkTool(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.Contains(t.Name, ",") {
		return fmt.Errorf("name %q must not contain commas", t.Name)
	}
	if strings.TrimSpace(t.Trigger) == "" {
		return fmt.Errorf("tool %q: trigger is required", t.Name)
	}
	seen := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		switch {
		case f.Name == "":
			return fmt.Errorf("tool %q: field name is required", t.Name)
		case f.Name == FieldUserInfo || f.Name == FieldChatHistory:
			return fmt.Errorf("tool %q: field %q is reserved", t.Name, f.Name)
		case seen[f.Name]:
			return fmt.Errorf("tool %q: field %q declared twice", t.Name, f.Name)
		case !f.Type.valid():
			return fmt.Errorf("tool %q: field %q has unsupported type %q", t.Name, f.Name, f.Type)
		case len(f.Enum) > 0 && f.Type != TypeString:
			return fmt.Errorf("tool %q: field %q: enum is only supported on string fields", t.Name, f.Name)
		case (f.Minimum != nil || f.Maximum != nil) && !f.Type.numeric():
			return fmt.Errorf("tool %q: field %q: minimum/maximum need a numeric type", t.Name, f.Name)
		case f.Minimum != nil && f.Maximum != nil && *f.Minimum > *f.Maximum:
			return fmt.Errorf("tool %q: field %q: minimum exceeds maximum", t.Name, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// Len returns the number of tools.
func (c *Catalog) Len() int { return len(c.order) }

// Names returns tool names in catalog order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Tools returns copies of all tools in catalog order.
func (c *Catalog) Tools() []Tool {
	out := make([]Tool, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.entries[name].tool.clone())
	}
	return out
}

// Lookup returns a copy of the named tool.
func (c *Catalog) Lookup(name string) (Tool, bool) {
	e, ok := c.entries[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool.clone(), true
}

// Has reports whether name is a catalog tool.
func (c *Catalog) Has(name string) bool {
	_, ok := c.entries[name]
	return ok
}

// Schema returns the tool's JSON Schema document.
func (c *Catalog) Schema(name string) (json.RawMessage, error) {
	e, ok := c.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	out := make(json.RawMessage, len(e.schema))
	copy(out, e.schema)
	return out, nil
}

// Validate checks params (decoded JSON, numbers as json.Number or float64)
// against the tool's schema: required fields, types, enums, ranges and no
// undeclared properties.
func (c *Catalog) Validate(name string, params map[string]any) error {
	e, ok := c.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	if err := e.compiled.Validate(params); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, flattenValidation(err))
	}
	return nil
}

// flattenValidation turns the multi-line validator report into one line.
func flattenValidation(err error) string {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "- "))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "; ")
}
