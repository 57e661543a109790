// Package router maps a free-text request to the ordered list of catalog
// tools that should handle it, by asking the oracle for a comma-separated
// list of tool names.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/opentalon/tutorflow/internal/catalog"
	"github.com/opentalon/tutorflow/internal/oracle"
	"github.com/opentalon/tutorflow/internal/prompt"
	"github.com/opentalon/tutorflow/internal/reqid"
)

// ErrRouting marks a failed routing attempt, as opposed to a successful
// one that selected no tools.
var ErrRouting = errors.New("routing failed")

// Error wraps the cause of a routing failure. errors.Is(err, ErrRouting)
// holds for every *Error.
type Error struct {
	Err error
}

func (e *Error) Error() string { return "routing failed: " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrRouting }

var builtinRules = []string{
	"Your response MUST be a comma-separated list of the exact tool names, in the order they should be used.",
	"Use each tool name exactly as written in the list above.",
	"If no tool fits the request, reply with an empty response.",
	"DO NOT attempt to answer the user's question or have a conversation.",
	"DO NOT include any explanations, numbering or extra text.",
}

type Options struct {
	// FilterUnknown drops names that are not in the catalog. Off by default:
	// unknown names flow through and the extractor marks them not_implemented.
	FilterUnknown bool
	Rules         []string
	Logger        *slog.Logger
}

type Router struct {
	catalog       *catalog.Catalog
	oracle        oracle.Oracle
	system        string
	filterUnknown bool
	logger        *slog.Logger
}

func New(cat *catalog.Catalog, orc oracle.Oracle, opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		catalog:       cat,
		oracle:        orc,
		system:        buildSystemPrompt(cat, prompt.NewRules("MANDATORY ROUTING RULES", builtinRules, opts.Rules)),
		filterUnknown: opts.FilterUnknown,
		logger:        opts.Logger,
	}
}

func buildSystemPrompt(cat *catalog.Catalog, rules *prompt.Rules) string {
	var sb strings.Builder
	sb.WriteString("You are a high-accuracy tool router. Your sole purpose is to read a user's request ")
	sb.WriteString("and select the correct tool(s) from the provided list.\n\n")
	sb.WriteString("Here are the available tools:\n")
	for _, t := range cat.Tools() {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Trigger)
	}
	sb.WriteString("\n")
	sb.WriteString(rules.BuildPromptSection())
	sb.WriteString("\nReply with only the tool names.")
	return sb.String()
}

// SystemPrompt returns the prompt sent with every routing call.
func (r *Router) SystemPrompt() string { return r.system }

// Route returns the selected tool names in the order the oracle emitted
// them. Duplicates are kept. An oracle failure or a reply that is not a
// list of names yields an *Error.
func (r *Router) Route(ctx context.Context, userMessage string) ([]string, error) {
	reply, err := r.oracle.Complete(ctx, oracle.TextPrompt{System: r.system, User: userMessage})
	if err != nil {
		return nil, &Error{Err: err}
	}

	tools, err := parse(reply, r.catalog.Has)
	if err != nil {
		r.logger.Warn("unparseable routing reply", "invocation_id", reqid.ID(ctx), "err", err)
		return nil, &Error{Err: err}
	}
	if r.filterUnknown {
		kept := tools[:0]
		for _, name := range tools {
			if r.catalog.Has(name) {
				kept = append(kept, name)
				continue
			}
			r.logger.Warn("dropping unknown tool", "invocation_id", reqid.ID(ctx), "tool", name)
		}
		tools = kept
	}
	r.logger.Debug("routed", "invocation_id", reqid.ID(ctx), "tools", tools)
	return tools, nil
}

// maxNameWords bounds how long a tool name can plausibly be. Longer
// segments are taken as prose unless the catalog knows them.
const maxNameWords = 6

var listMarker = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+`)

// Parse splits a router reply into tool names. Commas and newlines both
// separate names; list bullets, wrapping quotes or backticks and a leading
// "Tools:" label are tolerated. A segment that reads as a sentence fails
// with oracle.ErrMalformedOutput.
func Parse(reply string) ([]string, error) {
	return parse(reply, nil)
}

func parse(reply string, known func(string) bool) ([]string, error) {
	s := strings.TrimSpace(reply)
	if label, rest, ok := strings.Cut(s, ":"); ok && strings.EqualFold(strings.TrimSpace(label), "tools") {
		s = rest
	}
	out := make([]string, 0, 4)
	for _, line := range strings.Split(s, "\n") {
		line = listMarker.ReplaceAllString(strings.TrimSpace(line), "")
		for _, seg := range strings.Split(line, ",") {
			seg = strings.TrimSpace(strings.Trim(strings.TrimSpace(seg), "`\"'"))
			if seg == "" {
				continue
			}
			if (known == nil || !known(seg)) && prose(seg) {
				return nil, fmt.Errorf("%w: %q is not a tool name", oracle.ErrMalformedOutput, seg)
			}
			out = append(out, seg)
		}
	}
	return out, nil
}

func prose(seg string) bool {
	if strings.ContainsAny(seg, ":;") || strings.ContainsAny(seg[len(seg)-1:], ".!?") {
		return true
	}
	return len(strings.Fields(seg)) > maxNameWords
}
