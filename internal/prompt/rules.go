// Package prompt assembles the mandatory rule sections appended to router
// and extractor system prompts.
package prompt

import "strings"

// Rules is an ordered set of built-in rules plus operator-supplied ones.
type Rules struct {
	title   string
	builtin int
	rules   []string
}

// NewRules copies builtin and appends the non-blank custom rules.
func NewRules(title string, builtin, custom []string) *Rules {
	rules := make([]string, 0, len(builtin)+len(custom))
	rules = append(rules, builtin...)
	for _, r := range custom {
		r = strings.TrimSpace(r)
		if r != "" {
			rules = append(rules, r)
		}
	}
	return &Rules{title: title, builtin: len(builtin), rules: rules}
}

func (r *Rules) Rules() []string {
	out := make([]string, len(r.rules))
	copy(out, r.rules)
	return out
}

// BuildPromptSection renders the rules as a markdown section. Custom rules
// are tagged so they can be told apart in logs of the rendered prompt.
func (r *Rules) BuildPromptSection() string {
	var sb strings.Builder
	sb.WriteString("## ")
	sb.WriteString(r.title)
	sb.WriteString("\n")
	sb.WriteString("You MUST follow ALL of the following rules. Violation is not permitted under any circumstances.\n\n")
	for i, rule := range r.rules {
		if i < r.builtin {
			sb.WriteString("- ")
		} else {
			sb.WriteString("- [custom] ")
		}
		sb.WriteString(rule)
		sb.WriteString("\n")
	}
	return sb.String()
}
