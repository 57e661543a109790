package catalog

import "slices"

type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

func (t FieldType) valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

func (t FieldType) numeric() bool {
	return t == TypeInteger || t == TypeNumber
}

// Field is one parameter of a tool's input schema.
type Field struct {
	Name        string    `yaml:"name" json:"name" jsonschema:"required,description=Parameter name as sent to the tool API."`
	Type        FieldType `yaml:"type" json:"type" jsonschema:"required,enum=string,enum=integer,enum=number,enum=boolean,enum=array,enum=object"`
	Description string    `yaml:"description" json:"description,omitempty" jsonschema:"description=Human description shown to the extraction prompt."`
	Enum        []string  `yaml:"enum,omitempty" json:"enum,omitempty" jsonschema:"description=Allowed values (string fields only)."`
	Minimum     *float64  `yaml:"minimum,omitempty" json:"minimum,omitempty"`
	Maximum     *float64  `yaml:"maximum,omitempty" json:"maximum,omitempty"`
	Default     any       `yaml:"default,omitempty" json:"default,omitempty" jsonschema:"description=Value the extractor should use when the request does not mention one."`
	Optional    bool      `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// Tool describes one downstream educational tool.
type Tool struct {
	Name        string  `yaml:"name" json:"name" jsonschema:"required,description=Exact tool identifier the router must emit."`
	Trigger     string  `yaml:"trigger" json:"trigger" jsonschema:"required,description=When the router should select this tool."`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Fields      []Field `yaml:"fields" json:"fields"`
	ChatHistory bool    `yaml:"chat_history,omitempty" json:"chat_history,omitempty" jsonschema:"description=Attach the current message as conversational context."`
	Normalizer  string  `yaml:"normalizer,omitempty" json:"normalizer,omitempty" jsonschema:"description=Path to a Lua script that defines a normalize function."`
}

// File is the on-disk catalog format.
type File struct {
	Tools []Tool `yaml:"tools" json:"tools" jsonschema:"required"`
}

func (t Tool) clone() Tool {
	out := t
	out.Fields = make([]Field, len(t.Fields))
	for i, f := range t.Fields {
		f.Enum = slices.Clone(f.Enum)
		if f.Minimum != nil {
			v := *f.Minimum
			f.Minimum = &v
		}
		if f.Maximum != nil {
			v := *f.Maximum
			f.Maximum = &v
		}
		out.Fields[i] = f
	}
	return out
}

// FieldNames returns the parameter names in declaration order.
func (t Tool) FieldNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// Profile is the fixed learner context merged into every successful payload
// as user_info.
type Profile struct {
	UserID                string `yaml:"user_id" json:"user_id"`
	Name                  string `yaml:"name" json:"name"`
	GradeLevel            string `yaml:"grade_level" json:"grade_level"`
	LearningStyleSummary  string `yaml:"learning_style_summary" json:"learning_style_summary"`
	EmotionalStateSummary string `yaml:"emotional_state_summary" json:"emotional_state_summary"`
	MasteryLevelSummary   string `yaml:"mastery_level_summary" json:"mastery_level_summary"`
}

// DefaultProfile is the example learner used when no profile is configured.
func DefaultProfile() Profile {
	return Profile{
		UserID:                "student123",
		Name:                  "Alex",
		GradeLevel:            "10",
		LearningStyleSummary:  "Prefers visual examples and structured notes.",
		EmotionalStateSummary: "Focused and motivated",
		MasteryLevelSummary:   "Level 6: Good understanding, ready for application",
	}
}

// IsZero reports whether no profile field is set.
func (p Profile) IsZero() bool { return p == Profile{} }

// Map renders the profile as the user_info object.
func (p Profile) Map() map[string]any {
	return map[string]any{
		"user_id":                 p.UserID,
		"name":                    p.Name,
		"grade_level":             p.GradeLevel,
		"learning_style_summary":  p.LearningStyleSummary,
		"emotional_state_summary": p.EmotionalStateSummary,
		"mastery_level_summary":   p.MasteryLevelSummary,
	}
}
