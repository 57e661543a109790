package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	NoteMaker        = "Note Maker Tool"
	FlashcardGen     = "Flashcard Generator Tool"
	ConceptExplainer = "Concept Explainer Tool"
	SignLanguage     = "Sign Language Tutor"
)

func ptr(f float64) *float64 { return &f }

// DefaultTools returns the built-in tool table.
func DefaultTools() []Tool {
	return []Tool{
		{
			Name:        NoteMaker,
			Trigger:     "Use when the user wants to summarize, structure, or take notes on a specific topic.",
			Description: "A tool to create structured notes from a conversation.",
			ChatHistory: true,
			Fields: []Field{
				{Name: "topic", Type: TypeString, Description: "The main topic for the notes."},
				{Name: "subject", Type: TypeString, Description: "The academic subject area."},
				{
					Name:        "note_taking_style",
					Type:        TypeString,
					Description: "The desired format: 'outline', 'bullet_points', 'narrative', or 'structured'.",
					Enum:        []string{"outline", "bullet_points", "narrative", "structured"},
				},
			},
		},
		{
			Name:        FlashcardGen,
			Trigger:     "Use when the user wants practice questions or flashcards to test their knowledge on a topic.",
			Description: "A tool to generate flashcards for studying.",
			Fields: []Field{
				{Name: "topic", Type: TypeString, Description: "The topic for the flashcards."},
				{
					Name:        "count",
					Type:        TypeInteger,
					Description: "The number of flashcards to create (1-20).",
					Minimum:     ptr(1),
					Maximum:     ptr(20),
				},
				{
					Name:        "difficulty",
					Type:        TypeString,
					Description: "Difficulty level: 'easy', 'medium', or 'hard'.",
					Enum:        []string{"easy", "medium", "hard"},
				},
				{Name: "subject", Type: TypeString, Description: "The academic subject area."},
			},
		},
		{
			Name:        ConceptExplainer,
			Trigger:     "Use when the user is asking for an explanation, definition, or a deeper understanding of a specific concept.",
			Description: "A tool to explain concepts in detail.",
			ChatHistory: true,
			Fields: []Field{
				{Name: "concept_to_explain", Type: TypeString, Description: "The specific concept the user wants explained."},
				{Name: "current_topic", Type: TypeString, Description: "The broader subject or topic context for the explanation."},
				{
					Name:        "desired_depth",
					Type:        TypeString,
					Description: "The level of detail: 'basic', 'intermediate', 'advanced', or 'comprehensive'.",
					Enum:        []string{"basic", "intermediate", "advanced", "comprehensive"},
				},
			},
		},
		{
			Name:        SignLanguage,
			Trigger:     "Use when the user wants to learn or translate words or phrases into sign language.",
			Description: "A tool to show words or phrases in sign language.",
			Fields: []Field{
				{Name: "phrase_to_translate", Type: TypeString, Description: "The specific word or phrase the user wants to see in sign language."},
				{
					Name:        "language",
					Type:        TypeString,
					Description: "The sign language to use, e.g., ASL (American Sign Language). Default to ASL if not specified.",
					Default:     "ASL",
				},
				{Name: "output_format", Type: TypeString, Description: "The desired output format, e.g., 'animated_gif' or 'video_clip'."},
			},
		},
	}
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return MustNew(DefaultTools()...)
}

// Load reads a YAML catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML (or JSON) catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if len(f.Tools) == 0 {
		return nil, fmt.Errorf("parsing catalog: no tools declared")
	}
	return New(f.Tools...)
}
