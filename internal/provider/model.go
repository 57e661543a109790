package provider

import (
	"fmt"
	"strings"
)

// ModelRef addresses one model on one backend as "provider/model". Model ids
// may themselves contain slashes; only the first one separates the parts.
type ModelRef string

func NewModelRef(providerID, modelID string) ModelRef {
	return ModelRef(providerID + "/" + modelID)
}

func (r ModelRef) split() (prov, model string, ok bool) {
	return strings.Cut(string(r), "/")
}

func (r ModelRef) Provider() string {
	prov, _, _ := r.split()
	if prov == string(r) {
		return ""
	}
	return prov
}

// Model is the backend-local id. A ref without a slash is all model.
func (r ModelRef) Model() string {
	if _, model, ok := r.split(); ok {
		return model
	}
	return string(r)
}

func (r ModelRef) String() string { return string(r) }

func (r ModelRef) Valid() bool {
	prov, model, ok := r.split()
	return ok && prov != "" && model != ""
}

// ParseModelRef accepts surrounding whitespace, as found in hand-written
// fallback lists.
func ParseModelRef(s string) (ModelRef, error) {
	ref := ModelRef(strings.TrimSpace(s))
	if !ref.Valid() {
		return "", fmt.Errorf("model ref %q: want provider/model", s)
	}
	return ref, nil
}

// ModelInfo is the per-model metadata declared in configuration.
type ModelInfo struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	ProviderID string `json:"provider_id" yaml:"provider_id"`
	MaxTokens  int    `json:"max_tokens" yaml:"max_tokens"`
}

func (m ModelInfo) Ref() ModelRef { return NewModelRef(m.ProviderID, m.ID) }

// Models is a backend's declared model list.
type Models []ModelInfo

// MaxTokens returns the output cap declared for id, or 0 when the model is
// not listed or declares none.
func (ms Models) MaxTokens(id string) int {
	for _, m := range ms {
		if m.ID == id {
			return m.MaxTokens
		}
	}
	return 0
}
