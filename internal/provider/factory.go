package provider

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/anthropics/anthropic-sdk-go/option"
)

// Wire formats accepted in a provider's api field.
const (
	APIOpenAI    = "openai-completions"
	APIAnthropic = "anthropic-messages"
)

// ProviderConfig is the backend section of the config file, flattened so
// this package need not import config.
type ProviderConfig struct {
	ID        string
	BaseURL   string
	APIKey    string
	API       string
	Models    []ModelInfo
	UserAgent string
}

type constructor func(ProviderConfig) Provider

var constructors = map[string]constructor{
	APIOpenAI: func(c ProviderConfig) Provider {
		var opts []OpenAIOption
		if c.UserAgent != "" {
			opts = append(opts, WithOpenAIUserAgent(c.UserAgent))
		}
		return NewOpenAIProvider(c.ID, c.BaseURL, c.APIKey, c.Models, opts...)
	},
	APIAnthropic: func(c ProviderConfig) Provider {
		var opts []option.RequestOption
		if c.UserAgent != "" {
			opts = append(opts, option.WithHeader("User-Agent", c.UserAgent))
		}
		return NewAnthropicProvider(c.ID, c.BaseURL, c.APIKey, c.Models, opts...)
	},
}

// FromConfig builds the backend named by cfg.API; empty means the OpenAI
// dialect. Models without a provider id are stamped with cfg.ID.
func FromConfig(cfg ProviderConfig) (Provider, error) {
	api := cfg.API
	if api == "" {
		api = APIOpenAI
	}
	build, ok := constructors[api]
	if !ok {
		known := slices.Sorted(maps.Keys(constructors))
		return nil, fmt.Errorf("provider %q: unknown api %q (want one of %s)", cfg.ID, cfg.API, strings.Join(known, ", "))
	}
	models := make([]ModelInfo, len(cfg.Models))
	for i, m := range cfg.Models {
		if m.ProviderID == "" {
			m.ProviderID = cfg.ID
		}
		models[i] = m
	}
	cfg.Models = models
	return build(cfg), nil
}
