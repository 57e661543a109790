package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromConfig(t *testing.T) {
	tests := []struct {
		api  string
		want any
	}{
		{APIOpenAI, &OpenAIProvider{}},
		{"", &OpenAIProvider{}},
		{APIAnthropic, &AnthropicProvider{}},
	}
	for _, tt := range tests {
		t.Run("api="+tt.api, func(t *testing.T) {
			p, err := FromConfig(ProviderConfig{ID: "backend", APIKey: "k", API: tt.api, UserAgent: "tutorflow/test"})
			require.NoError(t, err)
			assert.Equal(t, "backend", p.ID())
			assert.IsType(t, tt.want, p)
		})
	}
}

func TestFromConfigUnknownAPI(t *testing.T) {
	_, err := FromConfig(ProviderConfig{ID: "custom", API: "google-gemini"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown api "google-gemini"`)
	assert.Contains(t, err.Error(), APIAnthropic+", "+APIOpenAI)
}

func TestFromConfigStampsModels(t *testing.T) {
	in := []ModelInfo{{ID: "llama3"}, {ID: "qwen2", ProviderID: "other"}}
	p, err := FromConfig(ProviderConfig{ID: "ollama", Models: in})
	require.NoError(t, err)

	models := p.Models()
	require.Len(t, models, 2)
	assert.Equal(t, ModelRef("ollama/llama3"), models[0].Ref())
	assert.Equal(t, "other", models[1].ProviderID)
	assert.Empty(t, in[0].ProviderID, "caller's slice is left alone")
}
