package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testYAML = `
server:
  addr: ":9090"
  grpc_addr: ":9091"
  request_timeout: 45s

oracle:
  providers:
    gemini:
      base_url: "https://generativelanguage.googleapis.com/v1beta/openai"
      api_key: "${GOOGLE_API_KEY}"
      api: openai-completions
    anthropic:
      api_key: "${ANTHROPIC_API_KEY}"
      api: anthropic-messages
    ollama:
      base_url: "http://localhost:11434/v1"
      api: openai-completions
      models:
        - id: llama3
          name: Llama 3 8B
          max_tokens: 2048
  primary: gemini/gemini-pro-latest
  fallbacks:
    - anthropic/claude-3-5-haiku-latest
    - ollama/llama3
  timeout: 20s
  temperature: 0
  cooldown:
    initial: 30s
    max: 10m
    multiplier: 3

catalog:
  path: ./catalog.yaml

router:
  filter_unknown: true
  rules:
    - Prefer the Concept Explainer Tool for "why" questions.

extractor:
  rules:
    - Subjects are capitalized.

workflow:
  max_tools: 8

profile:
  user_id: learner-7
  name: Sam
  grade_level: "11"
  learning_style_summary: Likes diagrams.
  emotional_state_summary: Curious
  mastery_level_summary: Level 4

cache:
  redis_url: "${REDIS_URL}"
  ttl: 15m

audit:
  driver: sqlite
  dsn: /var/lib/tutorflow/audit.db
  retention: 168h
  prune_schedule: "0 3 * * *"

metrics:
  enabled: false

log:
  level: debug
  format: json
`

func TestParseConfig(t *testing.T) {
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" || cfg.Server.GRPCAddr != ":9091" {
		t.Errorf("server addrs = %q %q", cfg.Server.Addr, cfg.Server.GRPCAddr)
	}
	if cfg.Server.RequestTimeout != 45*time.Second {
		t.Errorf("request_timeout = %v, want 45s", cfg.Server.RequestTimeout)
	}
	if len(cfg.Oracle.Providers) != 3 {
		t.Errorf("expected 3 providers, got %d", len(cfg.Oracle.Providers))
	}
	ollama := cfg.Oracle.Providers["ollama"]
	if len(ollama.Models) != 1 || ollama.Models[0].ID != "llama3" || ollama.Models[0].MaxTokens != 2048 {
		t.Errorf("ollama models = %+v", ollama.Models)
	}
	if cfg.Oracle.Primary != "gemini/gemini-pro-latest" {
		t.Errorf("primary = %q", cfg.Oracle.Primary)
	}
	if len(cfg.Oracle.Fallbacks) != 2 {
		t.Errorf("fallbacks = %d, want 2", len(cfg.Oracle.Fallbacks))
	}
	if cfg.Oracle.Timeout != 20*time.Second {
		t.Errorf("timeout = %v, want 20s", cfg.Oracle.Timeout)
	}
	if cfg.Oracle.Cooldown.Initial != 30*time.Second || cfg.Oracle.Cooldown.Max != 10*time.Minute || cfg.Oracle.Cooldown.Multiplier != 3 {
		t.Errorf("cooldown = %+v", cfg.Oracle.Cooldown)
	}
	if cfg.Catalog.Path != "./catalog.yaml" {
		t.Errorf("catalog.path = %q", cfg.Catalog.Path)
	}
	if !cfg.Router.FilterUnknown {
		t.Error("router.filter_unknown should be true")
	}
	if len(cfg.Router.Rules) != 1 || len(cfg.Extractor.Rules) != 1 || cfg.Extractor.Rules[0] != "Subjects are capitalized." {
		t.Errorf("rules = %v / %v", cfg.Router.Rules, cfg.Extractor.Rules)
	}
	if cfg.Workflow.MaxTools != 8 {
		t.Errorf("max_tools = %d, want 8", cfg.Workflow.MaxTools)
	}
	if cfg.Profile.UserID != "learner-7" || cfg.Profile.GradeLevel != "11" {
		t.Errorf("profile = %+v", cfg.Profile)
	}
	if cfg.Cache.TTL != 15*time.Minute {
		t.Errorf("cache.ttl = %v", cfg.Cache.TTL)
	}
	if cfg.Audit.Driver != "sqlite" || cfg.Audit.Retention != 168*time.Hour || cfg.Audit.PruneSchedule != "0 3 * * *" {
		t.Errorf("audit = %+v", cfg.Audit)
	}
	if cfg.Metrics.On() {
		t.Error("metrics should be disabled")
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseEmptyConfigAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, DefaultAddr)
	}
	if cfg.Oracle.Primary != "gemini/gemini-pro-latest" {
		t.Errorf("primary = %q", cfg.Oracle.Primary)
	}
	if _, ok := cfg.Oracle.Providers["gemini"]; !ok {
		t.Error("default gemini provider missing")
	}
	if cfg.Oracle.Timeout != DefaultOracleTimeout {
		t.Errorf("timeout = %v", cfg.Oracle.Timeout)
	}
	if cfg.Oracle.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", cfg.Oracle.Temperature)
	}
	if cfg.Profile.UserID != "student123" || cfg.Profile.Name != "Alex" {
		t.Errorf("profile = %+v", cfg.Profile)
	}
	if !cfg.Metrics.On() {
		t.Error("metrics should default to enabled")
	}
	if cfg.Audit.Driver != "" {
		t.Errorf("audit should be off by default, got %q", cfg.Audit.Driver)
	}
	if cfg.Audit.PruneSchedule != DefaultPruneSchedule {
		t.Errorf("prune_schedule = %q", cfg.Audit.PruneSchedule)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestDefaultMatchesEmptyParse(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "g-key")
	cfg := Default()
	if cfg.Oracle.Providers["gemini"].APIKey != "g-key" {
		t.Errorf("api_key = %q, want g-key", cfg.Oracle.Providers["gemini"].APIKey)
	}
}

func TestExplicitProvidersSuppressDefault(t *testing.T) {
	cfg, err := Parse([]byte(`
oracle:
  providers:
    local:
      base_url: http://localhost:11434/v1
      api: openai-completions
  primary: local/llama3
`))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cfg.Oracle.Providers["gemini"]; ok {
		t.Error("default provider should not be merged into explicit providers")
	}
}

func TestEnvSubstitution(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "g-test-123")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")

	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Oracle.Providers["gemini"].APIKey != "g-test-123" {
		t.Errorf("gemini api_key = %q", cfg.Oracle.Providers["gemini"].APIKey)
	}
	if cfg.Cache.RedisURL != "redis://cache:6379/0" {
		t.Errorf("redis_url = %q", cfg.Cache.RedisURL)
	}
}

func TestEnvSubstitutionPreservesUnsetVars(t *testing.T) {
	//nolint:errcheck // test cleanup of env var
	os.Unsetenv("ANTHROPIC_API_KEY")
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Oracle.Providers["anthropic"].APIKey != "${ANTHROPIC_API_KEY}" {
		t.Errorf("unset env var should be preserved, got %q", cfg.Oracle.Providers["anthropic"].APIKey)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("{{invalid yaml"))
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestParseInvalidDuration(t *testing.T) {
	_, err := Parse([]byte("oracle:\n  timeout: soon\n"))
	if err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TF_A", "alpha")
	t.Setenv("TF_B", "beta")
	tests := []struct {
		in, want string
	}{
		{"${TF_A}", "alpha"},
		{"x-${TF_A}-${TF_B}", "x-alpha-beta"},
		{"${TF_UNSET_XYZ}", "${TF_UNSET_XYZ}"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := expandEnv(tt.in); got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Oracle.Primary != "gemini/gemini-pro-latest" {
		t.Errorf("primary = %q", cfg.Oracle.Primary)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TF_DOTENV_KEY=from-file\nTF_DOTENV_SET=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TF_DOTENV_SET", "from-env")
	t.Setenv("TF_DOTENV_KEY", "")
	//nolint:errcheck // cleared so godotenv sets it
	os.Unsetenv("TF_DOTENV_KEY")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("TF_DOTENV_KEY"); got != "from-file" {
		t.Errorf("TF_DOTENV_KEY = %q, want from-file", got)
	}
	if got := os.Getenv("TF_DOTENV_SET"); got != "from-env" {
		t.Errorf("existing variable overridden: %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown provider", "oracle:\n  providers: {a: {api: openai-completions}}\n  primary: b/model\n", `provider "b" not configured`},
		{"bad model ref", "oracle:\n  providers: {a: {api: openai-completions}}\n  primary: model-only\n", "want provider/model"},
		{"bad fallback", "oracle:\n  providers: {a: {api: openai-completions}}\n  primary: a/m\n  fallbacks: [z/m]\n", `provider "z"`},
		{"temperature", "oracle:\n  temperature: 3\n", "temperature"},
		{"max tools", "workflow:\n  max_tools: -1\n", "max_tools"},
		{"audit driver", "audit:\n  driver: mysql\n  dsn: x\n", "audit.driver"},
		{"audit dsn", "audit:\n  driver: postgres\n", "audit.dsn"},
		{"log level", "log:\n  level: loud\n", "log.level"},
		{"log format", "log:\n  format: xml\n", "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	log.Info("hidden")
	log.Warn("shown", "tool", "Note Maker Tool")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, `"tool":"Note Maker Tool"`) {
		t.Errorf("expected JSON record, got %q", out)
	}
}
