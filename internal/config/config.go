package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opentalon/tutorflow/internal/catalog"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Router    RouterConfig    `yaml:"router"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Profile   catalog.Profile `yaml:"profile"`
	Cache     CacheConfig     `yaml:"cache"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	GRPCAddr       string        `yaml:"grpc_addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type OracleConfig struct {
	Providers   map[string]ProviderConfig `yaml:"providers"`
	Primary     string                    `yaml:"primary"`
	Fallbacks   []string                  `yaml:"fallbacks"`
	Timeout     time.Duration             `yaml:"timeout"`
	Temperature float64                   `yaml:"temperature"`
	MaxTokens   int                       `yaml:"max_tokens"`
	Cooldown    CooldownConfig            `yaml:"cooldown"`
}

type ProviderConfig struct {
	BaseURL string            `yaml:"base_url"`
	APIKey  string            `yaml:"api_key"`
	API     string            `yaml:"api"`
	Models  []ModelDefinition `yaml:"models"`
}

type ModelDefinition struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	MaxTokens int    `yaml:"max_tokens"`
}

type CooldownConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier int           `yaml:"multiplier"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type RouterConfig struct {
	FilterUnknown bool `yaml:"filter_unknown"`
	// Rules are appended to the built-in routing rules.
	Rules []string `yaml:"rules"`
}

type ExtractorConfig struct {
	Rules []string `yaml:"rules"`
}

type WorkflowConfig struct {
	MaxTools int `yaml:"max_tools"`
}

type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

type AuditConfig struct {
	Driver        string        `yaml:"driver"`
	DSN           string        `yaml:"dsn"`
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule"`
}

type MetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// On reports whether metrics are enabled; unset means enabled.
func (m MetricsConfig) On() bool { return m.Enabled == nil || *m.Enabled }

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	DefaultAddr           = ":8000"
	DefaultRequestTimeout = 2 * time.Minute
	DefaultOracleTimeout  = 30 * time.Second
	DefaultCacheTTL       = time.Hour
	DefaultRetention      = 30 * 24 * time.Hour
	DefaultPruneSchedule  = "@daily"

	defaultProvider = "gemini"
	defaultPrimary  = "gemini/gemini-pro-latest"
)

// Default returns the configuration used when no file is given: the Gemini
// OpenAI-compatible endpoint keyed by GOOGLE_API_KEY and the built-in catalog.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	expandEnvInConfig(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}
	if len(cfg.Oracle.Providers) == 0 && cfg.Oracle.Primary == "" {
		cfg.Oracle.Providers = map[string]ProviderConfig{
			defaultProvider: {
				BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai",
				APIKey:  "${GOOGLE_API_KEY}",
				API:     "openai-completions",
			},
		}
		cfg.Oracle.Primary = defaultPrimary
	}
	if cfg.Oracle.Timeout == 0 {
		cfg.Oracle.Timeout = DefaultOracleTimeout
	}
	if cfg.Oracle.Cooldown.Initial == 0 {
		cfg.Oracle.Cooldown.Initial = time.Minute
	}
	if cfg.Oracle.Cooldown.Max == 0 {
		cfg.Oracle.Cooldown.Max = time.Hour
	}
	if cfg.Oracle.Cooldown.Multiplier == 0 {
		cfg.Oracle.Cooldown.Multiplier = 5
	}
	if cfg.Profile.IsZero() {
		cfg.Profile = catalog.DefaultProfile()
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Audit.Retention == 0 {
		cfg.Audit.Retention = DefaultRetention
	}
	if cfg.Audit.PruneSchedule == "" {
		cfg.Audit.PruneSchedule = DefaultPruneSchedule
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInConfig(cfg *Config) {
	for name, p := range cfg.Oracle.Providers {
		p.BaseURL = expandEnv(p.BaseURL)
		p.APIKey = expandEnv(p.APIKey)
		cfg.Oracle.Providers[name] = p
	}
	cfg.Cache.RedisURL = expandEnv(cfg.Cache.RedisURL)
	cfg.Audit.DSN = expandEnv(cfg.Audit.DSN)
	cfg.Catalog.Path = expandEnv(cfg.Catalog.Path)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyDefaults(&cfg)
	expandEnvInConfig(&cfg)
	return &cfg, nil
}

// LoadDotEnv loads KEY=value files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Validate reports configuration errors that would only surface at the
// first request otherwise.
func (c *Config) Validate() error {
	var errs []error
	if c.Oracle.Primary == "" {
		errs = append(errs, errors.New("oracle.primary is required"))
	}
	for _, ref := range append([]string{c.Oracle.Primary}, c.Oracle.Fallbacks...) {
		if ref == "" {
			continue
		}
		prov, model, ok := strings.Cut(ref, "/")
		if !ok || prov == "" || model == "" {
			errs = append(errs, fmt.Errorf("oracle model %q: want provider/model", ref))
			continue
		}
		if _, ok := c.Oracle.Providers[prov]; !ok {
			errs = append(errs, fmt.Errorf("oracle model %q: provider %q not configured", ref, prov))
		}
	}
	if c.Oracle.Timeout < 0 {
		errs = append(errs, errors.New("oracle.timeout must not be negative"))
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 2 {
		errs = append(errs, fmt.Errorf("oracle.temperature %v out of range [0, 2]", c.Oracle.Temperature))
	}
	if c.Workflow.MaxTools < 0 {
		errs = append(errs, errors.New("workflow.max_tools must not be negative"))
	}
	switch c.Audit.Driver {
	case "":
	case "sqlite", "postgres":
		if c.Audit.DSN == "" {
			errs = append(errs, fmt.Errorf("audit.dsn is required for driver %q", c.Audit.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.driver %q: want sqlite or postgres", c.Audit.Driver))
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger described by the log section.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
