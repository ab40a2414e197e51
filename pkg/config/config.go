package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/policyguard/pkg/logging"
)

// EnvConfigPath overrides the default config file location.
const EnvConfigPath = "POLICYGUARD_CONFIG"

var providerEnv = map[string]string{
	"gemini":    "GOOGLE_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

type ProviderConfig struct {
	APIKey string `yaml:"api_key"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type EngineConfig struct {
	// CatalogDir holds YAML catalogs that extend or replace the builtin ones.
	CatalogDir string `yaml:"catalog_dir"`
	// RemediationDir holds YAML fix-plan templates that extend the builtin ones.
	RemediationDir string   `yaml:"remediation_dir"`
	Parallelism    int      `yaml:"parallelism"`
	Frameworks     []string `yaml:"default_frameworks"`
}

type EmbeddingConfig struct {
	// Provider is one of hashing, gemini or onnx.
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	ModelDir   string `yaml:"model_dir"`
	SeqLen     int    `yaml:"seq_len"`
}

type RiskConfig struct {
	ModelPath string `yaml:"model_path"`
	AutoTrain bool   `yaml:"auto_train"`
}

type ReasoningConfig struct {
	// Strategy is rule_based or generative.
	Strategy string `yaml:"strategy"`
}

type TimeoutConfig struct {
	Analysis   time.Duration `yaml:"analysis"`
	Embedding  time.Duration `yaml:"embedding"`
	Classifier time.Duration `yaml:"classifier"`
	Reasoning  time.Duration `yaml:"reasoning"`
}

// LexiconConfig overrides the builtin word lists. Empty fields keep the defaults.
type LexiconConfig struct {
	WeakIndicators []string            `yaml:"weak_indicators"`
	Rewrites       []RewriteRule       `yaml:"rewrites"`
	Pillars        map[string][]string `yaml:"pillars"`
	// MinClauseWords flags shorter clauses as weak; 0 disables the rule.
	MinClauseWords int `yaml:"min_clause_words"`
}

type RewriteRule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Config struct {
	SelectedProvider string                    `yaml:"selected_provider"`
	SelectedModel    string                    `yaml:"selected_model"`
	Providers        map[string]ProviderConfig `yaml:"providers"`

	Log       LogConfig       `yaml:"log"`
	Engine    EngineConfig    `yaml:"engine"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Risk      RiskConfig      `yaml:"risk"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Lexicon   LexiconConfig   `yaml:"lexicon"`
	Server    ServerConfig    `yaml:"server"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		SelectedProvider: "gemini",
		SelectedModel:    "gemini-1.5-flash",
		Providers:        make(map[string]ProviderConfig),
		Log:              LogConfig{Level: "info"},
		Engine: EngineConfig{
			Parallelism: 4,
		},
		Embedding: EmbeddingConfig{
			Provider:   "hashing",
			Model:      "text-embedding-004",
			Dimensions: 384,
			BatchSize:  32,
			SeqLen:     128,
		},
		Risk:      RiskConfig{AutoTrain: true},
		Reasoning: ReasoningConfig{Strategy: "rule_based"},
		Lexicon:   LexiconConfig{MinClauseWords: 10},
		Timeouts: TimeoutConfig{
			Analysis:   60 * time.Second,
			Embedding:  15 * time.Second,
			Classifier: 2 * time.Second,
			Reasoning:  20 * time.Second,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

func GetConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".policyguard")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

func LoadConfig() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path. A missing file yields Default().
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

func SaveTo(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	// 0600 permissions for security (api keys)
	return os.WriteFile(path, data, 0600)
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Engine.Parallelism < 1 {
		return fmt.Errorf("engine.parallelism must be at least 1, got %d", c.Engine.Parallelism)
	}

	switch c.Embedding.Provider {
	case "hashing":
		if c.Embedding.Dimensions < 8 {
			return fmt.Errorf("embedding.dimensions must be at least 8, got %d", c.Embedding.Dimensions)
		}
	case "gemini":
		if c.Embedding.Model == "" {
			return errors.New("embedding.model is required for the gemini provider")
		}
	case "onnx":
		if c.Embedding.ModelDir == "" {
			return errors.New("embedding.model_dir is required for the onnx provider")
		}
		if c.Embedding.SeqLen < 8 {
			return fmt.Errorf("embedding.seq_len must be at least 8, got %d", c.Embedding.SeqLen)
		}
	default:
		return fmt.Errorf("unknown embedding.provider %q (want hashing, gemini or onnx)", c.Embedding.Provider)
	}
	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("embedding.batch_size must be at least 1, got %d", c.Embedding.BatchSize)
	}

	switch c.Reasoning.Strategy {
	case "rule_based":
	case "generative":
		if _, ok := providerEnv[c.SelectedProvider]; !ok {
			return fmt.Errorf("reasoning.strategy generative needs a known selected_provider, got %q", c.SelectedProvider)
		}
	default:
		return fmt.Errorf("unknown reasoning.strategy %q (want rule_based or generative)", c.Reasoning.Strategy)
	}

	timeouts := map[string]time.Duration{
		"analysis":   c.Timeouts.Analysis,
		"embedding":  c.Timeouts.Embedding,
		"classifier": c.Timeouts.Classifier,
		"reasoning":  c.Timeouts.Reasoning,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("timeouts.%s must be positive", name)
		}
	}

	for pillar := range c.Lexicon.Pillars {
		switch pillar {
		case "confidentiality", "integrity", "availability":
		default:
			return fmt.Errorf("lexicon.pillars: unknown pillar %q", pillar)
		}
	}
	if c.Lexicon.MinClauseWords < 0 {
		return errors.New("lexicon.min_clause_words must not be negative")
	}
	for i, r := range c.Lexicon.Rewrites {
		if strings.TrimSpace(r.From) == "" {
			return fmt.Errorf("lexicon.rewrites[%d]: from is empty", i)
		}
	}

	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	return nil
}

func (c *Config) SetAPIKey(provider, key string) {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	p := c.Providers[provider]
	p.APIKey = key
	c.Providers[provider] = p
}

// GetAPIKey returns the stored key, falling back to the provider's environment variable.
func (c *Config) GetAPIKey(provider string) string {
	if key := c.Providers[provider].APIKey; key != "" {
		return key
	}
	if env, ok := providerEnv[provider]; ok {
		return os.Getenv(env)
	}
	return ""
}
