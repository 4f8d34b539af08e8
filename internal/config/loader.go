package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/zalando/go-keyring"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".groupjournal"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "GROUPJOURNAL"

	keyringService = "groupjournal"
	keyringUser    = "provider.apiKey"
)

// keyringGet is swapped out in tests.
var keyringGet = keyring.Get

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv(EnvPrefix + "_CONFIG")); explicit != "" {
		return expandHomeWith(explicit, resolveHomeDir)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv(EnvPrefix + "_HOME")); h != "" {
		return expandHomeWith(h, os.UserHomeDir)
	}
	return os.UserHomeDir()
}

func expandHomeWith(p string, home func() (string, error)) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	base, err := home()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, p[1:]), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load process env vars from ~/.config/groupjournal/env (and fallbacks) first.
	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}

	// Override with environment variables for each group. Tags carry the
	// section name, so GROUPJOURNAL_BACKFILL_COOLDOWN maps to Backfill.Cooldown.
	sections := []any{
		&cfg.Gateway, &cfg.Model, &cfg.Provider, &cfg.Analysis, &cfg.Synthesis,
		&cfg.Cascade, &cfg.Backfill, &cfg.Artifact, &cfg.Store, &cfg.Bus, &cfg.Log,
	}
	for _, section := range sections {
		if err := envconfig.Process(EnvPrefix, section); err != nil {
			return nil, fmt.Errorf("config: env override: %w", err)
		}
	}

	// Fallback for API Key
	if cfg.Provider.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.Provider.APIKey = key
		} else if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
			cfg.Provider.APIKey = key
		} else if key, err := keyringGet(keyringService, keyringUser); err == nil {
			cfg.Provider.APIKey = strings.TrimSpace(key)
		}
	}

	expandHome := func(p *string) {
		if v, err := expandHomeWith(*p, os.UserHomeDir); err == nil {
			*p = v
		}
	}
	if cfg.Store.Driver != "postgres" {
		expandHome(&cfg.Store.DSN)
	}
	expandHome(&cfg.Backfill.LockPath)

	cfg.Validate()
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil // If file doesn't exist, continue with defaults
	}
	if err != nil {
		return err
	}
	data = substituteEnv(data)
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate clamps out-of-range values back to their defaults. Load calls it;
// callers building a Config by hand should too.
func (c *Config) Validate() {
	def := DefaultConfig()
	if c.Analysis.Threshold <= 0 {
		c.Analysis.Threshold = def.Analysis.Threshold
	}
	if c.Analysis.Timeout <= 0 {
		c.Analysis.Timeout = def.Analysis.Timeout
	}
	kinds := c.Analysis.Kinds[:0:0]
	for _, k := range c.Analysis.Kinds {
		if k = strings.TrimSpace(k); k != "" {
			kinds = append(kinds, k)
		}
	}
	if len(kinds) == 0 {
		kinds = def.Analysis.Kinds
	}
	c.Analysis.Kinds = kinds
	if c.Synthesis.CorpusBudget <= 0 {
		c.Synthesis.CorpusBudget = def.Synthesis.CorpusBudget
	}
	if c.Synthesis.Timeout <= 0 {
		c.Synthesis.Timeout = def.Synthesis.Timeout
	}
	if c.Synthesis.Retries < 0 {
		c.Synthesis.Retries = 0
	}
	if c.Cascade.MaxConcurrent <= 0 {
		c.Cascade.MaxConcurrent = def.Cascade.MaxConcurrent
	}
	if c.Backfill.Workers <= 0 {
		c.Backfill.Workers = def.Backfill.Workers
	}
	if c.Backfill.Cooldown < 0 {
		c.Backfill.Cooldown = 0
	}
	if c.Backfill.Interval < 0 {
		c.Backfill.Interval = 0
	}
	if c.Artifact.Size <= 0 {
		c.Artifact.Size = def.Artifact.Size
	}
	if c.Gateway.ShutdownTimeout <= 0 {
		c.Gateway.ShutdownTimeout = 15 * time.Second
	}
	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "sqlite", "sqlite3", "postgres":
		c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	default:
		c.Store.Driver = def.Store.Driver
	}
	switch strings.ToLower(strings.TrimSpace(c.Bus.Driver)) {
	case "kafka":
		c.Bus.Driver = "kafka"
	default:
		c.Bus.Driver = "memory"
	}
	if c.Bus.BufferSize <= 0 {
		c.Bus.BufferSize = def.Bus.BufferSize
	}
	if c.Bus.Topic == "" {
		c.Bus.Topic = def.Bus.Topic
	}
	if c.Bus.ConsumerGroup == "" {
		c.Bus.ConsumerGroup = def.Bus.ConsumerGroup
	}
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnv replaces ${VAR} references in the raw config file with the
// value of VAR when it is set.
func substituteEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(envPattern.FindSubmatch(match)[1])
		if value, ok := os.LookupEnv(name); ok {
			quoted, _ := json.Marshal(value)
			return quoted[1 : len(quoted)-1]
		}
		return match
	})
}
