package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	EnvEnvironment = "COMMITVAULT_ENV"
	EnvAuthSecret  = "COMMITVAULT_AUTH_SECRET"
)

type Config struct {
	ListenAddress  string           `toml:"ListenAddress" yaml:"listenAddress"`
	DataDir        string           `toml:"DataDir" yaml:"dataDir"`
	AuditDatabase  string           `toml:"AuditDatabase" yaml:"auditDatabase"`
	LogFile        string           `toml:"LogFile" yaml:"logFile"`
	Environment    string           `toml:"Environment" yaml:"environment"`
	TrustedProxies []string         `toml:"TrustedProxies" yaml:"trustedProxies"`
	Auth           Auth             `toml:"auth" yaml:"auth"`
	RateLimit      RateLimit        `toml:"rate_limit" yaml:"rateLimit"`
	Telemetry      Telemetry        `toml:"telemetry" yaml:"telemetry"`
	Genesis        []GenesisAccount `toml:"genesis" yaml:"genesis"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	return &Config{
		ListenAddress: "127.0.0.1:8547",
		DataDir:       "./commitvault-data",
		AuditDatabase: "audit.db",
		Environment:   "dev",
		Auth: Auth{
			Issuer:    "commitvault",
			ClockSkew: 30 * time.Second,
		},
		RateLimit: RateLimit{
			RequestsPerMinute: 120,
			Burst:             20,
		},
		Telemetry: Telemetry{Endpoint: "localhost:4318", Insecure: true},
		Genesis:   []GenesisAccount{},
	}
}

// Load loads the configuration from the given path. A missing file is
// created with defaults. Files ending in .yaml or .yml are decoded as YAML,
// everything else as TOML.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0])
		}
	}
	cfg.applyEnv()
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func (c *Config) applyEnv() {
	if env := strings.TrimSpace(os.Getenv(EnvEnvironment)); env != "" {
		c.Environment = env
	}
	if secret := os.Getenv(EnvAuthSecret); secret != "" {
		c.Auth.HMACSecret = secret
	}
}

// resolvePaths places a relative audit database under DataDir.
func (c *Config) resolvePaths() {
	if c.AuditDatabase != "" && !filepath.IsAbs(c.AuditDatabase) && c.DataDir != "" {
		c.AuditDatabase = filepath.Join(c.DataDir, c.AuditDatabase)
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.resolvePaths()
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}
