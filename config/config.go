package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the node configuration read from TOML.
type Config struct {
	DataDir      string `toml:"DataDir"`
	Backend      string `toml:"Backend"`
	DSN          string `toml:"DSN"`
	ChainID      uint64 `toml:"ChainID"`
	KeystorePath string `toml:"KeystorePath"`

	QueueCapacity         int     `toml:"QueueCapacity"`
	OpsAddress            string  `toml:"OpsAddress"`
	ChainSubmitsPerSecond float64 `toml:"ChainSubmitsPerSecond"`
	ChainSubmitBurst      int     `toml:"ChainSubmitBurst"`

	Environment string `toml:"Environment"`
	LogFile     string `toml:"LogFile"`
	LogLevel    string `toml:"LogLevel"`

	Snapshot  Snapshot  `toml:"Snapshot"`
	Log       LogFile   `toml:"LogRotation"`
	Telemetry Telemetry `toml:"Telemetry"`
	Webhook   Webhook   `toml:"Webhook"`
	Ingest    Ingest    `toml:"Ingest"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	cfg.KeystorePath = ""
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config: %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if strings.TrimSpace(cfg.KeystorePath) == "" {
		cfg.KeystorePath = defaultKeystorePath(path)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		DataDir:               "./channeld-data",
		Backend:               BackendLevelDB,
		ChainID:               1,
		KeystorePath:          "node.keystore",
		QueueCapacity:         1024,
		OpsAddress:            "127.0.0.1:9090",
		ChainSubmitsPerSecond: 5,
		ChainSubmitBurst:      10,
		Environment:           "dev",
		LogLevel:              "info",
		Snapshot: Snapshot{
			Every:           500,
			IntervalSeconds: 600,
			Retain:          3,
		},
		Log: LogFile{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	cfg.KeystorePath = defaultKeystorePath(path)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "node.keystore")
}
