package config

import (
	"fmt"
	"strings"
)

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLevelDB:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("config: DataDir required for leveldb backend")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.DSN) == "" && strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("config: DSN or DataDir required for sqlite backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DSN) == "" {
			return fmt.Errorf("config: DSN required for postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.ChainID == 0 {
		return fmt.Errorf("config: ChainID must be set")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("config: QueueCapacity must be positive")
	}
	if c.Snapshot.Retain <= 0 {
		return fmt.Errorf("config: Snapshot.Retain must be positive")
	}
	if c.Snapshot.Every == 0 && c.Snapshot.IntervalSeconds == 0 {
		return fmt.Errorf("config: Snapshot.Every and Snapshot.IntervalSeconds cannot both be zero")
	}
	if c.ChainSubmitsPerSecond < 0 {
		return fmt.Errorf("config: ChainSubmitsPerSecond cannot be negative")
	}
	if c.Webhook.URL != "" && strings.TrimSpace(c.Webhook.SecretEnv) == "" {
		return fmt.Errorf("config: Webhook.SecretEnv required when Webhook.URL is set")
	}
	if c.Environment == "prod" && strings.TrimSpace(c.Ingest.AuthSecretEnv) == "" {
		return fmt.Errorf("config: Ingest.AuthSecretEnv required in prod")
	}
	return nil
}
