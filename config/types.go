package config

import "time"

// Storage backends.
const (
	BackendLevelDB  = "leveldb"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Snapshot controls when the engine writes state snapshots.
type Snapshot struct {
	// Every takes a snapshot after this many state changes.
	Every uint64 `toml:"Every"`
	// IntervalSeconds takes a snapshot after this much time.
	IntervalSeconds uint64 `toml:"IntervalSeconds"`
	// Retain is the number of snapshots kept.
	Retain int `toml:"Retain"`
}

// Interval returns IntervalSeconds as a duration.
func (s Snapshot) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// LogFile configures rotation of LogFile.
type LogFile struct {
	MaxSizeMB  int  `toml:"MaxSizeMB"`
	MaxBackups int  `toml:"MaxBackups"`
	MaxAgeDays int  `toml:"MaxAgeDays"`
	Compress   bool `toml:"Compress"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string            `toml:"Endpoint"`
	Insecure bool              `toml:"Insecure"`
	Traces   bool              `toml:"Traces"`
	Metrics  bool              `toml:"Metrics"`
	Headers  map[string]string `toml:"Headers"`
}

// Webhook configures the optional event webhook.
type Webhook struct {
	URL string `toml:"URL"`
	// SecretEnv names the environment variable holding the HMAC secret.
	SecretEnv string `toml:"SecretEnv"`
	// PaymentsOnly limits deliveries to payment outcomes and rejected input.
	PaymentsOnly bool `toml:"PaymentsOnly"`
}

// Ingest guards POST /v1/statechanges. Tokens are not checked when
// AuthSecretEnv is empty.
type Ingest struct {
	// AuthSecretEnv names the environment variable holding the HS256 secret.
	AuthSecretEnv string `toml:"AuthSecretEnv"`
	Issuer        string `toml:"Issuer"`
	Audience      string `toml:"Audience"`
}
