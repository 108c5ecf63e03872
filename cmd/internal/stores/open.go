// Package stores opens the state store selected in the node configuration.
package stores

import (
	"fmt"
	"os"
	"path/filepath"

	"channeld/config"
	"channeld/storage"
	"channeld/storage/sqlstore"
	"channeld/storage/statelog"
)

// Open returns the backend named by cfg.Backend. The leveldb and sqlite
// backends live under cfg.DataDir unless a DSN overrides the sqlite file.
func Open(cfg *config.Config) (storage.StateStore, error) {
	switch cfg.Backend {
	case config.BackendLevelDB, "":
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return statelog.OpenLevelDB(filepath.Join(cfg.DataDir, "statelog"))
	case config.BackendSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn = filepath.Join(cfg.DataDir, "channeld.db")
		}
		return sqlstore.OpenSQLite(dsn)
	case config.BackendPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires DSN")
		}
		return sqlstore.OpenPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
