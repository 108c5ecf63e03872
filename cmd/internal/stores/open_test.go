package stores

import (
	"testing"

	"github.com/stretchr/testify/require"

	"channeld/config"
)

func TestOpenEmbeddedBackends(t *testing.T) {
	for _, backend := range []string{config.BackendLevelDB, config.BackendSQLite} {
		cfg := config.Default()
		cfg.DataDir = t.TempDir()
		cfg.Backend = backend

		store, err := Open(cfg)
		require.NoError(t, err, backend)
		head, err := store.Head()
		require.NoError(t, err, backend)
		require.Zero(t, head, backend)
		require.NoError(t, store.Close(), backend)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "bolt"
	_, err := Open(cfg)
	require.ErrorContains(t, err, "unknown storage backend")
}

func TestOpenPostgresNeedsDSN(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendPostgres
	_, err := Open(cfg)
	require.ErrorContains(t, err, "requires DSN")
}
