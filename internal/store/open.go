package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"doc-translator/internal/types"
)

// DefaultSQLiteFile is the database file created in the data directory.
const DefaultSQLiteFile = "doc-translator.db"

// Open returns the store selected by cfg.Driver: "memory", "sqlite" or
// "postgres".
func Open(ctx context.Context, cfg types.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return NewInMemory(), nil
	case "", "sqlite", "sqlite3":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dir := cfg.DataDir
			if dir == "" {
				dir = "."
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, types.NewAppError(types.ErrStore, "failed to create data directory", err)
			}
			dsn = "file:" + filepath.Join(dir, DefaultSQLiteFile) + "?_busy_timeout=5000&_journal_mode=WAL"
		}
		return OpenSQL(ctx, DriverSQLite, dsn)
	case "postgres", "postgresql":
		if cfg.DatabaseURL == "" {
			return nil, types.NewAppError(types.ErrConfig, "postgres storage requires database_url", nil)
		}
		return OpenSQL(ctx, DriverPostgres, cfg.DatabaseURL)
	default:
		return nil, types.NewAppErrorWithDetails(types.ErrConfig, "unknown storage driver", cfg.Driver, nil)
	}
}
