package memory

import (
	"context"
	"fmt"

	"github.com/bdobrica/Kioku/internal/kioku/config"
)

// Open builds the memory store variant selected by the configuration.
// Selection happens exactly once, at startup; an unknown type or a missing
// path is a configuration error, raised before any request is served.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.StoreType {
	case config.StoreInMemory:
		return NewInMemoryStore(cfg.RetentionMaxEntries), nil
	case config.StoreSQLite:
		if cfg.StorePath == "" {
			return nil, &config.Error{Key: "MEMORY_STORE_PATH", Reason: "required for sqlite store"}
		}
		s, err := NewSQLiteStore(cfg.StorePath, cfg.RetentionMaxEntries, cfg.StoreTimeout)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case config.StorePostgres:
		if cfg.StorePath == "" {
			return nil, &config.Error{Key: "MEMORY_STORE_PATH", Reason: "required for postgresql store"}
		}
		s, err := NewPostgresStore(ctx, cfg.StorePath, cfg.RetentionMaxEntries, cfg.StoreTimeout)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		return nil, &config.Error{Key: "MEMORY_STORE_TYPE", Reason: fmt.Sprintf("unknown store type %q", cfg.StoreType)}
	}
}
