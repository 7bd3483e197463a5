package store

import (
	"fmt"

	"github.com/fyrsmithlabs/verdictd/internal/config"
	"go.uber.org/zap"
)

// NewStore creates the Store selected by cfg.Backend:
//   - "sqlite" (default): durable SQLiteStore at cfg.Path
//   - "memory": MemoryStore, contents are lost on exit
//
// When the SQLite store cannot be opened and cfg.FallbackToMemory is set, a
// MemoryStore is returned instead and a warning is logged. The selection is
// made once; callers inject the result into the services that need it.
func NewStore(cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case "sqlite", "":
		s, err := NewSQLiteStore(cfg.Path)
		if err == nil {
			return s, nil
		}
		if !cfg.FallbackToMemory {
			return nil, err
		}
		logger.Warn("durable store unavailable, falling back to in-memory store",
			zap.String("path", cfg.Path),
			zap.Error(err))
		return NewMemoryStore(), nil

	case "memory":
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unsupported store backend: %s (supported: sqlite, memory)", cfg.Backend)
	}
}
