package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/execgw/internal/storage Store

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("entity not found")

// Store is a byte-value key/value store for entities.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Supported backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config selects and locates a backend.
type Config struct {
	Backend string
	Path    string
}

// Open opens the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendSQLite, "":
		if err := validateLocalFilesystem(cfg.Path, BackendSQLite); err != nil {
			return nil, err
		}
		db, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(db), nil
	case BackendBadger:
		if err := validateLocalFilesystem(cfg.Path, BackendBadger); err != nil {
			return nil, err
		}
		return OpenBadger(cfg.Path)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
