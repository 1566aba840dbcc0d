package storage

import (
	"fmt"

	"edgelink/internal/storage/postgres"
	"edgelink/internal/storage/sqlite"
)

// NewStorage creates a storage adapter from a typed configuration.
func NewStorage(config StorageConfig) (Storage, error) {
	switch cfg := config.(type) {
	case *sqlite.Config:
		return sqlite.NewAdapter(cfg)
	case *postgres.Config:
		return postgres.NewAdapter(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage config type %T", config)
	}
}
