package main

import (
	"fmt"
	"os"
	"path/filepath"

	"availtrack/internal/config"
	"availtrack/internal/inventory"
	"availtrack/internal/storage"
)

func openStore(cfg config.Config) (storage.Store, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return storage.NewMemoryStore(), nil
	case config.StorageFile:
		if err := os.MkdirAll(cfg.DataDirectory, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		return storage.NewFileStore(cfg.SnapshotPath())
	case config.StorageSQLite:
		path := cfg.ResolvedDatabasePath()
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		return storage.NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage)
	}
}

func buildRegistry(cfg config.Config) *inventory.Registry {
	reg := inventory.NewRegistry()
	for _, agent := range cfg.Agents {
		for _, resourceID := range agent.Resources {
			reg.Register(agent.Name, resourceID)
		}
	}
	for _, group := range cfg.Groups {
		reg.DefineGroup(inventory.Group{ID: group.ID, Name: group.Name, Resources: group.Resources})
	}
	return reg
}
