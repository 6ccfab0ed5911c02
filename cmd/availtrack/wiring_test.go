package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"availtrack/internal/config"
	"availtrack/internal/storage"
)

func TestOpenStoreBackends(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDirectory = filepath.Join(t.TempDir(), "nested", "data")

	for _, backend := range []string{config.StorageMemory, config.StorageFile, config.StorageSQLite} {
		cfg.Storage = backend
		store, err := openStore(cfg)
		require.NoError(t, err, backend)
		require.NoError(t, store.Close(), backend)
	}

	cfg.Storage = "cassandra"
	_, err := openStore(cfg)
	assert.Error(t, err)
}

func TestOpenStoreMemoryIsInMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage = config.StorageMemory
	store, err := openStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStore{}, store)
}

func TestBuildRegistry(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agents = []config.Agent{
		{Name: "edge-1", Resources: []string{"web", "api"}},
		{Name: "edge-2", Resources: []string{"db"}},
	}
	cfg.Groups = []config.Group{{ID: "shop", Name: "Shop", Resources: []string{"web", "db"}}}

	reg := buildRegistry(cfg)
	assert.Equal(t, []string{"api", "web"}, reg.ResourcesForAgent("edge-1"))
	assert.True(t, reg.ResourceExists("db"))
	members, ok := reg.GroupMembers("shop")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"web", "db"}, members)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0)
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "purge")
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}
