package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.StorageBackend)
	require.NoError(t, cfg.CacheLimits().Validate())
}

func TestLoadAppliesEnvOverDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CACHING", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.False(t, cfg.CacheEnabled)
}

func TestLoadFromYAMLFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "annocache-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("port: \"7070\"\nworkerCount: 2\nstorageBackend: bolt\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, "bolt", cfg.StorageBackend)
}

func TestMongoConnectionStringSelectsMongoBackend(t *testing.T) {
	t.Setenv("MONGO_CONNECTION_STRING", "mongodb://localhost:27017")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mongo", cfg.StorageBackend)
}
