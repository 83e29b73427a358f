package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "catalog")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DBNAME", "classifieds")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, _, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.HttpServer.Port)
	assert.Equal(t, SearchBackendElastic, cfg.Search.Backend)
	assert.Equal(t, []string{"http://localhost:9200"}, cfg.Search.Addresses)
	assert.Equal(t, 5*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 300*time.Second, cfg.Redis.ActiveListingsTTL)
	assert.Equal(t, 720*time.Hour, cfg.Listings.DefaultLifetime)
	assert.Equal(t, "@daily", cfg.Listings.CleanupSchedule)
	assert.Equal(t, uint64(3), cfg.Outbox.MaxRetries)
	assert.True(t, cfg.Postgres.Migrate)
	assert.Equal(t, "host=db port=5432 user=catalog password=secret dbname=classifieds sslmode=disable", cfg.Postgres.DSN())
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SEARCH_BACKEND", "memory")
	t.Setenv("ELASTICSEARCH_ADDRESSES", "http://es1:9200,http://es2:9200")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("OUTBOX_BATCH_SIZE", "10")

	cfg, _, err := Load()
	require.NoError(t, err)

	assert.Equal(t, SearchBackendMemory, cfg.Search.Backend)
	assert.Equal(t, []string{"http://es1:9200", "http://es2:9200"}, cfg.Search.Addresses)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 10, cfg.Outbox.BatchSize)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"SEARCH_BACKEND": "solr"}},
		{"zero batch", map[string]string{"OUTBOX_BATCH_SIZE": "0"}},
		{"bad duration", map[string]string{"SEARCH_TIMEOUT": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, _, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	// t.Setenv restores the variable after the test
	require.NoError(t, os.Unsetenv("POSTGRES_HOST"))

	_, _, err := Load()
	assert.Error(t, err)
}
