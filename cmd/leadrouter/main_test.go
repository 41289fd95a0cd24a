package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/LeadRouter/internal/config"
	"github.com/MikeSquared-Agency/LeadRouter/internal/crm"
)

const fixture = `{
  "agents": [
    {"id": "a1", "name": "Avery", "expertise": {"Tech": {"conversion_rate": 0.7, "sample_size": 20}}},
    {"id": "a2", "name": "Blake", "available": false}
  ],
  "leads": [
    {"id": "l1", "industry": "Tech", "status": "new", "created_at": "2026-01-01T00:00:00Z"}
  ]
}`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))
	return path
}

func TestTenantOrDefault(t *testing.T) {
	cfg := &config.Config{}
	cfg.Routing.Tenants = []string{"acme"}

	got, err := tenantOrDefault(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "acme", got)

	got, err = tenantOrDefault(cfg, "globex")
	require.NoError(t, err)
	assert.Equal(t, "globex", got)

	cfg.Routing.Tenants = []string{"acme", "globex"}
	_, err = tenantOrDefault(cfg, "")
	assert.Error(t, err)
}

func TestNewLoggerLevels(t *testing.T) {
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "text"})
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))

	logger = newLogger(config.LoggingConfig{Level: "debug", Format: "json"})
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewConnectorLoadsSnapshotPerTenant(t *testing.T) {
	cfg := &config.Config{}
	cfg.Routing.Tenants = []string{"acme", "globex"}
	cfg.CRM.SnapshotPath = writeFixture(t)

	conn, err := newConnector(cfg)
	require.NoError(t, err)
	require.IsType(t, &crm.MemoryProvider{}, conn)

	ctx := context.Background()
	for _, tenant := range cfg.Routing.Tenants {
		agents, err := conn.ListAgents(ctx, tenant)
		require.NoError(t, err)
		assert.Len(t, agents, 2)

		leads, err := conn.ListLeads(ctx, tenant, "")
		require.NoError(t, err)
		assert.Len(t, leads, 1)
	}
}

func TestNewConnectorRequiresSource(t *testing.T) {
	_, err := newConnector(&config.Config{})
	assert.Error(t, err)

	cfg := &config.Config{}
	cfg.CRM.URL = "http://crm.local"
	conn, err := newConnector(cfg)
	require.NoError(t, err)
	assert.IsType(t, &crm.HTTPClient{}, conn)
}

func TestBuildAppInMemory(t *testing.T) {
	cfg := &config.Config{}
	cfg.Routing.Tenants = []string{"acme"}
	cfg.CRM.SnapshotPath = writeFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := buildApp(context.Background(), cfg, logger, true)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.store)
	assert.NotNil(t, a.broker)
}
