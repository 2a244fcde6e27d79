package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/rx1-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rx1-bridge/internal/infrastructure/database"
	"github.com/nerrad567/rx1-bridge/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 5})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	require.NoError(t, db.Migrate(ctx, migrations.FS))
	return NewSQLiteRepository(db.DB)
}

func TestCommandEntry(t *testing.T) {
	entry := CommandEntry("start_service", "content_processing/S1", SourceAPI,
		map[string]any{"service": "content_processing/S1"}, nil)

	assert.Equal(t, ActionCommand, entry.Action)
	assert.Equal(t, EntityTypeService, entry.EntityType)
	assert.Equal(t, "content_processing/S1", entry.EntityID)
	assert.Equal(t, SourceAPI, entry.Source)
	assert.Equal(t, "start_service", entry.Details["kind"])
	assert.Equal(t, true, entry.Details["success"])
	assert.NotContains(t, entry.Details, "error")

	failed := CommandEntry("refresh_services", "", SourceMQTT, nil, errors.New("HTTP 500: boom"))
	assert.Equal(t, EntityTypeDevice, failed.EntityType)
	assert.Equal(t, false, failed.Details["success"])
	assert.Equal(t, "HTTP 500: boom", failed.Details["error"])
	assert.NotContains(t, failed.Details, "options")
}

func TestCreateAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	entries := []*Entry{
		CommandEntry("start_service", "content_processing/S1", SourceAPI, nil, nil),
		CommandEntry("stop_service", "content_processing/S2", SourceMQTT, nil, nil),
		CommandEntry("refresh_services", "", SourceAPI, nil, nil),
	}
	for i, e := range entries {
		e.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Create(ctx, e))
		assert.Regexp(t, `^aud-[0-9a-f]{8}$`, e.ID)
	}

	all, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, defaultLimit, all.Limit)
	require.Len(t, all.Logs, 3)
	assert.Equal(t, "refresh_services", all.Logs[0].Details["kind"], "newest first")
	assert.True(t, all.Logs[2].CreatedAt.Equal(base))

	mqtt, err := repo.List(ctx, Filter{Source: SourceMQTT})
	require.NoError(t, err)
	require.Equal(t, 1, mqtt.Total)
	assert.Equal(t, "content_processing/S2", mqtt.Logs[0].EntityID)

	services, err := repo.List(ctx, Filter{EntityType: EntityTypeService, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, services.Total)
	require.Len(t, services.Logs, 1)
	assert.Equal(t, "content_processing/S1", services.Logs[0].EntityID)
}

func TestListClampsPaging(t *testing.T) {
	repo := newTestRepo(t)

	result, err := repo.List(context.Background(), Filter{Limit: 10_000, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, maxLimit, result.Limit)
	assert.Equal(t, 0, result.Offset)
	assert.NotNil(t, result.Logs)
	assert.Empty(t, result.Logs)
}
