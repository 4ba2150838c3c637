package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/repository"
	"deadlineTracker/internal/repository/deadline/sqlite"
	"deadlineTracker/internal/repository/repotest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorage(t *testing.T) *sqlite.Storage {
	t.Helper()
	storage, err := sqlite.New(filepath.Join(t.TempDir(), "data", "deadlines.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func TestStorage_Conformance(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repository.Store {
		return newStorage(t)
	})
}

func TestStorage_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "deadlines.db")

	storage, err := sqlite.New(path)
	require.NoError(t, err)

	due := time.Date(2024, time.July, 1, 23, 59, 59, 0, time.UTC)
	d := repotest.NewDeadline(uuid.New(), "Ethics review", due)
	require.NoError(t, storage.CreateDeadline(ctx, d))
	_, err = storage.TransitionStatus(ctx, d.ID, deadline.StatusPending, deadline.StatusInProgress, due.Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, storage.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetDeadline(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, deadline.StatusInProgress, got.Status)
	assert.True(t, due.Equal(got.DueAt))
	assert.Equal(t, 2, got.Version)
}

func TestStorage_TimesCompareAcrossZones(t *testing.T) {
	ctx := context.Background()
	storage := newStorage(t)

	zone := time.FixedZone("UTC-5", -5*60*60)
	// 20:00 в UTC-5 это 01:00 UTC следующего дня
	due := time.Date(2024, time.July, 1, 20, 0, 0, 0, zone)
	d := repotest.NewDeadline(uuid.New(), "Zoned", due)
	require.NoError(t, storage.CreateDeadline(ctx, d))

	before, err := storage.ListOverdue(ctx, time.Date(2024, time.July, 2, 0, 30, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	assert.Empty(t, before)

	after, err := storage.ListOverdue(ctx, time.Date(2024, time.July, 2, 1, 30, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	assert.Len(t, after, 1)
}
