package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gallery/server/internal/models"
	"github.com/gallery/server/internal/repository"
)

func TestMaintenanceService_RunNow(t *testing.T) {
	forEachStore(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		ordering := NewOrderingService(store.Tx, nil, nil, testOrderingOptions())
		maintenance := NewMaintenanceService(store.Categories, store.Sessions, ordering)

		healthy, broken := newCategory(t, store, "healthy"), newCategory(t, store, "broken")
		a, b := newPhoto(t, store, "a"), newPhoto(t, store, "b")
		_, err := ordering.AddMembership(ctx, healthy.ID, a.ID, nil)
		require.NoError(t, err)
		_, err = ordering.AddMembership(ctx, healthy.ID, b.ID, nil)
		require.NoError(t, err)

		// written around the engine to leave a gap at position 1
		require.NoError(t, store.Memberships.Insert(ctx, models.NewMembership(broken.ID, a.ID, 2)))

		require.NoError(t, store.Sessions.Add(ctx, models.NewSession("old", "", "", -time.Hour)))
		live := models.NewSession("live", "", "", time.Hour)
		require.NoError(t, store.Sessions.Add(ctx, live))

		status := maintenance.RunNow(ctx)
		assert.False(t, status.Running)
		assert.Equal(t, 2, status.CategoriesChecked)
		assert.Equal(t, []string{broken.ID}, status.CorruptCategories)
		assert.Equal(t, int64(1), status.SessionsRemoved)
		assert.Empty(t, status.Errors)
		assert.False(t, status.LastRun.IsZero())

		got, err := store.Sessions.GetByID(ctx, live.ID)
		require.NoError(t, err)
		assert.NotNil(t, got)

		assert.Equal(t, status.CorruptCategories, maintenance.GetStatus().CorruptCategories)
	})
}

func TestMaintenanceService_RunStopsWithContext(t *testing.T) {
	store := repository.NewInMemoryStore()
	ordering := NewOrderingService(store.Tx, nil, nil, testOrderingOptions())
	maintenance := NewMaintenanceService(store.Categories, store.Sessions, ordering)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		maintenance.Run(ctx, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return !maintenance.GetStatus().LastRun.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, maintenance.GetStatus().NextScheduledRun.IsZero())
}
