package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gallery/server/internal/models"
	"github.com/gallery/server/internal/repository"
)

// forEachStore runs fn against the in-memory store and a temp-dir SQLite database
func forEachStore(t *testing.T, fn func(t *testing.T, store *repository.Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, repository.NewInMemoryStore())
	})

	t.Run("sqlite", func(t *testing.T) {
		store, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "gallery.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		fn(t, store)
	})
}

func testOrderingOptions() OrderingOptions {
	return OrderingOptions{MaxRetries: 5, BaseDelay: time.Millisecond, Timeout: 5 * time.Second}
}

func newPhoto(t *testing.T, store *repository.Store, title string) *models.Photo {
	t.Helper()
	photo, err := models.NewPhoto(title, title+".jpg", "Lisbon", time.Date(2022, 3, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, store.Photos.Add(context.Background(), photo))
	return photo
}

func newCategory(t *testing.T, store *repository.Store, name string) *models.Category {
	t.Helper()
	category, err := models.NewCategory(name, nil)
	require.NoError(t, err)
	require.NoError(t, store.Categories.Add(context.Background(), category))
	return category
}

// sequence returns the photo ids of a category in display order and checks packing
func sequence(t *testing.T, store *repository.Store, categoryID string) []string {
	t.Helper()
	memberships, err := store.Memberships.ListOrdered(context.Background(), categoryID)
	require.NoError(t, err)
	require.NoError(t, models.CheckPacked(memberships))
	ids := make([]string, len(memberships))
	for i, m := range memberships {
		ids[i] = m.PhotoID
	}
	return ids
}

func ids(photos ...*models.Photo) []string {
	out := make([]string, len(photos))
	for i, p := range photos {
		out[i] = p.ID
	}
	return out
}

func intPtr(v int) *int { return &v }

// recordingPublisher captures events instead of sending them to websocket clients
type recordingPublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
}

type publishedMessage struct {
	Topic string
	Msg   WSMessage
}

func (p *recordingPublisher) BroadcastToTopic(topic string, msg WSMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, publishedMessage{Topic: topic, Msg: msg})
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.messages))
	for i, m := range p.messages {
		out[i] = m.Msg.Type
	}
	return out
}

// failingTx returns err from every transaction and counts attempts
type failingTx struct {
	mu       sync.Mutex
	err      error
	attempts int
}

func (f *failingTx) Do(ctx context.Context, lockKey string, fn func(repos repository.Repositories) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	return f.err
}

// flakyTx fails the first n transactions with err and then delegates
type flakyTx struct {
	mu       sync.Mutex
	inner    repository.TxManager
	err      error
	failures int
	attempts int
}

func (f *flakyTx) Do(ctx context.Context, lockKey string, fn func(repos repository.Repositories) error) error {
	f.mu.Lock()
	f.attempts++
	fail := f.attempts <= f.failures
	f.mu.Unlock()
	if fail {
		return f.err
	}
	return f.inner.Do(ctx, lockKey, fn)
}
