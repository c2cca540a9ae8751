package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/harborchat/harbor/internal/model"
)

// expiringMessages implements just enough of the message repository to observe
// retention sweeps.
type expiringMessages struct {
	mu       sync.Mutex
	messages map[string]time.Time
}

func (r *expiringMessages) Create(_ context.Context, message *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[message.ID] = message.CreatedAt
	return nil
}

func (r *expiringMessages) FindByID(context.Context, string) (*model.Message, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *expiringMessages) Update(context.Context, *model.Message) error { return nil }

func (r *expiringMessages) ListRoots(context.Context, string, int, int) ([]*model.Message, int64, error) {
	return nil, 0, nil
}

func (r *expiringMessages) CountReplies(context.Context, []string) (map[string]int64, error) {
	return nil, nil
}

func (r *expiringMessages) ListReplies(context.Context, string) ([]*model.Message, error) {
	return nil, nil
}

func (r *expiringMessages) AddReaction(context.Context, *model.Reaction) (bool, error) {
	return false, nil
}

func (r *expiringMessages) RemoveReaction(context.Context, string, string, string) (bool, error) {
	return false, nil
}

func (r *expiringMessages) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int64
	for id, createdAt := range r.messages {
		if createdAt.Before(cutoff) {
			delete(r.messages, id)
			purged++
		}
	}
	return purged, nil
}

type expiringNotifications struct {
	mu            sync.Mutex
	notifications map[string]time.Time
}

func (r *expiringNotifications) Create(_ context.Context, notification *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications[notification.ID] = notification.CreatedAt
	return nil
}

func (r *expiringNotifications) ListByRecipient(context.Context, string, bool) ([]*model.Notification, error) {
	return nil, nil
}

func (r *expiringNotifications) MarkRead(context.Context, string, string) (int64, error) {
	return 0, nil
}

func (r *expiringNotifications) MarkAllRead(context.Context, string) (int64, error) { return 0, nil }

func (r *expiringNotifications) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int64
	for id, createdAt := range r.notifications {
		if createdAt.Before(cutoff) {
			delete(r.notifications, id)
			purged++
		}
	}
	return purged, nil
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	messages := &expiringMessages{messages: make(map[string]time.Time)}
	notifications := &expiringNotifications{notifications: make(map[string]time.Time)}

	now := time.Now()
	require.NoError(t, messages.Create(ctx, &model.Message{ID: "old", CreatedAt: now.Add(-31 * 24 * time.Hour)}))
	require.NoError(t, messages.Create(ctx, &model.Message{ID: "fresh", CreatedAt: now.Add(-29 * 24 * time.Hour)}))
	require.NoError(t, notifications.Create(ctx, &model.Notification{ID: "old", CreatedAt: now.Add(-8 * 24 * time.Hour)}))
	require.NoError(t, notifications.Create(ctx, &model.Notification{ID: "fresh", CreatedAt: now.Add(-6 * 24 * time.Hour)}))

	sweeper := NewRetentionSweeper(messages, notifications, nil)
	sweeper.Sweep(ctx)

	assert.Len(t, messages.messages, 1)
	assert.Contains(t, messages.messages, "fresh")
	assert.Len(t, notifications.notifications, 1)
	assert.Contains(t, notifications.notifications, "fresh")
}

func TestRunStopsOnCancel(t *testing.T) {
	messages := &expiringMessages{messages: make(map[string]time.Time)}
	notifications := &expiringNotifications{notifications: make(map[string]time.Time)}
	sweeper := NewRetentionSweeper(messages, notifications, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
