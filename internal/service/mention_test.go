package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborchat/harbor/internal/model"
)

// recordingNotifier captures deliveries and optionally fails them.
type recordingNotifier struct {
	mu       sync.Mutex
	notified []*model.Notification
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, notification *model.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notified = append(n.notified, notification)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notified)
}

type mentionFixture struct {
	*testEnv
	notifier *recordingNotifier
	mentions *MentionService
	alice    *model.User
	bob      *model.User
	channel  *model.Channel
}

func newMentionFixture(t *testing.T) *mentionFixture {
	t.Helper()
	env := newTestEnv()
	alice := env.addUser("alice")
	bob := env.addUser("bob")

	channel, err := env.channels.CreateChannel(context.Background(), "general", "", alice.ID)
	require.NoError(t, err)
	require.NoError(t, env.channels.Join(context.Background(), channel.ID, bob.ID))

	notifier := &recordingNotifier{}
	mentions := NewMentionService(env.channelRepo, env.users, env.notifications, env.idGen, notifier, nil, 2)
	t.Cleanup(mentions.Close)

	return &mentionFixture{testEnv: env, notifier: notifier, mentions: mentions, alice: alice, bob: bob, channel: channel}
}

func (f *mentionFixture) message(authorID, content string) *model.Message {
	return &model.Message{
		ID:        "m-" + content[:min(8, len(content))],
		ChannelID: f.channel.ID,
		AuthorID:  authorID,
		Content:   content,
	}
}

func TestMentionResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("mentioning a member stores and delivers a notification", func(t *testing.T) {
		f := newMentionFixture(t)
		f.mentions.Resolve(ctx, f.message(f.alice.ID, "hey @bob take a look"))

		list, err := f.notifications.ListByRecipient(ctx, f.bob.ID, false)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, model.NotificationTypeMention, list[0].Type)
		assert.Equal(t, f.alice.ID, list[0].SenderID)
		assert.Contains(t, list[0].Content, "alice mentioned you")
		assert.Equal(t, 1, f.notifier.count())
	})

	t.Run("matching is case-insensitive", func(t *testing.T) {
		f := newMentionFixture(t)
		f.mentions.Resolve(ctx, f.message(f.alice.ID, "ping @BOB"))

		list, err := f.notifications.ListByRecipient(ctx, f.bob.ID, false)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("self-mentions are skipped", func(t *testing.T) {
		f := newMentionFixture(t)
		f.mentions.Resolve(ctx, f.message(f.alice.ID, "note to @alice"))

		list, err := f.notifications.ListByRecipient(ctx, f.alice.ID, false)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("duplicate mentions collapse to one notification", func(t *testing.T) {
		f := newMentionFixture(t)
		f.mentions.Resolve(ctx, f.message(f.alice.ID, "@bob @bob @bob"))

		list, err := f.notifications.ListByRecipient(ctx, f.bob.ID, false)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("non-members and unknown names are ignored", func(t *testing.T) {
		f := newMentionFixture(t)
		carol := f.addUser("carol") // registered but not a channel member
		f.mentions.Resolve(ctx, f.message(f.alice.ID, "cc @carol @nobody"))

		list, err := f.notifications.ListByRecipient(ctx, carol.ID, false)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("long content is snipped in the notification", func(t *testing.T) {
		f := newMentionFixture(t)
		f.mentions.Resolve(ctx, f.message(f.alice.ID, "@bob "+strings.Repeat("x", 300)))

		list, err := f.notifications.ListByRecipient(ctx, f.bob.ID, false)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Less(t, len([]rune(list[0].Content)), 120)
	})
}

func TestMentionDeliveryFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	f := newMentionFixture(t)
	f.notifier.err = errors.New("broker down")

	f.mentions.Resolve(ctx, f.message(f.alice.ID, "@bob still works"))

	// The stored record stands even though delivery failed.
	list, err := f.notifications.ListByRecipient(ctx, f.bob.ID, false)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// The full path: a posted message fans out once to the channel room and
// produces exactly one mention notification for the named member.
func TestMentionEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newMentionFixture(t)

	messages := NewMessageService(f.messageRepo, f.channels, f.idGen, newFakeSequencer(), keymutexForTest(), f.publisher, f.mentions, MessageServiceConfig{})

	_, err := messages.CreateMessage(ctx, CreateMessageInput{
		ChannelID: f.channel.ID,
		AuthorID:  f.alice.ID,
		Content:   "hello @bob",
	})
	require.NoError(t, err)

	assert.Len(t, f.publisher.ByType(EventMessageNew), 1)

	require.Eventually(t, func() bool {
		list, err := f.notifications.ListByRecipient(ctx, f.bob.ID, false)
		return err == nil && len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMentionResolveAsync(t *testing.T) {
	f := newMentionFixture(t)
	f.mentions.ResolveAsync(f.message(f.alice.ID, "@bob async ping"))

	require.Eventually(t, func() bool {
		list, err := f.notifications.ListByRecipient(context.Background(), f.bob.ID, false)
		return err == nil && len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
