package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harborchat/harbor/internal/repository"
)

// onlineTTL is the redis mirror expiry; live connections refresh it on every
// heartbeat so a crashed node's users fall offline on their own.
const onlineTTL = 90 * time.Second

// OnlineStore mirrors online state into a shared store so other nodes can
// read it. Implemented by the redis client; may be nil in degraded mode.
type OnlineStore interface {
	SetUserOnline(ctx context.Context, userID string, ttl time.Duration) error
	RemoveUserOnline(ctx context.Context, userID string) error
}

// PresenceTracker counts live sessions per user. Presence is a count, not a
// boolean: a user with three tabs open stays online until the last one goes.
type PresenceTracker struct {
	mu     sync.Mutex
	counts map[string]int

	userRepo    repository.IUserRepository
	channelRepo repository.IChannelRepository
	store       OnlineStore
	publisher   Publisher
	logger      *zap.Logger
}

func NewPresenceTracker(
	userRepo repository.IUserRepository,
	channelRepo repository.IChannelRepository,
	store OnlineStore,
	publisher Publisher,
	logger *zap.Logger,
) *PresenceTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceTracker{
		counts:      make(map[string]int),
		userRepo:    userRepo,
		channelRepo: channelRepo,
		store:       store,
		publisher:   publisher,
		logger:      logger,
	}
}

// OnConnect increments the user's session count. The 0→1 transition marks
// the user online and broadcasts to every channel they belong to.
func (p *PresenceTracker) OnConnect(ctx context.Context, userID string) {
	p.mu.Lock()
	p.counts[userID]++
	first := p.counts[userID] == 1
	p.mu.Unlock()

	if !first {
		return
	}

	if p.store != nil {
		if err := p.store.SetUserOnline(ctx, userID, onlineTTL); err != nil {
			p.logger.Warn("failed to mirror online state", zap.String("user_id", userID), zap.Error(err))
		}
	}
	p.broadcast(ctx, EventPresenceOnline, userID)
}

// OnDisconnect decrements the session count. The 1→0 transition stamps
// last_seen and broadcasts offline. A disconnect without a matching connect
// is a logic error; it is logged and ignored.
func (p *PresenceTracker) OnDisconnect(ctx context.Context, userID string) {
	p.mu.Lock()
	count, ok := p.counts[userID]
	if !ok || count <= 0 {
		p.mu.Unlock()
		p.logger.Error("disconnect without matching connect", zap.String("user_id", userID))
		return
	}
	count--
	if count == 0 {
		delete(p.counts, userID)
	} else {
		p.counts[userID] = count
	}
	p.mu.Unlock()

	if count > 0 {
		return
	}

	if err := p.userRepo.UpdateLastSeen(ctx, userID, time.Now()); err != nil {
		p.logger.Warn("failed to stamp last_seen", zap.String("user_id", userID), zap.Error(err))
	}
	if p.store != nil {
		if err := p.store.RemoveUserOnline(ctx, userID); err != nil {
			p.logger.Warn("failed to clear online state", zap.String("user_id", userID), zap.Error(err))
		}
	}
	p.broadcast(ctx, EventPresenceOffline, userID)
}

// Heartbeat refreshes the redis mirror TTL for a still-connected user.
func (p *PresenceTracker) Heartbeat(ctx context.Context, userID string) {
	if p.store == nil || !p.IsOnline(userID) {
		return
	}
	if err := p.store.SetUserOnline(ctx, userID, onlineTTL); err != nil {
		p.logger.Warn("failed to refresh online state", zap.String("user_id", userID), zap.Error(err))
	}
}

func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID] > 0
}

// SessionCount reports the number of live sessions for a user.
func (p *PresenceTracker) SessionCount(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID]
}

func (p *PresenceTracker) broadcast(ctx context.Context, eventType, userID string) {
	channels, err := p.channelRepo.GetUserChannels(ctx, userID)
	if err != nil {
		p.logger.Warn("failed to resolve channels for presence broadcast",
			zap.String("user_id", userID), zap.Error(err))
		return
	}
	for _, ch := range channels {
		p.publisher.Publish(Event{
			Type:      eventType,
			ChannelID: ch.ID,
			UserID:    userID,
			Payload:   map[string]string{"user_id": userID},
		})
	}
}
