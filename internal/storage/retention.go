package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/harborchat/harbor/internal/repository"
)

const (
	// MessageRetention is the policy window after which messages are purged.
	MessageRetention = 30 * 24 * time.Hour
	// NotificationRetention is the auto-expiry window for notifications.
	NotificationRetention = 7 * 24 * time.Hour

	sweepInterval = time.Hour
)

// RetentionSweeper enforces the storage-level expiry policies in the
// background. The services never see expired rows because the sweeper runs
// on the same store they read from.
type RetentionSweeper struct {
	messages      repository.IMessageRepository
	notifications repository.INotificationRepository
	logger        *zap.Logger
}

func NewRetentionSweeper(
	messages repository.IMessageRepository,
	notifications repository.INotificationRepository,
	logger *zap.Logger,
) *RetentionSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionSweeper{messages: messages, notifications: notifications, logger: logger}
}

// Run sweeps once immediately, then hourly until ctx is cancelled.
func (s *RetentionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *RetentionSweeper) Sweep(ctx context.Context) {
	now := time.Now()

	purged, err := s.notifications.DeleteOlderThan(ctx, now.Add(-NotificationRetention))
	if err != nil {
		s.logger.Warn("notification retention sweep failed", zap.Error(err))
	} else if purged > 0 {
		s.logger.Info("expired notifications purged", zap.Int64("count", purged))
	}

	purged, err = s.messages.DeleteOlderThan(ctx, now.Add(-MessageRetention))
	if err != nil {
		s.logger.Warn("message retention sweep failed", zap.Error(err))
	} else if purged > 0 {
		s.logger.Info("expired messages purged", zap.Int64("count", purged))
	}
}
