package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/harborchat/harbor/internal/model"
	"github.com/harborchat/harbor/internal/repository"
	"github.com/harborchat/harbor/utils/snowflake"
)

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// Notifier is the external delivery collaborator (email, digest). Failures
// are logged and never surfaced to the triggering mutation.
type Notifier interface {
	Notify(ctx context.Context, notification *model.Notification) error
}

// NopNotifier is the degraded-mode notifier used when no broker is available.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *model.Notification) error { return nil }

// MentionService extracts @name mentions from newly created messages and
// emits notification records. It runs on its own worker pool so the
// triggering request is never delayed.
type MentionService struct {
	channelRepo      repository.IChannelRepository
	userRepo         repository.IUserRepository
	notificationRepo repository.INotificationRepository
	idGen            *snowflake.Generator
	notifier         Notifier
	logger           *zap.Logger

	tasks chan *model.Message
	done  chan struct{}
}

func NewMentionService(
	channelRepo repository.IChannelRepository,
	userRepo repository.IUserRepository,
	notificationRepo repository.INotificationRepository,
	idGen *snowflake.Generator,
	notifier Notifier,
	logger *zap.Logger,
	workers int,
) *MentionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if workers <= 0 {
		workers = 4
	}
	s := &MentionService{
		channelRepo:      channelRepo,
		userRepo:         userRepo,
		notificationRepo: notificationRepo,
		idGen:            idGen,
		notifier:         notifier,
		logger:           logger,
		tasks:            make(chan *model.Message, 256),
		done:             make(chan struct{}),
	}
	for range workers {
		go s.worker()
	}
	return s
}

// ResolveAsync enqueues the message for mention resolution. The queue is
// bounded; under pressure the work is dropped rather than blocking the
// mutation path.
func (s *MentionService) ResolveAsync(message *model.Message) {
	select {
	case s.tasks <- message:
	default:
		s.logger.Warn("mention queue full, dropping message",
			zap.String("message_id", message.ID))
	}
}

// Close stops the workers. Queued messages are discarded.
func (s *MentionService) Close() {
	close(s.done)
}

func (s *MentionService) worker() {
	for {
		select {
		case <-s.done:
			return
		case message := <-s.tasks:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			s.resolve(ctx, message)
			cancel()
		}
	}
}

// Resolve processes one message synchronously. Exported for tests; the
// production path goes through ResolveAsync.
func (s *MentionService) Resolve(ctx context.Context, message *model.Message) {
	s.resolve(ctx, message)
}

func (s *MentionService) resolve(ctx context.Context, message *model.Message) {
	tokens := mentionPattern.FindAllStringSubmatch(message.Content, -1)
	if len(tokens) == 0 {
		return
	}

	members, err := s.channelRepo.GetMembers(ctx, message.ChannelID)
	if err != nil {
		s.logger.Warn("failed to load members for mention resolution",
			zap.String("message_id", message.ID), zap.Error(err))
		return
	}
	byName := make(map[string]*model.User, len(members))
	for _, m := range members {
		byName[strings.ToLower(m.Username)] = m
	}

	author, err := s.userRepo.FindByID(ctx, message.AuthorID)
	if err != nil {
		s.logger.Warn("failed to load author for mention resolution",
			zap.String("message_id", message.ID), zap.Error(err))
		return
	}

	notified := make(map[string]bool)
	for _, token := range tokens {
		name := strings.ToLower(token[1])
		user, ok := byName[name]
		if !ok {
			continue
		}
		if user.ID == message.AuthorID || notified[user.ID] {
			continue
		}
		notified[user.ID] = true
		s.emit(ctx, message, author, user)
	}
}

func (s *MentionService) emit(ctx context.Context, message *model.Message, author, recipient *model.User) {
	id, err := s.idGen.NextID()
	if err != nil {
		s.logger.Error("failed to generate notification ID", zap.Error(err))
		return
	}

	notification := &model.Notification{
		ID:          strconv.FormatInt(id, 10),
		RecipientID: recipient.ID,
		SenderID:    author.ID,
		Type:        model.NotificationTypeMention,
		MessageID:   &message.ID,
		ChannelID:   &message.ChannelID,
		Content:     fmt.Sprintf("%s mentioned you: %s", author.Username, snippet(message.Content)),
	}
	if err := s.notificationRepo.Create(ctx, notification); err != nil {
		s.logger.Error("failed to save mention notification",
			zap.String("recipient_id", recipient.ID), zap.Error(err))
		return
	}

	if err := s.notifier.Notify(ctx, notification); err != nil {
		// Delivery is best-effort; the stored record stands.
		s.logger.Warn("notifier delivery failed",
			zap.String("notification_id", notification.ID), zap.Error(err))
	}
}

func snippet(content string) string {
	const max = 80
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}
