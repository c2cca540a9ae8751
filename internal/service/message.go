package service

import (
	"context"
	"errors"
	"strconv"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/harborchat/harbor/internal/model"
	"github.com/harborchat/harbor/internal/repository"
	"github.com/harborchat/harbor/utils/keymutex"
	"github.com/harborchat/harbor/utils/snowflake"
)

// Sequencer hands out per-channel commit sequence numbers; fanout ordering
// within a channel room follows them. Implemented by the redis client.
type Sequencer interface {
	NextSeq(ctx context.Context, channelID string) (int64, error)
}

// AttachmentStore is the external binary-storage collaborator. The engine
// only ever sees the reference it returns.
type AttachmentStore interface {
	Store(ctx context.Context, data []byte) (*AttachmentRef, error)
	Delete(ctx context.Context, url string) error
}

type AttachmentRef struct {
	URL    string `json:"url"`
	Size   int64  `json:"size"`
	Format string `json:"format"`
}

type CreateMessageInput struct {
	ChannelID      string
	AuthorID       string
	Content        string
	ThreadParentID *string
	Attachment     *AttachmentRef
}

type MessagePage struct {
	Messages []*model.Message `json:"messages"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
	Total    int64            `json:"total"`
}

// mentionResolver is the detached post-create step; see MentionService.
type mentionResolver interface {
	ResolveAsync(message *model.Message)
}

// IMessageService is the mutation engine: the one authorized surface for
// message operations, invoked identically by the HTTP and socket transports.
type IMessageService interface {
	CreateMessage(ctx context.Context, in CreateMessageInput) (*model.Message, error)
	EditMessage(ctx context.Context, messageID, requesterID, content string) (*model.Message, error)
	DeleteMessage(ctx context.Context, messageID, requesterID string) error
	AddReaction(ctx context.Context, messageID, requesterID, emoji string) (*model.Message, error)
	RemoveReaction(ctx context.Context, messageID, requesterID, emoji string) error
	SetPinned(ctx context.Context, messageID, requesterID string, pinned bool) (*model.Message, error)
	GetMessage(ctx context.Context, messageID, requesterID string) (*model.Message, error)
	ListChannelMessages(ctx context.Context, channelID, requesterID string, page, limit int) (*MessagePage, error)
	ListThread(ctx context.Context, parentID, requesterID string) ([]*model.Message, error)
}

type MessageService struct {
	messageRepo repository.IMessageRepository
	channels    IChannelService
	idGen       *snowflake.Generator
	sequencer   Sequencer
	locks       *keymutex.KeyMutex
	publisher   Publisher
	mentions    mentionResolver
	attachments AttachmentStore
	logger      *zap.Logger

	maxContentLength int
	editWindow       time.Duration
	defaultPageSize  int
	maxPageSize      int
}

type MessageServiceConfig struct {
	MaxContentLength int
	EditWindow       time.Duration
	DefaultPageSize  int
	MaxPageSize      int

	// Attachments may be nil when binaries live entirely out of band.
	Attachments AttachmentStore
	Logger      *zap.Logger
}

func NewMessageService(
	messageRepo repository.IMessageRepository,
	channels IChannelService,
	idGen *snowflake.Generator,
	sequencer Sequencer,
	locks *keymutex.KeyMutex,
	publisher Publisher,
	mentions mentionResolver,
	cfg MessageServiceConfig,
) IMessageService {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 2000
	}
	if cfg.EditWindow <= 0 {
		cfg.EditWindow = 5 * time.Minute
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 30
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &MessageService{
		messageRepo:      messageRepo,
		channels:         channels,
		idGen:            idGen,
		sequencer:        sequencer,
		locks:            locks,
		publisher:        publisher,
		mentions:         mentions,
		attachments:      cfg.Attachments,
		logger:           cfg.Logger,
		maxContentLength: cfg.MaxContentLength,
		editWindow:       cfg.EditWindow,
		defaultPageSize:  cfg.DefaultPageSize,
		maxPageSize:      cfg.MaxPageSize,
	}
}

// CreateMessage validates, authorizes and persists a new message, then
// publishes message:new (and thread:new_reply for replies) and kicks off
// detached mention resolution.
func (s *MessageService) CreateMessage(ctx context.Context, in CreateMessageInput) (*model.Message, error) {
	if err := s.channels.AssertMember(ctx, in.ChannelID, in.AuthorID); err != nil {
		return nil, err
	}

	if in.Content == "" && in.Attachment == nil {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(in.Content) > s.maxContentLength {
		return nil, ErrContentTooLong
	}

	if in.Attachment != nil {
		channel, err := s.channels.GetChannel(ctx, in.ChannelID)
		if err != nil {
			return nil, err
		}
		if channel.Type != model.ChannelTypeDM {
			return nil, ErrAttachmentNotAllowed
		}
	}

	if in.ThreadParentID != nil {
		if err := s.checkThreadDepth(ctx, in.ChannelID, *in.ThreadParentID); err != nil {
			return nil, err
		}
	}

	id, err := s.idGen.NextID()
	if err != nil {
		return nil, WrapTransient("failed to generate message ID", err)
	}
	seq, err := s.sequencer.NextSeq(ctx, in.ChannelID)
	if err != nil {
		return nil, WrapTransient("failed to generate sequence ID", err)
	}

	message := &model.Message{
		ID:             strconv.FormatInt(id, 10),
		ChannelID:      in.ChannelID,
		AuthorID:       in.AuthorID,
		Content:        in.Content,
		ThreadParentID: in.ThreadParentID,
		SeqID:          seq,
		Reactions:      []model.Reaction{},
	}
	if in.Attachment != nil {
		message.AttachmentURL = &in.Attachment.URL
		message.AttachmentSize = &in.Attachment.Size
		message.AttachmentFormat = &in.Attachment.Format
	}

	if err := s.messageRepo.Create(ctx, message); err != nil {
		return nil, WrapTransient("failed to save message", err)
	}

	s.publisher.Publish(Event{
		Type:      EventMessageNew,
		ChannelID: message.ChannelID,
		Payload:   message,
	})
	if message.ThreadParentID != nil {
		s.publisher.Publish(Event{
			Type:      EventThreadNewReply,
			ChannelID: message.ChannelID,
			ThreadID:  *message.ThreadParentID,
			Payload:   message,
		})
	}

	if s.mentions != nil {
		s.mentions.ResolveAsync(message)
	}
	return message, nil
}

func (s *MessageService) EditMessage(ctx context.Context, messageID, requesterID, content string) (*model.Message, error) {
	s.locks.Lock("message:" + messageID)
	defer s.locks.Unlock("message:" + messageID)

	message, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.IsDeleted {
		// Tombstoned records are append-only.
		return nil, ErrMessageNotFound
	}
	if message.AuthorID != requesterID {
		return nil, ErrNotAuthor
	}
	if time.Since(message.CreatedAt) >= s.editWindow {
		return nil, ErrEditWindowExpired
	}
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > s.maxContentLength {
		return nil, ErrContentTooLong
	}

	message.Content = content
	message.IsEdited = true
	if err := s.messageRepo.Update(ctx, message); err != nil {
		return nil, WrapTransient("failed to save edit", err)
	}

	s.publisher.Publish(Event{
		Type:      EventMessageEdited,
		ChannelID: message.ChannelID,
		Payload:   message,
	})
	return message, nil
}

// DeleteMessage soft-deletes: content becomes the tombstone, the record goes
// terminal. Deleting an already-deleted message is an idempotent no-op and
// emits no second event.
func (s *MessageService) DeleteMessage(ctx context.Context, messageID, requesterID string) error {
	s.locks.Lock("message:" + messageID)
	defer s.locks.Unlock("message:" + messageID)

	message, err := s.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if message.AuthorID != requesterID {
		return ErrNotAuthor
	}
	if message.IsDeleted {
		return nil
	}

	attachmentURL := message.AttachmentURL

	message.Content = model.TombstoneContent
	message.IsDeleted = true
	message.AttachmentURL = nil
	message.AttachmentSize = nil
	message.AttachmentFormat = nil
	if err := s.messageRepo.Update(ctx, message); err != nil {
		return WrapTransient("failed to delete message", err)
	}

	// Binary cleanup is best effort; the reference is already gone.
	if attachmentURL != nil && s.attachments != nil {
		if err := s.attachments.Delete(ctx, *attachmentURL); err != nil {
			s.logger.Warn("attachment cleanup failed",
				zap.String("message_id", message.ID), zap.Error(err))
		}
	}

	s.publisher.Publish(Event{
		Type:      EventMessageDeleted,
		ChannelID: message.ChannelID,
		Payload: map[string]string{
			"message_id": message.ID,
			"channel_id": message.ChannelID,
		},
	})
	return nil
}

func (s *MessageService) AddReaction(ctx context.Context, messageID, requesterID, emoji string) (*model.Message, error) {
	if emoji == "" {
		return nil, ErrInvalidEmoji
	}

	s.locks.Lock("message:" + messageID)
	defer s.locks.Unlock("message:" + messageID)

	message, err := s.reactableMessage(ctx, messageID, requesterID)
	if err != nil {
		return nil, err
	}

	reaction := &model.Reaction{
		MessageID: message.ID,
		UserID:    requesterID,
		Emoji:     emoji,
	}
	added, err := s.messageRepo.AddReaction(ctx, reaction)
	if err != nil {
		return nil, WrapTransient("failed to add reaction", err)
	}

	message, err = s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !added {
		// Duplicate reaction: nothing changed, so nothing fans out.
		return message, nil
	}

	s.publisher.Publish(Event{
		Type:      EventMessageReactionAdded,
		ChannelID: message.ChannelID,
		Payload: map[string]any{
			"message_id": message.ID,
			"user_id":    requesterID,
			"emoji":      emoji,
			"reactions":  message.Reactions,
		},
	})
	return message, nil
}

func (s *MessageService) RemoveReaction(ctx context.Context, messageID, requesterID, emoji string) error {
	if emoji == "" {
		return ErrInvalidEmoji
	}

	s.locks.Lock("message:" + messageID)
	defer s.locks.Unlock("message:" + messageID)

	message, err := s.reactableMessage(ctx, messageID, requesterID)
	if err != nil {
		return err
	}

	removed, err := s.messageRepo.RemoveReaction(ctx, messageID, requesterID, emoji)
	if err != nil {
		return WrapTransient("failed to remove reaction", err)
	}
	if !removed {
		return nil
	}

	s.publisher.Publish(Event{
		Type:      EventMessageReactionRemoved,
		ChannelID: message.ChannelID,
		Payload: map[string]string{
			"message_id": message.ID,
			"user_id":    requesterID,
			"emoji":      emoji,
		},
	})
	return nil
}

func (s *MessageService) SetPinned(ctx context.Context, messageID, requesterID string, pinned bool) (*model.Message, error) {
	s.locks.Lock("message:" + messageID)
	defer s.locks.Unlock("message:" + messageID)

	message, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.IsDeleted {
		return nil, ErrMessageDeleted
	}
	if err := s.channels.AssertMember(ctx, message.ChannelID, requesterID); err != nil {
		return nil, err
	}
	if message.IsPinned == pinned {
		return nil, ErrAlreadyInState
	}

	message.IsPinned = pinned
	if err := s.messageRepo.Update(ctx, message); err != nil {
		return nil, WrapTransient("failed to update pin state", err)
	}

	eventType := EventMessagePinned
	if !pinned {
		eventType = EventMessageUnpinned
	}
	s.publisher.Publish(Event{
		Type:      eventType,
		ChannelID: message.ChannelID,
		Payload:   message,
	})
	return message, nil
}

// GetMessage is the authorized single-message read used by the thread
// subscription path.
func (s *MessageService) GetMessage(ctx context.Context, messageID, requesterID string) (*model.Message, error) {
	message, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.channels.AssertMember(ctx, message.ChannelID, requesterID); err != nil {
		return nil, err
	}
	return message, nil
}

// ListChannelMessages pages root-level messages, newest first, each with its
// non-deleted reply count.
func (s *MessageService) ListChannelMessages(ctx context.Context, channelID, requesterID string, page, limit int) (*MessagePage, error) {
	if err := s.channels.AssertMember(ctx, channelID, requesterID); err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.defaultPageSize
	}
	if limit > s.maxPageSize {
		limit = s.maxPageSize
	}

	messages, total, err := s.messageRepo.ListRoots(ctx, channelID, (page-1)*limit, limit)
	if err != nil {
		return nil, WrapTransient("failed to list messages", err)
	}

	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	counts, err := s.messageRepo.CountReplies(ctx, ids)
	if err != nil {
		return nil, WrapTransient("failed to count replies", err)
	}
	for _, m := range messages {
		m.ReplyCount = counts[m.ID]
	}

	return &MessagePage{Messages: messages, Page: page, Limit: limit, Total: total}, nil
}

// ListThread returns the parent followed by its non-deleted replies, oldest
// first.
func (s *MessageService) ListThread(ctx context.Context, parentID, requesterID string) ([]*model.Message, error) {
	parent, err := s.getMessage(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if err := s.channels.AssertMember(ctx, parent.ChannelID, requesterID); err != nil {
		return nil, err
	}

	replies, err := s.messageRepo.ListReplies(ctx, parentID)
	if err != nil {
		return nil, WrapTransient("failed to list thread replies", err)
	}
	return append([]*model.Message{parent}, replies...), nil
}

// checkThreadDepth rejects replies past the third level: a parent that
// already has a grandparent cannot take further replies.
func (s *MessageService) checkThreadDepth(ctx context.Context, channelID, parentID string) error {
	parent, err := s.messageRepo.FindByID(ctx, parentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrParentNotFound
		}
		return WrapTransient("failed to find thread parent", err)
	}
	if parent.ChannelID != channelID {
		return ErrParentNotFound
	}
	if parent.ThreadParentID == nil {
		return nil
	}

	grandparent, err := s.messageRepo.FindByID(ctx, *parent.ThreadParentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrParentNotFound
		}
		return WrapTransient("failed to find thread grandparent", err)
	}
	if grandparent.ThreadParentID != nil {
		return ErrThreadDepthExceeded
	}
	return nil
}

func (s *MessageService) reactableMessage(ctx context.Context, messageID, requesterID string) (*model.Message, error) {
	message, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.IsDeleted {
		return nil, ErrMessageDeleted
	}
	if err := s.channels.AssertMember(ctx, message.ChannelID, requesterID); err != nil {
		return nil, err
	}
	return message, nil
}

func (s *MessageService) getMessage(ctx context.Context, messageID string) (*model.Message, error) {
	message, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, WrapTransient("failed to find message", err)
	}
	return message, nil
}
