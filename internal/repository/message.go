package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/harborchat/harbor/internal/model"
)

type IMessageRepository interface {
	Create(ctx context.Context, message *model.Message) error
	FindByID(ctx context.Context, id string) (*model.Message, error)
	Update(ctx context.Context, message *model.Message) error
	ListRoots(ctx context.Context, channelID string, offset, limit int) ([]*model.Message, int64, error)
	CountReplies(ctx context.Context, parentIDs []string) (map[string]int64, error)
	ListReplies(ctx context.Context, parentID string) ([]*model.Message, error)
	AddReaction(ctx context.Context, reaction *model.Reaction) (bool, error)
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) IMessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *MessageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var message model.Message
	err := r.db.WithContext(ctx).
		Preload("Reactions").
		Where("id = ?", id).
		First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *MessageRepository) Update(ctx context.Context, message *model.Message) error {
	return r.db.WithContext(ctx).
		Omit("Reactions").
		Save(message).Error
}

// ListRoots returns root-level messages of a channel, newest first, plus the
// total root count for pagination.
func (r *MessageRepository) ListRoots(ctx context.Context, channelID string, offset, limit int) ([]*model.Message, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("channel_id = ? AND thread_parent_id IS NULL", channelID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var messages []*model.Message
	err := query.
		Preload("Reactions").
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// CountReplies counts non-deleted direct replies for each parent ID.
func (r *MessageRepository) CountReplies(ctx context.Context, parentIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(parentIDs))
	if len(parentIDs) == 0 {
		return counts, nil
	}

	type row struct {
		ThreadParentID string
		Count          int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Select("thread_parent_id, COUNT(*) as count").
		Where("thread_parent_id IN ? AND is_deleted = ?", parentIDs, false).
		Group("thread_parent_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.ThreadParentID] = r.Count
	}
	return counts, nil
}

// ListReplies returns the non-deleted replies of a thread, oldest first.
func (r *MessageRepository) ListReplies(ctx context.Context, parentID string) ([]*model.Message, error) {
	var messages []*model.Message
	err := r.db.WithContext(ctx).
		Preload("Reactions").
		Where("thread_parent_id = ? AND is_deleted = ?", parentID, false).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddReaction inserts the reaction; the composite unique index makes a
// duplicate (message, user, emoji) a silent no-op. The bool reports whether
// a row was actually written.
func (r *MessageRepository) AddReaction(ctx context.Context, reaction *model.Reaction) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(reaction)
	return result.RowsAffected > 0, result.Error
}

func (r *MessageRepository) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&model.Reaction{})
	return result.RowsAffected > 0, result.Error
}

// DeleteOlderThan enforces the 30-day message retention policy.
func (r *MessageRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&model.Message{})
	return result.RowsAffected, result.Error
}
