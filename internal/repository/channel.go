package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/harborchat/harbor/internal/model"
)

type IChannelRepository interface {
	Create(ctx context.Context, channel *model.Channel, memberIDs ...string) error
	FindByID(ctx context.Context, id string) (*model.Channel, error)
	FindByName(ctx context.Context, name string) (*model.Channel, error)
	FindByPairKey(ctx context.Context, pairKey string) (*model.Channel, error)
	CountByType(ctx context.Context, channelType string) (int64, error)
	ListByType(ctx context.Context, channelType string) ([]*model.Channel, error)
	GetUserChannels(ctx context.Context, userID string) ([]*model.Channel, error)
	AddMember(ctx context.Context, channelID, userID string) error
	RemoveMember(ctx context.Context, channelID, userID string) error
	GetMembers(ctx context.Context, channelID string) ([]*model.User, error)
	MemberCount(ctx context.Context, channelID string) (int64, error)
	IsMember(ctx context.Context, channelID, userID string) (bool, error)
	UpdateCreator(ctx context.Context, channelID, creatorID string) error
	Delete(ctx context.Context, channelID string) error
}

type ChannelRepository struct {
	db *gorm.DB
}

func NewChannelRepository(db *gorm.DB) IChannelRepository {
	return &ChannelRepository{db: db}
}

// Create inserts the channel and its initial members in one transaction.
func (r *ChannelRepository) Create(ctx context.Context, channel *model.Channel, memberIDs ...string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(channel).Error; err != nil {
			return err
		}
		for _, userID := range memberIDs {
			member := &model.ChannelMember{ChannelID: channel.ID, UserID: userID}
			if err := tx.Create(member).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ChannelRepository) FindByID(ctx context.Context, id string) (*model.Channel, error) {
	var channel model.Channel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&channel).Error; err != nil {
		return nil, err
	}
	return &channel, nil
}

func (r *ChannelRepository) FindByName(ctx context.Context, name string) (*model.Channel, error) {
	var channel model.Channel
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&channel).Error; err != nil {
		return nil, err
	}
	return &channel, nil
}

func (r *ChannelRepository) FindByPairKey(ctx context.Context, pairKey string) (*model.Channel, error) {
	var channel model.Channel
	if err := r.db.WithContext(ctx).Where("pair_key = ?", pairKey).First(&channel).Error; err != nil {
		return nil, err
	}
	return &channel, nil
}

func (r *ChannelRepository) CountByType(ctx context.Context, channelType string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Channel{}).
		Where("type = ?", channelType).
		Count(&count).Error
	return count, err
}

func (r *ChannelRepository) ListByType(ctx context.Context, channelType string) ([]*model.Channel, error) {
	var channels []*model.Channel
	err := r.db.WithContext(ctx).
		Where("type = ?", channelType).
		Order("created_at ASC").
		Find(&channels).Error
	if err != nil {
		return nil, err
	}
	return channels, nil
}

func (r *ChannelRepository) GetUserChannels(ctx context.Context, userID string) ([]*model.Channel, error) {
	var channels []*model.Channel
	err := r.db.WithContext(ctx).
		Table("channels").
		Joins("JOIN channel_members ON channels.id = channel_members.channel_id").
		Where("channel_members.user_id = ?", userID).
		Find(&channels).Error
	if err != nil {
		return nil, err
	}
	return channels, nil
}

func (r *ChannelRepository) AddMember(ctx context.Context, channelID, userID string) error {
	member := &model.ChannelMember{ChannelID: channelID, UserID: userID}
	return r.db.WithContext(ctx).Create(member).Error
}

func (r *ChannelRepository) RemoveMember(ctx context.Context, channelID, userID string) error {
	return r.db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Delete(&model.ChannelMember{}).Error
}

func (r *ChannelRepository) GetMembers(ctx context.Context, channelID string) ([]*model.User, error) {
	var users []*model.User
	err := r.db.WithContext(ctx).
		Table("users").
		Joins("JOIN channel_members ON users.id = channel_members.user_id").
		Where("channel_members.channel_id = ?", channelID).
		Order("users.created_at ASC").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *ChannelRepository) MemberCount(ctx context.Context, channelID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ChannelMember{}).
		Where("channel_id = ?", channelID).
		Count(&count).Error
	return count, err
}

func (r *ChannelRepository) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ChannelMember{}).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *ChannelRepository) UpdateCreator(ctx context.Context, channelID, creatorID string) error {
	return r.db.WithContext(ctx).
		Model(&model.Channel{}).
		Where("id = ?", channelID).
		Update("creator_id", creatorID).Error
}

// Delete removes the channel and its membership rows in one transaction.
func (r *ChannelRepository) Delete(ctx context.Context, channelID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel_id = ?", channelID).Delete(&model.ChannelMember{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", channelID).Delete(&model.Channel{}).Error
	})
}
