package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/harborchat/harbor/internal/model"
	"github.com/harborchat/harbor/internal/repository"
	"github.com/harborchat/harbor/utils/keymutex"
)

var channelNamePattern = regexp.MustCompile(`^[a-z0-9-_]{3,50}$`)

// publicCountKey serializes public-channel creation so the channel limit
// cannot be raced past by concurrent requests.
const publicCountKey = "channel:public-count"

type LeaveOutcome string

const (
	LeaveOutcomeLeft           LeaveOutcome = "left"
	LeaveOutcomeChannelDeleted LeaveOutcome = "channel_deleted"
)

// ChannelList is the read-side projection for the listing endpoint.
type ChannelList struct {
	Public []model.ChannelView `json:"public"`
	Direct []model.ChannelView `json:"direct"`
}

// IChannelService is the channel directory: membership truth and the single
// authorization gate (AssertMember) for every message operation.
type IChannelService interface {
	CreateChannel(ctx context.Context, name, channelType, creatorID string) (*model.Channel, error)
	FindOrCreateDM(ctx context.Context, userA, userB string) (*model.Channel, error)
	Join(ctx context.Context, channelID, userID string) error
	Leave(ctx context.Context, channelID, userID string) (LeaveOutcome, error)
	ListMembers(ctx context.Context, channelID, requesterID string) ([]model.UserSummary, error)
	ListChannels(ctx context.Context, userID string) (*ChannelList, error)
	GetChannel(ctx context.Context, channelID string) (*model.Channel, error)
	UserChannelIDs(ctx context.Context, userID string) ([]string, error)
	AssertMember(ctx context.Context, channelID, userID string) error
}

type ChannelService struct {
	channelRepo repository.IChannelRepository
	userRepo    repository.IUserRepository
	presence    *PresenceTracker
	publisher   Publisher
	locks       *keymutex.KeyMutex

	maxPublicChannels int
}

func NewChannelService(
	channelRepo repository.IChannelRepository,
	userRepo repository.IUserRepository,
	presence *PresenceTracker,
	publisher Publisher,
	locks *keymutex.KeyMutex,
	maxPublicChannels int,
) IChannelService {
	if maxPublicChannels <= 0 {
		maxPublicChannels = 10
	}
	return &ChannelService{
		channelRepo:       channelRepo,
		userRepo:          userRepo,
		presence:          presence,
		publisher:         publisher,
		locks:             locks,
		maxPublicChannels: maxPublicChannels,
	}
}

// CreateChannel creates a public channel; the creator becomes the first
// member. Direct channels are created implicitly via FindOrCreateDM.
func (s *ChannelService) CreateChannel(ctx context.Context, name, channelType, creatorID string) (*model.Channel, error) {
	if channelType == "" {
		channelType = model.ChannelTypePublic
	}
	if channelType != model.ChannelTypePublic {
		return nil, NewError(KindValidation, "only public channels can be created by name")
	}

	name = strings.ToLower(strings.TrimSpace(name))
	if !channelNamePattern.MatchString(name) {
		return nil, ErrNameInvalid
	}

	if _, err := s.userRepo.FindByID(ctx, creatorID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, WrapTransient("failed to find creator", err)
	}

	s.locks.Lock(publicCountKey)
	defer s.locks.Unlock(publicCountKey)

	if _, err := s.channelRepo.FindByName(ctx, name); err == nil {
		return nil, ErrNameTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, WrapTransient("failed to check channel name", err)
	}

	count, err := s.channelRepo.CountByType(ctx, model.ChannelTypePublic)
	if err != nil {
		return nil, WrapTransient("failed to count public channels", err)
	}
	if count >= int64(s.maxPublicChannels) {
		return nil, ErrPublicLimitReached
	}

	channel := &model.Channel{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      model.ChannelTypePublic,
		CreatorID: creatorID,
	}
	if err := s.channelRepo.Create(ctx, channel, creatorID); err != nil {
		return nil, WrapTransient("failed to create channel", err)
	}

	// The creator's live sessions pick up the new room immediately.
	s.publisher.Publish(Event{
		Type:      EventChannelMemberJoined,
		ChannelID: channel.ID,
		UserID:    creatorID,
		Payload:   map[string]string{"channel_id": channel.ID, "user_id": creatorID},
	})
	return channel, nil
}

// FindOrCreateDM returns the direct channel for the unordered {userA, userB}
// pair, creating it on first use. Creation is serialized per pair key so
// concurrent calls cannot produce duplicates.
func (s *ChannelService) FindOrCreateDM(ctx context.Context, userA, userB string) (*model.Channel, error) {
	if userA == userB {
		return nil, NewError(KindValidation, "cannot open a direct channel with yourself")
	}

	pairKey := dmPairKey(userA, userB)
	s.locks.Lock(pairKey)
	defer s.locks.Unlock(pairKey)

	channel, err := s.channelRepo.FindByPairKey(ctx, pairKey)
	if err == nil {
		return channel, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, WrapTransient("failed to look up direct channel", err)
	}

	for _, id := range []string{userA, userB} {
		if _, err := s.userRepo.FindByID(ctx, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, WrapTransient("failed to find user", err)
		}
	}

	channel = &model.Channel{
		ID:        uuid.New().String(),
		Type:      model.ChannelTypeDM,
		CreatorID: userA,
		PairKey:   &pairKey,
	}
	channel.Name = "dm-" + channel.ID
	if err := s.channelRepo.Create(ctx, channel, userA, userB); err != nil {
		return nil, WrapTransient("failed to create direct channel", err)
	}

	// Live sessions of both participants pick up the new room.
	for _, id := range []string{userA, userB} {
		s.publisher.Publish(Event{
			Type:      EventChannelMemberJoined,
			ChannelID: channel.ID,
			UserID:    id,
			Payload:   map[string]string{"channel_id": channel.ID, "user_id": id},
		})
	}
	return channel, nil
}

func (s *ChannelService) Join(ctx context.Context, channelID, userID string) error {
	s.locks.Lock("channel:" + channelID)
	defer s.locks.Unlock("channel:" + channelID)

	channel, err := s.getChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if channel.Type != model.ChannelTypePublic {
		return ErrNotPublic
	}

	isMember, err := s.channelRepo.IsMember(ctx, channelID, userID)
	if err != nil {
		return WrapTransient("failed to check membership", err)
	}
	if isMember {
		return ErrAlreadyMember
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return WrapTransient("failed to find user", err)
	}

	if err := s.channelRepo.AddMember(ctx, channelID, userID); err != nil {
		return WrapTransient("failed to add member", err)
	}

	s.publisher.Publish(Event{
		Type:      EventChannelMemberJoined,
		ChannelID: channelID,
		UserID:    userID,
		Payload: map[string]string{
			"channel_id": channelID,
			"user_id":    userID,
			"username":   user.Username,
		},
	})
	return nil
}

// Leave removes the user from a public channel. The last member leaving
// deletes the channel; a leaving creator hands ownership to the remaining
// member with the earliest account-creation time.
func (s *ChannelService) Leave(ctx context.Context, channelID, userID string) (LeaveOutcome, error) {
	s.locks.Lock("channel:" + channelID)
	defer s.locks.Unlock("channel:" + channelID)

	channel, err := s.getChannel(ctx, channelID)
	if err != nil {
		return "", err
	}
	if channel.Type != model.ChannelTypePublic {
		return "", ErrNotPublic
	}

	isMember, err := s.channelRepo.IsMember(ctx, channelID, userID)
	if err != nil {
		return "", WrapTransient("failed to check membership", err)
	}
	if !isMember {
		return "", ErrNotMember
	}

	if err := s.channelRepo.RemoveMember(ctx, channelID, userID); err != nil {
		return "", WrapTransient("failed to remove member", err)
	}

	remaining, err := s.channelRepo.GetMembers(ctx, channelID)
	if err != nil {
		return "", WrapTransient("failed to list remaining members", err)
	}

	if len(remaining) == 0 {
		if err := s.channelRepo.Delete(ctx, channelID); err != nil {
			return "", WrapTransient("failed to delete empty channel", err)
		}
		s.publisher.Publish(Event{
			Type:      EventChannelDeleted,
			ChannelID: channelID,
			UserID:    userID,
			Payload:   map[string]string{"channel_id": channelID},
		})
		return LeaveOutcomeChannelDeleted, nil
	}

	if channel.CreatorID == userID {
		// GetMembers orders by account creation time, oldest first.
		if err := s.channelRepo.UpdateCreator(ctx, channelID, remaining[0].ID); err != nil {
			return "", WrapTransient("failed to transfer ownership", err)
		}
	}

	s.publisher.Publish(Event{
		Type:      EventChannelMemberLeft,
		ChannelID: channelID,
		UserID:    userID,
		Payload:   map[string]string{"channel_id": channelID, "user_id": userID},
	})
	return LeaveOutcomeLeft, nil
}

func (s *ChannelService) ListMembers(ctx context.Context, channelID, requesterID string) ([]model.UserSummary, error) {
	if err := s.AssertMember(ctx, channelID, requesterID); err != nil {
		return nil, err
	}

	members, err := s.channelRepo.GetMembers(ctx, channelID)
	if err != nil {
		return nil, WrapTransient("failed to list members", err)
	}

	summaries := make([]model.UserSummary, 0, len(members))
	for _, m := range members {
		summaries = append(summaries, model.UserSummary{
			ID:       m.ID,
			Username: m.Username,
			Role:     m.Role,
			IsOnline: s.presence.IsOnline(m.ID),
			LastSeen: m.LastSeen,
		})
	}
	return summaries, nil
}

// ListChannels returns all public channels plus the user's direct channels,
// each dm annotated with the other participant's name.
func (s *ChannelService) ListChannels(ctx context.Context, userID string) (*ChannelList, error) {
	public, err := s.channelRepo.ListByType(ctx, model.ChannelTypePublic)
	if err != nil {
		return nil, WrapTransient("failed to list public channels", err)
	}

	list := &ChannelList{
		Public: make([]model.ChannelView, 0, len(public)),
		Direct: []model.ChannelView{},
	}
	for _, ch := range public {
		count, err := s.channelRepo.MemberCount(ctx, ch.ID)
		if err != nil {
			return nil, WrapTransient("failed to count members", err)
		}
		list.Public = append(list.Public, model.ChannelView{
			ID:          ch.ID,
			Name:        ch.Name,
			Type:        ch.Type,
			CreatorID:   ch.CreatorID,
			MemberCount: int(count),
			CreatedAt:   ch.CreatedAt,
		})
	}

	mine, err := s.channelRepo.GetUserChannels(ctx, userID)
	if err != nil {
		return nil, WrapTransient("failed to list user channels", err)
	}
	for _, ch := range mine {
		if ch.Type != model.ChannelTypeDM {
			continue
		}
		view := model.ChannelView{
			ID:          ch.ID,
			Name:        ch.Name,
			Type:        ch.Type,
			CreatorID:   ch.CreatorID,
			MemberCount: 2,
			CreatedAt:   ch.CreatedAt,
		}
		members, err := s.channelRepo.GetMembers(ctx, ch.ID)
		if err != nil {
			return nil, WrapTransient("failed to resolve dm participant", err)
		}
		for _, m := range members {
			if m.ID != userID {
				view.OtherUser = m.Username
			}
		}
		list.Direct = append(list.Direct, view)
	}
	return list, nil
}

func (s *ChannelService) GetChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	return s.getChannel(ctx, channelID)
}

// UserChannelIDs lists the IDs of every channel the user belongs to; the
// session registry subscribes new connections with it.
func (s *ChannelService) UserChannelIDs(ctx context.Context, userID string) ([]string, error) {
	channels, err := s.channelRepo.GetUserChannels(ctx, userID)
	if err != nil {
		return nil, WrapTransient("failed to list user channels", err)
	}
	ids := make([]string, 0, len(channels))
	for _, ch := range channels {
		ids = append(ids, ch.ID)
	}
	return ids, nil
}

// AssertMember is the single authorization gate for message operations; both
// transports go through it via the mutation engine.
func (s *ChannelService) AssertMember(ctx context.Context, channelID, userID string) error {
	if _, err := s.getChannel(ctx, channelID); err != nil {
		return err
	}
	isMember, err := s.channelRepo.IsMember(ctx, channelID, userID)
	if err != nil {
		return WrapTransient("failed to check membership", err)
	}
	if !isMember {
		return ErrNotMember
	}
	return nil
}

func (s *ChannelService) getChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	channel, err := s.channelRepo.FindByID(ctx, channelID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, WrapTransient("failed to find channel", err)
	}
	return channel, nil
}

func dmPairKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("dm:%s:%s", userA, userB)
}
