package service

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/harborchat/harbor/internal/model"
	"github.com/harborchat/harbor/utils/keymutex"
	"github.com/harborchat/harbor/utils/snowflake"
)

// In-memory repository fakes. They mimic the gorm-backed repositories closely
// enough for the service layer: missing rows surface as gorm.ErrRecordNotFound
// and duplicate reactions are silently ignored, matching the unique index.

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		copied := *user
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Username == username {
			copied := *user
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) UpdateLastSeen(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		user.LastSeen = &at
	}
	return nil
}

type fakeChannelRepo struct {
	mu       sync.Mutex
	channels map[string]*model.Channel
	members  map[string]map[string]struct{}
	users    *fakeUserRepo
}

func newFakeChannelRepo(users *fakeUserRepo) *fakeChannelRepo {
	return &fakeChannelRepo{
		channels: make(map[string]*model.Channel),
		members:  make(map[string]map[string]struct{}),
		users:    users,
	}
}

func (r *fakeChannelRepo) Create(_ context.Context, channel *model.Channel, memberIDs ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if channel.CreatedAt.IsZero() {
		channel.CreatedAt = time.Now()
	}
	r.channels[channel.ID] = channel
	r.members[channel.ID] = make(map[string]struct{})
	for _, id := range memberIDs {
		r.members[channel.ID][id] = struct{}{}
	}
	return nil
}

func (r *fakeChannelRepo) FindByID(_ context.Context, id string) (*model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if channel, ok := r.channels[id]; ok {
		copied := *channel
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeChannelRepo) FindByName(_ context.Context, name string) (*model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, channel := range r.channels {
		if channel.Name == name {
			copied := *channel
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeChannelRepo) FindByPairKey(_ context.Context, pairKey string) (*model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, channel := range r.channels {
		if channel.PairKey != nil && *channel.PairKey == pairKey {
			copied := *channel
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeChannelRepo) CountByType(_ context.Context, channelType string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, channel := range r.channels {
		if channel.Type == channelType {
			count++
		}
	}
	return count, nil
}

func (r *fakeChannelRepo) ListByType(_ context.Context, channelType string) ([]*model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var channels []*model.Channel
	for _, channel := range r.channels {
		if channel.Type == channelType {
			copied := *channel
			channels = append(channels, &copied)
		}
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].CreatedAt.Before(channels[j].CreatedAt)
	})
	return channels, nil
}

func (r *fakeChannelRepo) GetUserChannels(_ context.Context, userID string) ([]*model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var channels []*model.Channel
	for channelID, members := range r.members {
		if _, ok := members[userID]; ok {
			copied := *r.channels[channelID]
			channels = append(channels, &copied)
		}
	}
	return channels, nil
}

func (r *fakeChannelRepo) AddMember(_ context.Context, channelID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[channelID][userID] = struct{}{}
	return nil
}

func (r *fakeChannelRepo) RemoveMember(_ context.Context, channelID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[channelID], userID)
	return nil
}

// GetMembers mirrors the SQL ordering: account creation time, oldest first.
func (r *fakeChannelRepo) GetMembers(_ context.Context, channelID string) ([]*model.User, error) {
	r.mu.Lock()
	memberIDs := make([]string, 0, len(r.members[channelID]))
	for id := range r.members[channelID] {
		memberIDs = append(memberIDs, id)
	}
	r.mu.Unlock()

	users := make([]*model.User, 0, len(memberIDs))
	for _, id := range memberIDs {
		if user, err := r.users.FindByID(context.Background(), id); err == nil {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (r *fakeChannelRepo) MemberCount(_ context.Context, channelID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.members[channelID])), nil
}

func (r *fakeChannelRepo) IsMember(_ context.Context, channelID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[channelID][userID]
	return ok, nil
}

func (r *fakeChannelRepo) UpdateCreator(_ context.Context, channelID, creatorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if channel, ok := r.channels[channelID]; ok {
		channel.CreatorID = creatorID
	}
	return nil
}

func (r *fakeChannelRepo) Delete(_ context.Context, channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, channelID)
	delete(r.members, channelID)
	return nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*model.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[string]*model.Message)}
}

func (r *fakeMessageRepo) Create(_ context.Context, message *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	copied := *message
	r.messages[message.ID] = &copied
	return nil
}

func (r *fakeMessageRepo) FindByID(_ context.Context, id string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message, ok := r.messages[id]; ok {
		copied := *message
		copied.Reactions = append([]model.Reaction(nil), message.Reactions...)
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeMessageRepo) Update(_ context.Context, message *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.messages[message.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	reactions := stored.Reactions
	copied := *message
	copied.Reactions = reactions
	r.messages[message.ID] = &copied
	return nil
}

func (r *fakeMessageRepo) ListRoots(_ context.Context, channelID string, offset, limit int) ([]*model.Message, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var roots []*model.Message
	for _, message := range r.messages {
		if message.ChannelID == channelID && message.ThreadParentID == nil {
			copied := *message
			roots = append(roots, &copied)
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		return roots[i].CreatedAt.After(roots[j].CreatedAt)
	})
	total := int64(len(roots))
	if offset >= len(roots) {
		return nil, total, nil
	}
	roots = roots[offset:]
	if limit < len(roots) {
		roots = roots[:limit]
	}
	return roots, total, nil
}

func (r *fakeMessageRepo) CountReplies(_ context.Context, parentIDs []string) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int64, len(parentIDs))
	wanted := make(map[string]bool, len(parentIDs))
	for _, id := range parentIDs {
		wanted[id] = true
	}
	for _, message := range r.messages {
		if message.ThreadParentID != nil && wanted[*message.ThreadParentID] && !message.IsDeleted {
			counts[*message.ThreadParentID]++
		}
	}
	return counts, nil
}

func (r *fakeMessageRepo) ListReplies(_ context.Context, parentID string) ([]*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var replies []*model.Message
	for _, message := range r.messages {
		if message.ThreadParentID != nil && *message.ThreadParentID == parentID && !message.IsDeleted {
			copied := *message
			replies = append(replies, &copied)
		}
	}
	sort.Slice(replies, func(i, j int) bool {
		return replies[i].CreatedAt.Before(replies[j].CreatedAt)
	})
	return replies, nil
}

func (r *fakeMessageRepo) AddReaction(_ context.Context, reaction *model.Reaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	message, ok := r.messages[reaction.MessageID]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	for _, existing := range message.Reactions {
		if existing.UserID == reaction.UserID && existing.Emoji == reaction.Emoji {
			return false, nil
		}
	}
	message.Reactions = append(message.Reactions, *reaction)
	return true, nil
}

func (r *fakeMessageRepo) RemoveReaction(_ context.Context, messageID, userID, emoji string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	message, ok := r.messages[messageID]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	before := len(message.Reactions)
	kept := message.Reactions[:0]
	for _, reaction := range message.Reactions {
		if reaction.UserID != userID || reaction.Emoji != emoji {
			kept = append(kept, reaction)
		}
	}
	message.Reactions = kept
	return len(kept) < before, nil
}

func (r *fakeMessageRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int64
	for id, message := range r.messages {
		if message.CreatedAt.Before(cutoff) {
			delete(r.messages, id)
			purged++
		}
	}
	return purged, nil
}

// setCreatedAt backdates a stored message so edit-window tests can hit the
// boundary exactly.
func (r *fakeMessageRepo) setCreatedAt(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message, ok := r.messages[id]; ok {
		message.CreatedAt = at
	}
}

type fakeNotificationRepo struct {
	mu            sync.Mutex
	notifications map[string]*model.Notification
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{notifications: make(map[string]*model.Notification)}
}

func (r *fakeNotificationRepo) Create(_ context.Context, notification *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}
	copied := *notification
	r.notifications[notification.ID] = &copied
	return nil
}

func (r *fakeNotificationRepo) ListByRecipient(_ context.Context, recipientID string, unreadOnly bool) ([]*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []*model.Notification
	for _, notification := range r.notifications {
		if notification.RecipientID != recipientID {
			continue
		}
		if unreadOnly && notification.IsRead {
			continue
		}
		copied := *notification
		list = append(list, &copied)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (r *fakeNotificationRepo) MarkRead(_ context.Context, id, recipientID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	notification, ok := r.notifications[id]
	if !ok || notification.RecipientID != recipientID {
		return 0, nil
	}
	notification.IsRead = true
	return 1, nil
}

func (r *fakeNotificationRepo) MarkAllRead(_ context.Context, recipientID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, notification := range r.notifications {
		if notification.RecipientID == recipientID && !notification.IsRead {
			notification.IsRead = true
			count++
		}
	}
	return count, nil
}

func (r *fakeNotificationRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int64
	for id, notification := range r.notifications {
		if notification.CreatedAt.Before(cutoff) {
			delete(r.notifications, id)
			purged++
		}
	}
	return purged, nil
}

// recordingPublisher captures every published event for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func (p *recordingPublisher) ByType(eventType string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var matched []Event
	for _, event := range p.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

type fakeSequencer struct {
	mu   sync.Mutex
	seqs map[string]int64
}

func newFakeSequencer() *fakeSequencer {
	return &fakeSequencer{seqs: make(map[string]int64)}
}

func (s *fakeSequencer) NextSeq(_ context.Context, channelID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[channelID]++
	return s.seqs[channelID], nil
}

type fakeOnlineStore struct {
	mu     sync.Mutex
	online map[string]bool
}

func newFakeOnlineStore() *fakeOnlineStore {
	return &fakeOnlineStore{online: make(map[string]bool)}
}

func (s *fakeOnlineStore) SetUserOnline(_ context.Context, userID string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = true
	return nil
}

func (s *fakeOnlineStore) RemoveUserOnline(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.online, userID)
	return nil
}

func (s *fakeOnlineStore) isOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userID]
}

func keymutexForTest() *keymutex.KeyMutex {
	return keymutex.New(16)
}

// testEnv assembles the full service stack on in-memory fakes.
type testEnv struct {
	users         *fakeUserRepo
	channelRepo   *fakeChannelRepo
	messageRepo   *fakeMessageRepo
	notifications *fakeNotificationRepo
	publisher     *recordingPublisher
	store         *fakeOnlineStore
	presence      *PresenceTracker
	channels      IChannelService
	messages      IMessageService
	idGen         *snowflake.Generator

	nextUser int
}

func newTestEnv() *testEnv {
	users := newFakeUserRepo()
	channelRepo := newFakeChannelRepo(users)
	messageRepo := newFakeMessageRepo()
	notifications := newFakeNotificationRepo()
	publisher := &recordingPublisher{}
	store := newFakeOnlineStore()
	idGen, err := snowflake.NewGenerator(1)
	if err != nil {
		panic(err)
	}
	locks := keymutex.New(16)

	presence := NewPresenceTracker(users, channelRepo, store, publisher, nil)
	channels := NewChannelService(channelRepo, users, presence, publisher, locks, 10)
	messages := NewMessageService(messageRepo, channels, idGen, newFakeSequencer(), locks, publisher, nil, MessageServiceConfig{
		MaxContentLength: 2000,
		EditWindow:       5 * time.Minute,
		DefaultPageSize:  30,
		MaxPageSize:      100,
	})

	return &testEnv{
		users:         users,
		channelRepo:   channelRepo,
		messageRepo:   messageRepo,
		notifications: notifications,
		publisher:     publisher,
		store:         store,
		presence:      presence,
		channels:      channels,
		messages:      messages,
		idGen:         idGen,
	}
}

// addUser registers a user; creation times increase with call order so
// ownership-transfer tests get a deterministic oldest member.
func (e *testEnv) addUser(username string) *model.User {
	e.nextUser++
	user := &model.User{
		ID:        "user-" + strconv.Itoa(e.nextUser),
		Username:  username,
		Email:     username + "@example.com",
		Role:      model.RoleMember,
		CreatedAt: time.Unix(int64(1_700_000_000+e.nextUser), 0),
	}
	if err := e.users.Create(context.Background(), user); err != nil {
		panic(err)
	}
	return user
}
