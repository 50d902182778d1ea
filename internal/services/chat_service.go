package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"ephemeral-chat/internal/apperr"
	"ephemeral-chat/internal/cache"
	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/repositories"
)

var (
	ErrNotMember       = apperr.Forbidden("not a member of this chat")
	ErrNotCreator      = apperr.Forbidden("only the group creator can do that")
	ErrNotGroup        = apperr.Validation("not a group chat")
	ErrReceiverMissing = apperr.NotFound("receiver not found")
	ErrChatsMissing    = apperr.NotFound("one or more chats not found")
)

// maxTargets caps the chats one multi-chat send may address.
const maxTargets = 50

// Delivery is one message stored by a multi-chat send, with the chat it belongs to.
type Delivery struct {
	Chat    models.Chat
	Message models.PopulatedMessage
}

// ChatList is one page of a user's chats.
type ChatList struct {
	Chats []models.ChatSummary `json:"chats"`
	Meta  models.Page          `json:"meta"`
}

// History is one page of a chat's messages, newest first.
type History struct {
	Messages []models.PopulatedMessage `json:"messages"`
	Meta     models.Page               `json:"meta"`
}

// GroupUpdate carries the optional fields of a group edit.
type GroupUpdate struct {
	Name  *string
	Image *string
}

// ChatService holds chat, group and message rules on top of the stores.
type ChatService struct {
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
	notifier Notifier
	evictor  RoomEvictor
	cache    cache.Cache
	cacheTTL time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func NewChatService(chats repositories.ChatRepository, messages repositories.MessageRepository, notifier Notifier, evictor RoomEvictor, c cache.Cache, cacheTTL, storeTimeout time.Duration, logger *zap.Logger) *ChatService {
	return &ChatService{
		chats:    chats,
		messages: messages,
		notifier: notifier,
		evictor:  evictor,
		cache:    c,
		cacheTTL: cacheTTL,
		timeout:  storeTimeout,
		logger:   logger,
	}
}

func (s *ChatService) getChat(ctx context.Context, chatID int64) (models.Chat, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	chat, err := s.chats.GetChat(ctx, chatID)
	return chat, storeError(ctx, "load chat", err)
}

func (s *ChatService) getGroupAsCreator(ctx context.Context, chatID, actorID int64) (models.Chat, error) {
	chat, err := s.getChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if !chat.IsGroup() {
		return models.Chat{}, ErrNotGroup
	}
	if chat.CreatedBy != actorID {
		return models.Chat{}, ErrNotCreator
	}
	return chat, nil
}

// FindOrCreatePrivate returns the private chat between creator and participant. The
// participant is notified only when the chat is new.
func (s *ChatService) FindOrCreatePrivate(ctx context.Context, creatorID, participantID int64) (models.Chat, bool, error) {
	if participantID <= 0 {
		return models.Chat{}, false, apperr.Validation("participant_id is required")
	}
	if creatorID == participantID {
		return models.Chat{}, false, repositories.ErrSelfChat
	}

	sctx, cancel := bounded(ctx, s.timeout)
	chat, created, err := s.chats.FindOrCreatePrivate(sctx, creatorID, participantID)
	err = storeError(sctx, "create private chat", err)
	cancel()
	if err != nil {
		return models.Chat{}, false, err
	}

	if created {
		s.notifier.Announce(creatorID, chat.Others(creatorID), "wants to talk with you.")
		s.invalidateLists(ctx, chat.Members...)
	}
	return chat, created, nil
}

func (s *ChatService) CreateGroup(ctx context.Context, creatorID int64, name, image string, memberIDs []int64) (models.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Chat{}, apperr.Validation("group name is required")
	}
	others := 0
	for _, id := range memberIDs {
		if id <= 0 {
			return models.Chat{}, apperr.Validation("member ids must be positive")
		}
		if id != creatorID {
			others++
		}
	}
	if others == 0 {
		return models.Chat{}, apperr.Validation("a group needs at least one other member")
	}

	sctx, cancel := bounded(ctx, s.timeout)
	chat, err := s.chats.CreateGroup(sctx, creatorID, name, image, memberIDs)
	err = storeError(sctx, "create group", err)
	cancel()
	if err != nil {
		return models.Chat{}, err
	}

	s.notifier.Announce(creatorID, chat.Others(creatorID), "added you to "+chat.Name)
	s.invalidateLists(ctx, chat.Members...)
	return chat, nil
}

// AddMembers adds users to a group. If any of them is already a member nothing is added.
func (s *ChatService) AddMembers(ctx context.Context, chatID, actorID int64, userIDs []int64) (models.Chat, error) {
	userIDs = uniqueIDs(userIDs)
	if len(userIDs) == 0 {
		return models.Chat{}, apperr.Validation("member_ids is required")
	}
	chat, err := s.getGroupAsCreator(ctx, chatID, actorID)
	if err != nil {
		return models.Chat{}, err
	}
	for _, id := range userIDs {
		if id <= 0 {
			return models.Chat{}, apperr.Validation("member ids must be positive")
		}
		if chat.HasMember(id) {
			return models.Chat{}, repositories.ErrAlreadyMember
		}
	}

	sctx, cancel := bounded(ctx, s.timeout)
	err = storeError(sctx, "add members", s.chats.AddMembers(sctx, chatID, userIDs))
	cancel()
	if err != nil {
		return models.Chat{}, err
	}

	s.notifier.Announce(actorID, userIDs, "added you to "+chat.Name)
	chat.Members = append(chat.Members, userIDs...)
	s.invalidateLists(ctx, chat.Members...)
	return chat, nil
}

// RemoveMember removes another member from a group. It sends no notification.
func (s *ChatService) RemoveMember(ctx context.Context, chatID, actorID, memberID int64) error {
	if memberID == actorID {
		return apperr.Validation("use leave to exit a group")
	}
	chat, err := s.getGroupAsCreator(ctx, chatID, actorID)
	if err != nil {
		return err
	}

	sctx, cancel := bounded(ctx, s.timeout)
	removed, err := s.chats.RemoveMember(sctx, chatID, memberID)
	err = storeError(sctx, "remove member", err)
	cancel()
	if err != nil {
		return err
	}
	if !removed {
		return apperr.NotFound("user is not a member of this group")
	}
	s.evict(ctx, chatID, memberID)
	s.invalidateLists(ctx, chat.Members...)
	return nil
}

// Leave removes the caller from a group. The last member cannot leave.
func (s *ChatService) Leave(ctx context.Context, chatID, userID int64) error {
	chat, err := s.getChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsGroup() {
		return ErrNotGroup
	}
	if !chat.HasMember(userID) {
		return ErrNotMember
	}
	if len(chat.Members) == 1 {
		return apperr.Validation("the last member cannot leave, delete the group instead")
	}

	sctx, cancel := bounded(ctx, s.timeout)
	_, err = s.chats.RemoveMember(sctx, chatID, userID)
	err = storeError(sctx, "leave group", err)
	cancel()
	if err != nil {
		return err
	}
	s.evict(ctx, chatID, userID)
	s.invalidateLists(ctx, chat.Members...)
	return nil
}

// DeleteGroup removes a group and its messages.
func (s *ChatService) DeleteGroup(ctx context.Context, chatID, actorID int64) error {
	chat, err := s.getGroupAsCreator(ctx, chatID, actorID)
	if err != nil {
		return err
	}

	sctx, cancel := bounded(ctx, s.timeout)
	err = storeError(sctx, "delete group", s.chats.DeleteChat(sctx, chatID))
	cancel()
	if err != nil {
		return err
	}
	for _, id := range chat.Members {
		s.evict(ctx, chatID, id)
	}
	s.invalidateLists(ctx, chat.Members...)
	return nil
}

func (s *ChatService) UpdateGroup(ctx context.Context, chatID, actorID int64, update GroupUpdate) (models.Chat, error) {
	chat, err := s.getGroupAsCreator(ctx, chatID, actorID)
	if err != nil {
		return models.Chat{}, err
	}
	if update.Name != nil {
		chat.Name = strings.TrimSpace(*update.Name)
	}
	if update.Image != nil {
		chat.Image = *update.Image
	}
	if chat.Name == "" {
		return models.Chat{}, apperr.Validation("group name is required")
	}

	sctx, cancel := bounded(ctx, s.timeout)
	err = storeError(sctx, "update group", s.chats.UpdateGroup(sctx, chatID, chat.Name, chat.Image))
	cancel()
	if err != nil {
		return models.Chat{}, err
	}
	s.invalidateLists(ctx, chat.Members...)
	return chat, nil
}

func (s *ChatService) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	sctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	ok, err := s.chats.IsMember(sctx, chatID, userID)
	return ok, storeError(sctx, "check membership", err)
}

// ResolveOtherMembers returns the recipients of a message from senderID.
func (s *ChatService) ResolveOtherMembers(ctx context.Context, chatID, senderID int64) ([]int64, error) {
	chat, err := s.getChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	others := chat.Others(senderID)
	if len(others) == 0 && !chat.IsGroup() {
		return nil, ErrReceiverMissing
	}
	return others, nil
}

// GetChat returns a chat the viewer belongs to.
func (s *ChatService) GetChat(ctx context.Context, chatID, viewerID int64) (models.Chat, error) {
	chat, err := s.getChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if !chat.HasMember(viewerID) {
		return models.Chat{}, ErrNotMember
	}
	return chat, nil
}

// JoinableChat authorizes a realtime join.
func (s *ChatService) JoinableChat(ctx context.Context, chatID, userID int64) (models.Chat, error) {
	return s.GetChat(ctx, chatID, userID)
}

// PostMessage validates and persists a message and returns it populated for broadcast.
func (s *ChatService) PostMessage(ctx context.Context, in models.NewMessage) (models.Chat, models.PopulatedMessage, error) {
	if err := in.Validate(); err != nil {
		return models.Chat{}, models.PopulatedMessage{}, err
	}
	chat, err := s.getChat(ctx, in.ChatID)
	if err != nil {
		return models.Chat{}, models.PopulatedMessage{}, err
	}
	if !chat.HasMember(in.SenderID) {
		return models.Chat{}, models.PopulatedMessage{}, apperr.Forbidden("sender is not a member of this chat")
	}
	if len(chat.Others(in.SenderID)) == 0 && !chat.IsGroup() {
		return models.Chat{}, models.PopulatedMessage{}, ErrReceiverMissing
	}

	sctx, cancel := bounded(ctx, s.timeout)
	msg, err := s.messages.Create(sctx, in)
	err = storeError(sctx, "save message", err)
	cancel()
	if err != nil {
		return models.Chat{}, models.PopulatedMessage{}, err
	}

	sctx, cancel = bounded(ctx, s.timeout)
	populated, err := s.messages.GetPopulated(sctx, msg.ID)
	cancel()
	if err != nil {
		s.logger.Warn("populate message failed, broadcasting bare message", zap.Int64("message_id", msg.ID), zap.Error(err))
		populated = bareMessage(chat, msg)
	}

	sctx, cancel = bounded(ctx, s.timeout)
	if err := s.chats.Touch(sctx, chat.ID); err != nil {
		s.logger.Warn("touch chat failed", zap.Int64("chat_id", chat.ID), zap.Error(err))
	}
	cancel()
	s.invalidateLists(ctx, chat.Members...)
	return chat, populated, nil
}

// PostToChats stores one copy of template in each of chatIDs. Every chat must exist and
// include the sender before anything is written.
func (s *ChatService) PostToChats(ctx context.Context, senderID int64, chatIDs []int64, template models.NewMessage) ([]Delivery, error) {
	chatIDs = uniqueIDs(chatIDs)
	if len(chatIDs) == 0 {
		return nil, apperr.Validation("chat_ids is required")
	}
	if len(chatIDs) > maxTargets {
		return nil, apperr.Validation("too many chats in one send")
	}
	for _, id := range chatIDs {
		if id <= 0 {
			return nil, apperr.Validation("chat ids must be positive")
		}
	}

	chats := make([]models.Chat, 0, len(chatIDs))
	batch := make([]models.NewMessage, 0, len(chatIDs))
	for _, id := range chatIDs {
		in := template
		in.ChatID = id
		in.SenderID = senderID
		if err := in.Validate(); err != nil {
			return nil, err
		}
		chat, err := s.getChat(ctx, id)
		if err != nil {
			if apperr.Is(err, apperr.CodeNotFound) {
				return nil, ErrChatsMissing
			}
			return nil, err
		}
		if !chat.HasMember(senderID) {
			return nil, apperr.Forbidden("sender is not a member of every chat")
		}
		if len(chat.Others(senderID)) == 0 && !chat.IsGroup() {
			return nil, ErrReceiverMissing
		}
		chats = append(chats, chat)
		batch = append(batch, in)
	}

	sctx, cancel := bounded(ctx, s.timeout)
	msgs, err := s.messages.CreateMany(sctx, batch)
	err = storeError(sctx, "save messages", err)
	cancel()
	if err != nil {
		return nil, err
	}

	out := make([]Delivery, 0, len(msgs))
	for i, msg := range msgs {
		chat := chats[i]
		sctx, cancel := bounded(ctx, s.timeout)
		populated, err := s.messages.GetPopulated(sctx, msg.ID)
		if err != nil {
			s.logger.Warn("populate message failed, broadcasting bare message", zap.Int64("message_id", msg.ID), zap.Error(err))
			populated = bareMessage(chat, msg)
		}
		if err := s.chats.Touch(sctx, chat.ID); err != nil {
			s.logger.Warn("touch chat failed", zap.Int64("chat_id", chat.ID), zap.Error(err))
		}
		cancel()
		s.invalidateLists(ctx, chat.Members...)
		out = append(out, Delivery{Chat: chat, Message: populated})
	}
	return out, nil
}

// ListChats returns the user's chats with their latest message, most recent first.
func (s *ChatService) ListChats(ctx context.Context, userID int64, page, limit int) (ChatList, error) {
	page, limit = normalizePage(page, limit)
	key := cache.ChatListKey(userID, page, limit)

	var cached ChatList
	if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
		s.logger.Warn("chat list cache read failed", zap.String("key", key), zap.Error(err))
	} else if hit {
		return cached, nil
	}

	sctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	chats, total, err := s.chats.ListForUser(sctx, userID, limit, (page-1)*limit)
	if err != nil {
		return ChatList{}, storeError(sctx, "list chats", err)
	}
	ids := make([]int64, 0, len(chats))
	for _, c := range chats {
		ids = append(ids, c.ID)
	}
	latest, err := s.messages.LatestForChats(sctx, ids)
	if err != nil {
		return ChatList{}, storeError(sctx, "list chats", err)
	}

	out := ChatList{Chats: make([]models.ChatSummary, 0, len(chats)), Meta: models.NewPage(page, limit, total)}
	for _, c := range chats {
		summary := models.ChatSummary{Chat: c}
		if msg, ok := latest[c.ID]; ok {
			msg := msg
			summary.LastMessage = &msg
		}
		out.Chats = append(out.Chats, summary)
	}

	if err := s.cache.Set(ctx, key, out, s.cacheTTL); err != nil {
		s.logger.Warn("chat list cache write failed", zap.String("key", key), zap.Error(err))
	}
	return out, nil
}

// History returns one page of a chat and marks the other members' messages in it as read.
func (s *ChatService) History(ctx context.Context, chatID, readerID int64, page, limit int) (History, error) {
	page, limit = normalizePage(page, limit)
	if _, err := s.GetChat(ctx, chatID, readerID); err != nil {
		return History{}, err
	}

	sctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	total, err := s.messages.Count(sctx, chatID)
	if err != nil {
		return History{}, storeError(sctx, "load history", err)
	}
	msgs, err := s.messages.ListPopulated(sctx, chatID, limit, (page-1)*limit)
	if err != nil {
		return History{}, storeError(sctx, "load history", err)
	}

	var unread []int64
	for i := range msgs {
		if msgs[i].Sender.ID != readerID && !msgs[i].Read {
			unread = append(unread, msgs[i].ID)
			msgs[i].Read = true
		}
	}
	if len(unread) > 0 {
		if _, err := s.messages.MarkRead(sctx, unread, readerID); err != nil {
			return History{}, storeError(sctx, "mark read", err)
		}
	}
	return History{Messages: msgs, Meta: models.NewPage(page, limit, total)}, nil
}

// MarkViewed flags a message as viewed by a member of its chat.
func (s *ChatService) MarkViewed(ctx context.Context, messageID, readerID int64) error {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if _, err := s.GetChat(ctx, msg.ChatID, readerID); err != nil {
		return err
	}
	sctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	return storeError(sctx, "mark viewed", s.messages.MarkViewed(sctx, messageID))
}

// DeleteOwnMessage deletes a message sent by senderID.
func (s *ChatService) DeleteOwnMessage(ctx context.Context, messageID, senderID int64) error {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != senderID {
		return apperr.Forbidden("you can only delete your own messages")
	}

	sctx, cancel := bounded(ctx, s.timeout)
	err = storeError(sctx, "delete message", s.messages.DeleteBySender(sctx, messageID, senderID))
	cancel()
	if err != nil {
		return err
	}
	if chat, err := s.getChat(ctx, msg.ChatID); err == nil {
		s.invalidateLists(ctx, chat.Members...)
	}
	return nil
}

func (s *ChatService) getMessage(ctx context.Context, messageID int64) (models.Message, error) {
	sctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	msg, err := s.messages.Get(sctx, messageID)
	return msg, storeError(sctx, "load message", err)
}

func (s *ChatService) invalidateLists(ctx context.Context, userIDs ...int64) {
	for _, id := range userIDs {
		if err := s.cache.DeleteByPrefix(ctx, cache.ChatListPrefix(id)); err != nil {
			s.logger.Warn("chat list cache invalidation failed", zap.Int64("user_id", id), zap.Error(err))
		}
	}
}

func (s *ChatService) evict(ctx context.Context, chatID, userID int64) {
	if s.evictor == nil {
		return
	}
	if err := s.evictor.Evict(ctx, chatID, userID); err != nil {
		s.logger.Warn("room eviction failed", zap.Int64("chat_id", chatID), zap.Int64("user_id", userID), zap.Error(err))
	}
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func bareMessage(chat models.Chat, msg models.Message) models.PopulatedMessage {
	out := models.PopulatedMessage{
		ID:          msg.ID,
		Chat:        models.ChatRef{ID: chat.ID, Type: chat.Type, Name: chat.Name},
		Sender:      models.UserRef{ID: msg.SenderID},
		Media:       msg.Media,
		ContentType: msg.ContentType,
		Viewed:      msg.Viewed,
		Read:        msg.Read,
		Reaction:    msg.Reaction,
		CreatedAt:   msg.CreatedAt,
	}
	if msg.Body.Valid {
		body := msg.Body.String
		out.Message = &body
	}
	return out
}
