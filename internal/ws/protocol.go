package ws

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"ephemeral-chat/internal/apperr"
	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/observability"
)

// ChatService is what the protocol needs from the chat domain.
type ChatService interface {
	JoinableChat(ctx context.Context, chatID, userID int64) (models.Chat, error)
	PostMessage(ctx context.Context, in models.NewMessage) (models.Chat, models.PopulatedMessage, error)
}

// Notifier queues push notifications.
type Notifier interface {
	NotifyOthers(chat models.Chat, senderID int64, text string) bool
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type roomPayload struct {
	ChatID int64 `json:"chat_id"`
}

// SendPayload is the data of a send-message frame.
type SendPayload struct {
	ChatID      int64              `json:"chat_id"`
	SenderID    int64              `json:"sender_id"`
	Message     *string            `json:"message,omitempty"`
	Media       *models.MediaRef   `json:"media,omitempty"`
	ContentType models.ContentType `json:"content_type"`
	Reaction    bool               `json:"reaction,omitempty"`
}

// Client is a peer plus the rooms it has joined, so a disconnect can leave all of them.
type Client struct {
	Peer
	mu    sync.Mutex
	rooms map[int64]struct{}
}

func NewClient(peer Peer) *Client {
	return &Client{Peer: peer, rooms: make(map[int64]struct{})}
}

func (c *Client) track(chatID int64) {
	c.mu.Lock()
	c.rooms[chatID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) untrack(chatID int64) {
	c.mu.Lock()
	delete(c.rooms, chatID)
	c.mu.Unlock()
}

// Rooms returns the joined chat ids in ascending order.
func (c *Client) Rooms() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Protocol implements the realtime chat events on top of the registry and the fan-out bus.
type Protocol struct {
	registry *Registry
	fanout   Fanout
	chats    ChatService
	notifier Notifier
	logger   *zap.Logger
}

func NewProtocol(registry *Registry, fanout Fanout, chats ChatService, notifier Notifier, logger *zap.Logger) *Protocol {
	return &Protocol{registry: registry, fanout: fanout, chats: chats, notifier: notifier, logger: logger}
}

// Handle decodes one inbound frame and runs it. Failures are reported to the client as
// error events; the connection stays open.
func (p *Protocol) Handle(ctx context.Context, client *Client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		p.sendError(client, apperr.Validation("malformed frame"))
		return
	}
	observability.IncWSEvent(eventLabel(frame.Event))

	var err error
	switch frame.Event {
	case models.EventJoin:
		var payload roomPayload
		if err = decode(frame.Data, &payload); err == nil {
			err = p.Join(ctx, client, payload.ChatID)
		}
	case models.EventLeave:
		var payload roomPayload
		if err = decode(frame.Data, &payload); err == nil {
			p.Leave(client, payload.ChatID)
		}
	case models.EventSendMessage:
		var payload SendPayload
		if err = decode(frame.Data, &payload); err == nil {
			err = p.Send(ctx, client, payload)
		}
	case models.EventPing:
		client.Send(encodeEvent(models.EventPong, nil))
	default:
		err = apperr.Validation("unknown event " + frame.Event)
	}
	if err != nil {
		p.sendError(client, err)
	}
}

// Join subscribes the client to a chat it belongs to. When the join makes an empty room
// active, chat-started is sent to the room.
func (p *Protocol) Join(ctx context.Context, client *Client, chatID int64) error {
	if chatID <= 0 {
		return apperr.Validation("chat_id is required")
	}
	if _, err := p.chats.JoinableChat(ctx, chatID, client.UserID()); err != nil {
		return err
	}
	p.join(client, chatID)
	return nil
}

func (p *Protocol) join(client *Client, chatID int64) {
	activated := p.registry.Join(chatID, client)
	client.track(chatID)
	// Activation is per process: chat-started stays in the local room and is never fanned out.
	if activated {
		frame := encodeEvent(models.EventChatStarted, models.ChatStartedPayload{ChatRoom: chatID})
		p.registry.Broadcast(chatID, frame, "")
	}
}

func (p *Protocol) Leave(client *Client, chatID int64) {
	p.registry.Leave(chatID, client)
	client.untrack(chatID)
}

// Disconnect removes the client from every room it joined.
func (p *Protocol) Disconnect(client *Client) {
	rooms := client.Rooms()
	p.registry.LeaveAll(client, rooms)
	for _, id := range rooms {
		client.untrack(id)
	}
}

// Send persists a message and delivers it. Nothing is broadcast unless the message was
// stored. Other room members get it through the fan-out bus; the sender gets exactly one
// copy directly.
func (p *Protocol) Send(ctx context.Context, client *Client, payload SendPayload) error {
	in := models.NewMessage{
		ChatID:      payload.ChatID,
		SenderID:    payload.SenderID,
		Body:        payload.Message,
		Media:       payload.Media,
		ContentType: payload.ContentType,
		Reaction:    payload.Reaction,
	}
	if err := in.Validate(); err != nil {
		return err
	}
	if in.SenderID != client.UserID() {
		return apperr.Forbidden("sender_id does not match the authenticated user")
	}

	chat, msg, err := p.chats.PostMessage(ctx, in)
	if err != nil {
		return err
	}

	// The sender may have skipped join; deliver to it as a room member from now on.
	if !p.registry.Contains(chat.ID, client) {
		p.join(client, chat.ID)
	}

	frame := encodeEvent(models.EventReceiveMessage, msg)
	if err := p.fanout.Publish(ctx, chat.ID, frame, client.ID()); err != nil {
		p.logger.Warn("message fan-out failed", zap.Int64("chat_id", chat.ID), zap.Int64("message_id", msg.ID), zap.Error(err))
	}
	client.Send(frame)
	observability.IncMessageSent(string(msg.ContentType))

	p.notifier.NotifyOthers(chat, in.SenderID, pushText(msg))
	return nil
}

// Deliver broadcasts a message stored outside a realtime session to every live room member
// and queues the push for the others.
func (p *Protocol) Deliver(ctx context.Context, chat models.Chat, msg models.PopulatedMessage) {
	frame := encodeEvent(models.EventReceiveMessage, msg)
	if err := p.fanout.Publish(ctx, chat.ID, frame, ""); err != nil {
		p.logger.Warn("message fan-out failed", zap.Int64("chat_id", chat.ID), zap.Int64("message_id", msg.ID), zap.Error(err))
	}
	observability.IncMessageSent(string(msg.ContentType))
	p.notifier.NotifyOthers(chat, msg.Sender.ID, pushText(msg))
}

func (p *Protocol) sendError(client *Client, err error) {
	if apperr.CodeOf(err) == apperr.CodeInternal {
		p.logger.Error("realtime request failed", zap.String("conn_id", client.ID()), zap.Error(err))
	}
	client.Send(encodeEvent(models.EventError, models.ErrorPayload{
		Message:   apperr.PublicMessage(err),
		Code:      string(apperr.CodeOf(err)),
		Retryable: apperr.IsRetryable(err),
	}))
}

func pushText(msg models.PopulatedMessage) string {
	prefix := msg.Sender.Name
	if prefix == "" {
		prefix = "New message"
	}
	if msg.Chat.Type == models.ChatGroup && msg.Chat.Name != "" {
		prefix += " @ " + msg.Chat.Name
	}
	switch {
	case msg.Message != nil:
		return prefix + ": " + *msg.Message
	case msg.ContentType == models.ContentVideo:
		return prefix + " sent a video"
	default:
		return prefix + " sent a photo"
	}
}

func eventLabel(event string) string {
	switch event {
	case models.EventJoin, models.EventLeave, models.EventSendMessage, models.EventPing:
		return event
	}
	return "unknown"
}

func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return apperr.Validation("missing data")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return apperr.Validation("malformed data")
	}
	return nil
}

func encodeEvent(event string, data any) []byte {
	b, err := json.Marshal(models.ChatEvent{Event: event, Data: data})
	if err != nil {
		b, _ = json.Marshal(models.ChatEvent{Event: models.EventError, Data: models.ErrorPayload{Message: "internal error", Code: string(apperr.CodeInternal)}})
	}
	return b
}
