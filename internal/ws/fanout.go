package ws

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ephemeral-chat/internal/observability"
)

// Fanout delivers a frame to every peer of a room except the origin, wherever those peers
// are connected. Evict drops a user's peers from a room on every process.
type Fanout interface {
	Publish(ctx context.Context, chatID int64, frame []byte, originPeerID string) error
	Evict(ctx context.Context, chatID, userID int64) error
}

// LocalFanout delivers through the in-process registry only.
type LocalFanout struct {
	registry *Registry
}

func NewLocalFanout(registry *Registry) *LocalFanout {
	return &LocalFanout{registry: registry}
}

func (f *LocalFanout) Publish(_ context.Context, chatID int64, frame []byte, originPeerID string) error {
	observability.AddFanoutDeliveries(f.registry.Broadcast(chatID, frame, originPeerID))
	return nil
}

func (f *LocalFanout) Evict(_ context.Context, chatID, userID int64) error {
	f.registry.EvictUser(chatID, userID)
	return nil
}

const roomSubjectPrefix = "chat.rooms."

// RoomSubject is the NATS subject that carries frames for one chat.
func RoomSubject(chatID int64) string {
	return roomSubjectPrefix + strconv.FormatInt(chatID, 10)
}

// roomEnvelope carries either a frame to broadcast or a user to evict from the room.
type roomEnvelope struct {
	ChatID    int64           `json:"chat_id"`
	Origin    string          `json:"origin,omitempty"`
	Frame     json.RawMessage `json:"frame,omitempty"`
	EvictUser int64           `json:"evict_user,omitempty"`
}

// NATSFanout shares rooms between processes. Every process subscribes to all room
// subjects and delivers into its own registry; peer ids are unique across processes so
// the origin is excluded everywhere.
type NATSFanout struct {
	conn     *nats.Conn
	sub      *nats.Subscription
	registry *Registry
	logger   *zap.Logger
}

// NewNATSFanout subscribes to every room subject on conn.
func NewNATSFanout(conn *nats.Conn, registry *Registry, logger *zap.Logger) (*NATSFanout, error) {
	f := &NATSFanout{conn: conn, registry: registry, logger: logger}
	sub, err := conn.Subscribe(roomSubjectPrefix+"*", f.deliver)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe room subjects")
	}
	f.sub = sub
	return f, nil
}

func (f *NATSFanout) Publish(_ context.Context, chatID int64, frame []byte, originPeerID string) error {
	data, err := encodeRoomEnvelope(chatID, frame, originPeerID)
	if err != nil {
		return err
	}
	return errors.Wrap(f.conn.Publish(RoomSubject(chatID), data), "publish room frame")
}

// Evict publishes the eviction so every process, this one included, applies it.
func (f *NATSFanout) Evict(_ context.Context, chatID, userID int64) error {
	data, err := json.Marshal(roomEnvelope{ChatID: chatID, EvictUser: userID})
	if err != nil {
		return errors.Wrap(err, "encode room eviction")
	}
	return errors.Wrap(f.conn.Publish(RoomSubject(chatID), data), "publish room eviction")
}

func (f *NATSFanout) deliver(msg *nats.Msg) {
	env, err := decodeRoomEnvelope(msg.Data)
	if err != nil {
		f.logger.Warn("dropping malformed room frame", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if env.EvictUser > 0 {
		f.registry.EvictUser(env.ChatID, env.EvictUser)
		return
	}
	observability.AddFanoutDeliveries(f.registry.Broadcast(env.ChatID, env.Frame, env.Origin))
}

// Close drains the subscription so in-flight frames are still delivered.
func (f *NATSFanout) Close() error {
	if f.sub == nil {
		return nil
	}
	return f.sub.Drain()
}

func encodeRoomEnvelope(chatID int64, frame []byte, origin string) ([]byte, error) {
	data, err := json.Marshal(roomEnvelope{ChatID: chatID, Origin: origin, Frame: frame})
	return data, errors.Wrap(err, "encode room envelope")
}

func decodeRoomEnvelope(data []byte) (roomEnvelope, error) {
	var env roomEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return roomEnvelope{}, errors.Wrap(err, "decode room envelope")
	}
	if env.ChatID <= 0 || (len(env.Frame) == 0 && env.EvictUser <= 0) {
		return roomEnvelope{}, errors.New("room envelope missing chat id or frame")
	}
	return env, nil
}

// ConnectNATS dials the bus with reconnects enabled.
func ConnectNATS(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
}
