package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ephemeral-chat/internal/rabbitmq"
)

// Sender delivers one push notification to every token of a single recipient.
// Fallback identifies the recipient to gateways that cannot use the tokens (the phone number).
type Sender interface {
	SendPush(ctx context.Context, tokens []string, fallback, text string) error
}

// PushRequest is the message consumed by the push gateway.
type PushRequest struct {
	Tokens      []string `json:"tokens"`
	Fallback    string   `json:"fallback,omitempty"`
	Text        string   `json:"text"`
	RequestedAt string   `json:"requested_at"`
}

// AMQPSender hands push requests to the gateway over the event exchange.
type AMQPSender struct {
	publisher  rabbitmq.Publisher
	routingKey string
}

func NewAMQPSender(publisher rabbitmq.Publisher, routingKey string) *AMQPSender {
	return &AMQPSender{publisher: publisher, routingKey: routingKey}
}

func (s *AMQPSender) SendPush(ctx context.Context, tokens []string, fallback, text string) error {
	return s.publisher.Publish(ctx, s.routingKey, PushRequest{
		Tokens:      tokens,
		Fallback:    fallback,
		Text:        text,
		RequestedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil)
}

// LogSender only logs; used when no gateway is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendPush(_ context.Context, tokens []string, fallback, text string) error {
	s.logger.Info("push notification", zap.Int("tokens", len(tokens)), zap.String("to", fallback), zap.String("text", excerpt(text)))
	return nil
}
