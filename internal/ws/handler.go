package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"ephemeral-chat/internal/middleware"
	"ephemeral-chat/internal/observability"
)

const lifecycleRoutingPrefix = "ws_events."

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades authenticated requests and runs a session per connection.
type Handler struct {
	base      context.Context
	validator middleware.TokenValidator
	protocol  *Protocol
	logger    *zap.Logger
}

// NewHandler builds the upgrade handler. Sessions end when base is cancelled.
func NewHandler(base context.Context, validator middleware.TokenValidator, protocol *Protocol, logger *zap.Logger) *Handler {
	return &Handler{base: base, validator: validator, protocol: protocol, logger: logger}
}

// Handle serves GET /ws. The request blocks until the connection is gone, and every room
// the connection joined is left before it returns.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("ephemeral-chat/ws").Start(c.Request.Context(), "ws.handshake")
	userID, err := h.validator.ValidateToken(ctx, middleware.BearerToken(c.Request))
	if err != nil {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		h.logger.Debug("websocket upgrade failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	span.End()

	session := NewSession(info.ConnID, userID, conn, h.logger)
	client := NewClient(session)

	observability.IncWSActive()
	h.lifecycle(info, "ws_connect", "")

	reason, abnormal := session.Run(h.base, func(ctx context.Context, frame []byte) {
		h.protocol.Handle(ctx, client, frame)
	})
	h.protocol.Disconnect(client)

	if abnormal {
		h.lifecycle(info, "ws_error", reason)
	}
	observability.DecWSActive()
	h.lifecycle(info, "ws_disconnect", reason)
}

func (h *Handler) lifecycle(info ConnInfo, event, reason string) {
	observability.IncWSEvent(event)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := observability.PublishEvent(ctx, lifecycleRoutingPrefix+event, info.event(event, reason).Envelope(), info.headers()); err != nil {
		h.logger.Debug("lifecycle event not published", zap.String("event", event), zap.Error(err))
	}
}
