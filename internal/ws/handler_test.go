package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ephemeral-chat/internal/middleware"
	"ephemeral-chat/internal/mocks"
	"ephemeral-chat/internal/models"
)

type wsFixture struct {
	server    *httptest.Server
	registry  *Registry
	chats     *mocks.ChatServiceMock
	notifier  *mocks.NotifierMock
	validator *middleware.JWTValidator
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &wsFixture{
		registry:  NewRegistry(),
		chats:     &mocks.ChatServiceMock{},
		notifier:  &mocks.NotifierMock{},
		validator: middleware.NewJWTValidator("test-secret"),
	}
	protocol := NewProtocol(f.registry, NewLocalFanout(f.registry), f.chats, f.notifier, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	router := gin.New()
	router.GET("/ws", NewHandler(ctx, f.validator, protocol, zap.NewNop()).Handle)
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func (f *wsFixture) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	token, err := f.validator.Issue(userID, time.Hour)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(models.ChatEvent{Event: event, Data: data}))
}

func readEvent(t *testing.T, conn *websocket.Conn) inboundFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f inboundFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// roundTrip waits until every frame written before it has been handled.
func roundTrip(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeEvent(t, conn, models.EventPing, nil)
	require.Equal(t, models.EventPong, readEvent(t, conn).Event)
}

func TestHandshakeRequiresToken(t *testing.T) {
	f := newWSFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionEndToEnd(t *testing.T) {
	f := newWSFixture(t)
	chat := models.Chat{ID: 10, Type: models.ChatPrivate, Members: []int64{1, 2}}
	f.chats.On("JoinableChat", mock.Anything, int64(10), mock.Anything).Return(chat, nil)
	f.chats.On("PostMessage", mock.Anything, mock.Anything).Return(chat, models.PopulatedMessage{
		ID:          77,
		Chat:        models.ChatRef{ID: 10, Type: models.ChatPrivate},
		Sender:      models.UserRef{ID: 1, Name: "Ana"},
		Message:     strPtr("hey"),
		ContentType: models.ContentText,
	}, nil)
	f.notifier.On("NotifyOthers", mock.Anything, int64(1), mock.Anything).Return(true).Maybe()

	alice := f.dial(t, 1)
	bob := f.dial(t, 2)

	writeEvent(t, alice, models.EventJoin, roomPayload{ChatID: 10})
	started := readEvent(t, alice)
	assert.Equal(t, models.EventChatStarted, started.Event)
	writeEvent(t, bob, models.EventJoin, roomPayload{ChatID: 10})
	roundTrip(t, bob)

	writeEvent(t, alice, models.EventSendMessage, SendPayload{
		ChatID: 10, SenderID: 1, Message: strPtr("hey"), ContentType: models.ContentText,
	})

	echo := readEvent(t, alice)
	assert.Equal(t, models.EventReceiveMessage, echo.Event)
	delivered := readEvent(t, bob)
	require.Equal(t, models.EventReceiveMessage, delivered.Event)
	var msg models.PopulatedMessage
	require.NoError(t, json.Unmarshal(delivered.Data, &msg))
	assert.Equal(t, int64(77), msg.ID)

	// nothing but the pong follows the single echo
	roundTrip(t, alice)

	require.NoError(t, alice.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return f.registry.Size(10) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSessionSendDropsWhenBufferFull(t *testing.T) {
	s := &Session{id: "s", send: make(chan []byte, 1), done: make(chan struct{})}

	assert.True(t, s.Send([]byte("1")))
	assert.False(t, s.Send([]byte("2")))
	assert.Equal(t, "send buffer full", s.reason)
	assert.False(t, s.Send([]byte("3")), "closed sessions accept nothing")
}
