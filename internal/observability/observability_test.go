package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	keys []string
	err  error
}

func (r *recordingPublisher) Publish(_ context.Context, routingKey string, _ any, _ map[string]string) error {
	r.keys = append(r.keys, routingKey)
	return r.err
}

func TestPublishEventWithoutPublisher(t *testing.T) {
	SetPublisher(nil)
	assert.NoError(t, PublishEvent(context.Background(), "ws_events.connect", nil, nil))
}

func TestPublishEventForwards(t *testing.T) {
	rec := &recordingPublisher{}
	SetPublisher(rec)
	defer SetPublisher(nil)

	require.NoError(t, PublishEvent(context.Background(), "ws_events.connect", EventEnvelope{}, nil))
	assert.Equal(t, []string{"ws_events.connect"}, rec.keys)

	rec.err = errors.New("broker down")
	assert.Error(t, PublishEvent(context.Background(), "ws_events.error", EventEnvelope{}, nil))
}

func TestWSEventEnvelope(t *testing.T) {
	env := WSEvent{Event: "ws_connect", ConnID: "c1", UserID: 7, ChatID: 3, ConnectedAt: time.Now()}.Envelope()

	assert.Equal(t, "ws_events", env.EventType)
	assert.Equal(t, "ws_connect", env.EventName)
	payload := env.Payload.(map[string]any)
	ws := payload["ws"].(map[string]any)
	assert.Equal(t, int64(3), ws["chat_id"])
	assert.Equal(t, "c1", ws["conn_id"])
}

func TestBuildHeaders(t *testing.T) {
	assert.Empty(t, BuildHeaders("", ""))
	assert.Equal(t, map[string]string{"x-request-id": "r", "trace_id": "t"}, BuildHeaders("r", "t"))
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	assert.Equal(t, "10.0.0.1", IPFromRequest(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:4321"
	assert.Equal(t, "192.168.1.5", IPFromRequest(req))
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, RequestIDFromRequest(c.Request))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get("X-Request-Id"))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "given")
	router.ServeHTTP(w, req)
	assert.Equal(t, "given", w.Body.String())
}

func TestSplitFullMethod(t *testing.T) {
	service, method := splitFullMethod("/grpc.health.v1.Health/Check")
	assert.Equal(t, "grpc.health.v1.Health", service)
	assert.Equal(t, "Check", method)

	service, method = splitFullMethod("bad")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "unknown", method)
}
