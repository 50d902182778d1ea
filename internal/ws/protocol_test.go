package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ephemeral-chat/internal/apperr"
	"ephemeral-chat/internal/cache"
	"ephemeral-chat/internal/mocks"
	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/services"
)

type protocolFixture struct {
	registry *Registry
	fanout   *LocalFanout
	chats    *mocks.ChatServiceMock
	notifier *mocks.NotifierMock
	protocol *Protocol
}

func newProtocolFixture() *protocolFixture {
	registry := NewRegistry()
	chats := &mocks.ChatServiceMock{}
	notifier := &mocks.NotifierMock{}
	fanout := NewLocalFanout(registry)
	return &protocolFixture{
		registry: registry,
		fanout:   fanout,
		chats:    chats,
		notifier: notifier,
		protocol: NewProtocol(registry, fanout, chats, notifier, zap.NewNop()),
	}
}

func rawFrame(t *testing.T, event string, data any) []byte {
	t.Helper()
	b, err := json.Marshal(models.ChatEvent{Event: event, Data: data})
	require.NoError(t, err)
	return b
}

func framesOf(t *testing.T, p *fakePeer, event string) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	for _, raw := range p.received() {
		var f inboundFrame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Event == event {
			out = append(out, f.Data)
		}
	}
	return out
}

func lastError(t *testing.T, p *fakePeer) models.ErrorPayload {
	t.Helper()
	errs := framesOf(t, p, models.EventError)
	require.NotEmpty(t, errs)
	var payload models.ErrorPayload
	require.NoError(t, json.Unmarshal(errs[len(errs)-1], &payload))
	return payload
}

func strPtr(s string) *string { return &s }

func groupChat() models.Chat {
	return models.Chat{ID: 10, Type: models.ChatGroup, Name: "crew", Members: []int64{1, 2, 3}}
}

func TestJoinEmitsChatStartedOnce(t *testing.T) {
	f := newProtocolFixture()
	a := NewClient(newFakePeer("a", 1))
	b := NewClient(newFakePeer("b", 2))
	f.chats.On("JoinableChat", mock.Anything, int64(10), mock.Anything).Return(groupChat(), nil)

	require.NoError(t, f.protocol.Join(context.Background(), a, 10))
	require.NoError(t, f.protocol.Join(context.Background(), a, 10))
	require.NoError(t, f.protocol.Join(context.Background(), b, 10))

	started := framesOf(t, a.Peer.(*fakePeer), models.EventChatStarted)
	require.Len(t, started, 1)
	assert.JSONEq(t, `{"chat_room":10}`, string(started[0]))
	assert.Empty(t, framesOf(t, b.Peer.(*fakePeer), models.EventChatStarted))
	assert.Equal(t, 2, f.registry.Size(10))
	assert.Equal(t, []int64{10}, a.Rooms())
}

type recordingFanout struct {
	mu     sync.Mutex
	frames []string
}

func (r *recordingFanout) Publish(_ context.Context, _ int64, frame []byte, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, string(frame))
	return nil
}

func (r *recordingFanout) Evict(context.Context, int64, int64) error { return nil }

func TestChatStartedStaysInProcess(t *testing.T) {
	registry := NewRegistry()
	fanout := &recordingFanout{}
	chats := &mocks.ChatServiceMock{}
	p := NewProtocol(registry, fanout, chats, &mocks.NotifierMock{}, zap.NewNop())
	peer := newFakePeer("a", 1)
	chats.On("JoinableChat", mock.Anything, int64(10), int64(1)).Return(groupChat(), nil)

	require.NoError(t, p.Join(context.Background(), NewClient(peer), 10))

	assert.Len(t, framesOf(t, peer, models.EventChatStarted), 1)
	assert.Empty(t, fanout.frames)
}

func TestJoinRejectsNonMember(t *testing.T) {
	f := newProtocolFixture()
	peer := newFakePeer("a", 9)
	client := NewClient(peer)
	f.chats.On("JoinableChat", mock.Anything, int64(10), int64(9)).Return(nil, apperr.Forbidden("not a member of this chat"))

	f.protocol.Handle(context.Background(), client, rawFrame(t, models.EventJoin, roomPayload{ChatID: 10}))

	assert.Equal(t, 0, f.registry.Size(10))
	errPayload := lastError(t, peer)
	assert.Equal(t, string(apperr.CodeForbidden), errPayload.Code)
	assert.False(t, errPayload.Retryable)
}

// Scenario D: the sender sees its own message exactly once, every other member once.
func TestSendEchoesExactlyOnce(t *testing.T) {
	f := newProtocolFixture()
	peerA, peerB := newFakePeer("a", 1), newFakePeer("b", 2)
	a, b := NewClient(peerA), NewClient(peerB)
	chat := groupChat()
	f.chats.On("JoinableChat", mock.Anything, int64(10), mock.Anything).Return(chat, nil)
	require.NoError(t, f.protocol.Join(context.Background(), a, 10))
	require.NoError(t, f.protocol.Join(context.Background(), b, 10))

	msg := models.PopulatedMessage{
		ID:          100,
		Chat:        models.ChatRef{ID: 10, Type: models.ChatGroup, Name: "crew"},
		Sender:      models.UserRef{ID: 1, Name: "Ana"},
		Message:     strPtr("hello"),
		ContentType: models.ContentText,
	}
	f.chats.On("PostMessage", mock.Anything, mock.MatchedBy(func(in models.NewMessage) bool {
		return in.ChatID == 10 && in.SenderID == 1 && *in.Body == "hello"
	})).Return(chat, msg, nil).Once()
	f.notifier.On("NotifyOthers", chat, int64(1), "Ana @ crew: hello").Return(true).Once()

	f.protocol.Handle(context.Background(), a, rawFrame(t, models.EventSendMessage, SendPayload{
		ChatID: 10, SenderID: 1, Message: strPtr("hello"), ContentType: models.ContentText,
	}))

	require.Len(t, framesOf(t, peerA, models.EventReceiveMessage), 1)
	received := framesOf(t, peerB, models.EventReceiveMessage)
	require.Len(t, received, 1)
	var got models.PopulatedMessage
	require.NoError(t, json.Unmarshal(received[0], &got))
	assert.Equal(t, int64(100), got.ID)
	assert.Equal(t, "Ana", got.Sender.Name)
	assert.Empty(t, framesOf(t, peerA, models.EventError))
	f.chats.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestSendPersistFailureBroadcastsNothing(t *testing.T) {
	f := newProtocolFixture()
	peerA, peerB := newFakePeer("a", 1), newFakePeer("b", 2)
	a, b := NewClient(peerA), NewClient(peerB)
	f.chats.On("JoinableChat", mock.Anything, int64(10), mock.Anything).Return(groupChat(), nil)
	require.NoError(t, f.protocol.Join(context.Background(), a, 10))
	require.NoError(t, f.protocol.Join(context.Background(), b, 10))
	f.chats.On("PostMessage", mock.Anything, mock.Anything).
		Return(nil, nil, apperr.TransientStore("store message timed out, please retry", context.DeadlineExceeded))

	err := f.protocol.Send(context.Background(), a, SendPayload{
		ChatID: 10, SenderID: 1, Message: strPtr("hello"), ContentType: models.ContentText,
	})
	require.Error(t, err)
	f.protocol.sendError(a, err)

	assert.Empty(t, framesOf(t, peerA, models.EventReceiveMessage))
	assert.Empty(t, framesOf(t, peerB, models.EventReceiveMessage))
	assert.Empty(t, framesOf(t, peerB, models.EventError), "errors only reach the origin")
	errPayload := lastError(t, peerA)
	assert.Equal(t, string(apperr.CodeTransientStore), errPayload.Code)
	assert.True(t, errPayload.Retryable)
	f.notifier.AssertNotCalled(t, "NotifyOthers", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendRejectsImpersonation(t *testing.T) {
	f := newProtocolFixture()
	peer := newFakePeer("a", 1)

	f.protocol.Handle(context.Background(), NewClient(peer), rawFrame(t, models.EventSendMessage, SendPayload{
		ChatID: 10, SenderID: 2, Message: strPtr("hi"), ContentType: models.ContentText,
	}))

	assert.Equal(t, string(apperr.CodeForbidden), lastError(t, peer).Code)
	f.chats.AssertNotCalled(t, "PostMessage", mock.Anything, mock.Anything)
}

func TestSendValidatesPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload SendPayload
	}{
		{"missing chat", SendPayload{SenderID: 1, Message: strPtr("hi"), ContentType: models.ContentText}},
		{"body and media", SendPayload{ChatID: 10, SenderID: 1, Message: strPtr("hi"), Media: &models.MediaRef{URL: "u"}, ContentType: models.ContentText}},
		{"blank body and media", SendPayload{ChatID: 10, SenderID: 1, Message: strPtr("   "), Media: &models.MediaRef{URL: "u"}, ContentType: models.ContentImage}},
		{"body and empty media", SendPayload{ChatID: 10, SenderID: 1, Message: strPtr("hi"), Media: &models.MediaRef{}, ContentType: models.ContentText}},
		{"neither", SendPayload{ChatID: 10, SenderID: 1, ContentType: models.ContentText}},
		{"type mismatch", SendPayload{ChatID: 10, SenderID: 1, Media: &models.MediaRef{URL: "u"}, ContentType: models.ContentText}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProtocolFixture()
			err := f.protocol.Send(context.Background(), NewClient(newFakePeer("a", 1)), tt.payload)
			assert.True(t, apperr.Is(err, apperr.CodeValidation), "got %v", err)
			f.chats.AssertNotCalled(t, "PostMessage", mock.Anything, mock.Anything)
		})
	}
}

func TestSendJoinsSenderThatSkippedJoin(t *testing.T) {
	f := newProtocolFixture()
	peerA, peerB := newFakePeer("a", 1), newFakePeer("b", 2)
	a, b := NewClient(peerA), NewClient(peerB)
	chat := groupChat()
	f.chats.On("JoinableChat", mock.Anything, int64(10), int64(2)).Return(chat, nil)
	require.NoError(t, f.protocol.Join(context.Background(), b, 10))

	msg := models.PopulatedMessage{ID: 5, Chat: models.ChatRef{ID: 10, Type: models.ChatGroup}, Sender: models.UserRef{ID: 1}, ContentType: models.ContentImage, Media: models.NullMediaRef{MediaRef: &models.MediaRef{URL: "u"}}}
	f.chats.On("PostMessage", mock.Anything, mock.Anything).Return(chat, msg, nil)
	f.notifier.On("NotifyOthers", chat, int64(1), "New message sent a photo").Return(true)

	require.NoError(t, f.protocol.Send(context.Background(), a, SendPayload{
		ChatID: 10, SenderID: 1, Media: &models.MediaRef{URL: "u"}, ContentType: models.ContentImage,
	}))

	assert.True(t, f.registry.Contains(10, a))
	assert.Equal(t, []int64{10}, a.Rooms())
	assert.Len(t, framesOf(t, peerA, models.EventReceiveMessage), 1)
	assert.Len(t, framesOf(t, peerB, models.EventReceiveMessage), 1)
}

func TestDisconnectLeavesEveryRoom(t *testing.T) {
	f := newProtocolFixture()
	a := NewClient(newFakePeer("a", 1))
	f.chats.On("JoinableChat", mock.Anything, mock.Anything, int64(1)).Return(groupChat(), nil)
	for _, id := range []int64{3, 4, 5} {
		require.NoError(t, f.protocol.Join(context.Background(), a, id))
	}

	f.protocol.Disconnect(a)

	for _, id := range []int64{3, 4, 5} {
		assert.Equal(t, 0, f.registry.Size(id))
	}
	assert.Empty(t, a.Rooms())
}

func TestHandleLeaveAndPing(t *testing.T) {
	f := newProtocolFixture()
	peer := newFakePeer("a", 1)
	a := NewClient(peer)
	f.chats.On("JoinableChat", mock.Anything, int64(10), int64(1)).Return(groupChat(), nil)

	f.protocol.Handle(context.Background(), a, rawFrame(t, models.EventJoin, roomPayload{ChatID: 10}))
	f.protocol.Handle(context.Background(), a, rawFrame(t, models.EventLeave, roomPayload{ChatID: 10}))
	f.protocol.Handle(context.Background(), a, rawFrame(t, models.EventPing, nil))

	assert.Equal(t, 0, f.registry.Size(10))
	assert.Len(t, framesOf(t, peer, models.EventPong), 1)
}

func TestHandleRejectsBadFrames(t *testing.T) {
	f := newProtocolFixture()
	peer := newFakePeer("a", 1)
	a := NewClient(peer)

	f.protocol.Handle(context.Background(), a, []byte("not json"))
	f.protocol.Handle(context.Background(), a, rawFrame(t, "shout", nil))
	f.protocol.Handle(context.Background(), a, rawFrame(t, models.EventJoin, nil))

	errs := framesOf(t, peer, models.EventError)
	require.Len(t, errs, 3)
	for _, raw := range errs {
		var payload models.ErrorPayload
		require.NoError(t, json.Unmarshal(raw, &payload))
		assert.Equal(t, string(apperr.CodeValidation), payload.Code)
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	f := newProtocolFixture()
	peer := newFakePeer("a", 1)

	f.protocol.sendError(NewClient(peer), errors.New("pq: connection refused to 10.0.0.3"))

	payload := lastError(t, peer)
	assert.Equal(t, "internal error", payload.Message)
	assert.Equal(t, string(apperr.CodeInternal), payload.Code)
}

func TestPushText(t *testing.T) {
	assert.Equal(t, "Ana: hi", pushText(models.PopulatedMessage{Sender: models.UserRef{Name: "Ana"}, Message: strPtr("hi"), Chat: models.ChatRef{Type: models.ChatPrivate}}))
	assert.Equal(t, "Ana @ crew sent a video", pushText(models.PopulatedMessage{Sender: models.UserRef{Name: "Ana"}, ContentType: models.ContentVideo, Chat: models.ChatRef{Type: models.ChatGroup, Name: "crew"}}))
}

func TestRemovedMemberStopsReceiving(t *testing.T) {
	f := newProtocolFixture()
	peerA, peerB, peerC := newFakePeer("a", 1), newFakePeer("b", 2), newFakePeer("c", 3)
	a, b, c := NewClient(peerA), NewClient(peerB), NewClient(peerC)
	f.chats.On("JoinableChat", mock.Anything, int64(10), mock.Anything).Return(groupChat(), nil)
	for _, client := range []*Client{a, b, c} {
		require.NoError(t, f.protocol.Join(context.Background(), client, 10))
	}

	repo := new(mocks.ChatRepositoryMock)
	repo.On("GetChat", mock.Anything, int64(10)).Return(models.Chat{ID: 10, Type: models.ChatGroup, Name: "crew", CreatedBy: 1, Members: []int64{1, 2, 3}}, nil)
	repo.On("RemoveMember", mock.Anything, int64(10), int64(2)).Return(true, nil)
	svc := services.NewChatService(repo, new(mocks.MessageRepositoryMock), f.notifier, f.fanout, cache.NopCache{}, time.Minute, time.Second, zap.NewNop())
	require.NoError(t, svc.RemoveMember(context.Background(), 10, 1, 2))

	assert.False(t, f.registry.Contains(10, b))
	assert.Empty(t, b.Rooms())

	after := models.Chat{ID: 10, Type: models.ChatGroup, Name: "crew", Members: []int64{1, 3}}
	msg := models.PopulatedMessage{ID: 7, Chat: models.ChatRef{ID: 10, Type: models.ChatGroup, Name: "crew"}, Sender: models.UserRef{ID: 1, Name: "Ana"}, Message: strPtr("bye"), ContentType: models.ContentText}
	f.chats.On("PostMessage", mock.Anything, mock.Anything).Return(after, msg, nil).Once()
	f.notifier.On("NotifyOthers", after, int64(1), "Ana @ crew: bye").Return(true).Once()

	require.NoError(t, f.protocol.Send(context.Background(), a, SendPayload{
		ChatID: 10, SenderID: 1, Message: strPtr("bye"), ContentType: models.ContentText,
	}))

	assert.Empty(t, framesOf(t, peerB, models.EventReceiveMessage))
	assert.Len(t, framesOf(t, peerC, models.EventReceiveMessage), 1)
}

func TestDeliverReachesWholeRoom(t *testing.T) {
	f := newProtocolFixture()
	peerA, peerB := newFakePeer("a", 1), newFakePeer("b", 2)
	f.chats.On("JoinableChat", mock.Anything, int64(10), mock.Anything).Return(groupChat(), nil)
	require.NoError(t, f.protocol.Join(context.Background(), NewClient(peerA), 10))
	require.NoError(t, f.protocol.Join(context.Background(), NewClient(peerB), 10))

	chat := groupChat()
	msg := models.PopulatedMessage{ID: 8, Chat: models.ChatRef{ID: 10, Type: models.ChatGroup, Name: "crew"}, Sender: models.UserRef{ID: 1, Name: "Ana"}, Message: strPtr("all"), ContentType: models.ContentText}
	f.notifier.On("NotifyOthers", chat, int64(1), "Ana @ crew: all").Return(true).Once()

	f.protocol.Deliver(context.Background(), chat, msg)

	assert.Len(t, framesOf(t, peerA, models.EventReceiveMessage), 1)
	assert.Len(t, framesOf(t, peerB, models.EventReceiveMessage), 1)
	f.notifier.AssertExpectations(t)
}
