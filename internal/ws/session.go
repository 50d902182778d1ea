package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1 << 20
	sendBufferSize = 256

	reasonShutdown = "server shutdown"
)

// Session owns one websocket connection. Writes happen on a single goroutine fed by a
// bounded buffer; a peer that cannot keep up is disconnected.
type Session struct {
	id     string
	userID int64
	conn   *websocket.Conn
	logger *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	reason    string
}

func NewSession(id string, userID int64, conn *websocket.Conn, logger *zap.Logger) *Session {
	return &Session{
		id:     id,
		userID: userID,
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) UserID() int64 { return s.userID }

// Send queues a frame. It never blocks; a full buffer closes the session.
func (s *Session) Send(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		s.close("send buffer full")
		return false
	}
}

func (s *Session) close(reason string) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.done)
	})
}

// Run pumps frames until the peer goes away or ctx ends. Every inbound frame is passed to
// handle. Run returns the close reason and whether it was abnormal.
func (s *Session) Run(ctx context.Context, handle func(ctx context.Context, frame []byte)) (string, bool) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump()
	}()
	go func() {
		select {
		case <-ctx.Done():
			s.close(reasonShutdown)
		case <-s.done:
		}
	}()

	abnormal := s.readPump(ctx, handle)
	<-writerDone
	_ = s.conn.Close()
	return s.reason, abnormal
}

func (s *Session) readPump(ctx context.Context, handle func(ctx context.Context, frame []byte)) bool {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// closed locally; the read error is a consequence
				return s.reason != reasonShutdown
			default:
			}
			s.close(err.Error())
			return !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
		}
		handle(ctx, frame)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("websocket write failed", zap.String("conn_id", s.id), zap.Error(err))
				s.close("write failed")
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close("ping failed")
				_ = s.conn.Close()
				return
			}
		case <-s.done:
			s.flush()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			// unblock the reader
			_ = s.conn.Close()
			return
		}
	}
}

// flush writes frames that were queued before the close.
func (s *Session) flush() {
	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
