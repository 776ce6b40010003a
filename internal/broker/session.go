package broker

import (
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
)

// Conn is the part of *websocket.Conn a Session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	RemoteAddr() net.Addr
	Close() error
}

// Session is the server side of one client connection.
//
// Everything except conn and send is owned by the broker goroutine.
type Session struct {
	id   string
	conn Conn

	// send is the outbound queue drained by WritePump. Only the broker closes it.
	send chan []byte

	userID          string
	userInfo        json.RawMessage
	joined          bool
	closed          bool
	lastHeartbeatAt time.Time
}

func newSession(conn Conn, queue int) *Session {
	return &Session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, queue),
	}
}

// ID returns the process-unique session id.
func (s *Session) ID() string { return s.id }

// enqueue hands data to the write pump without blocking.
func (s *Session) enqueue(data []byte) bool {
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// readPump pumps frames from the connection to the broker. It returns when
// the connection fails, after which the broker is told of the disconnect.
func (s *Session) readPump(b *Broker, opts Options) {
	defer func() {
		_ = b.submit(event{kind: eventDisconnect, session: s})
		s.conn.Close()
	}()

	s.conn.SetReadLimit(opts.ReadLimit)
	s.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.logger.Warn("session read failed", "session", s.id, "error", err)
			}
			return
		}
		if err := b.submit(event{kind: eventMessage, session: s, data: data}); err != nil {
			return
		}
	}
}

// writePump pumps queued frames to the connection and keeps it alive with pings.
func (s *Session) writePump(logger *slog.Logger, opts Options) {
	ticker := time.NewTicker(opts.pingPeriod())
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("session write failed", "session", s.id, "error", err)
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
