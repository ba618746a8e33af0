package publish

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeu5/traffic-rl-signal/intersection"
	"github.com/zeu5/traffic-rl-signal/logging"
)

const (
	streamBuffer = 16
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Stream pushes every published signal to the connected websocket clients.
// New clients first receive the last published signal. Clients that fall
// more than a few messages behind are disconnected.
type Stream struct {
	lock    *sync.Mutex
	clients map[*streamClient]struct{}
	last    *Message
	closed  bool
	logger  *slog.Logger
	now     func() time.Time
}

type streamClient struct {
	conn *websocket.Conn
	send chan Message
}

var _ Publisher = &Stream{}
var _ http.Handler = &Stream{}

func NewStream(logger *slog.Logger) *Stream {
	return &Stream{
		lock:    new(sync.Mutex),
		clients: make(map[*streamClient]struct{}),
		logger:  logging.OrDefault(logger),
		now:     time.Now,
	}
}

func (s *Stream) Publish(_ context.Context, sig intersection.Signal) error {
	m := NewMessage(sig, s.now())
	s.lock.Lock()
	defer s.lock.Unlock()
	s.last = &m
	for c := range s.clients {
		select {
		case c.send <- m:
		default:
			s.logger.Warn("dropping slow stream client", "remote", c.conn.RemoteAddr().String())
			s.remove(c)
		}
	}
	return nil
}

// remove must be called with the lock held
func (s *Stream) remove(c *streamClient) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade the websocket", "error", err)
		return
	}
	c := &streamClient{conn: conn, send: make(chan Message, streamBuffer)}

	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		conn.Close()
		return
	}
	if s.last != nil {
		c.send <- *s.last
	}
	s.clients[c] = struct{}{}
	s.lock.Unlock()

	go s.writeLoop(c)
	s.readLoop(c)
}

func (s *Stream) writeLoop(c *streamClient) {
	defer c.conn.Close()
	for m := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(m); err != nil {
			s.logger.Debug("stream write failed", "error", err)
			s.lock.Lock()
			s.remove(c)
			s.lock.Unlock()
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}

// readLoop only watches for the client going away.
func (s *Stream) readLoop(c *streamClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	s.lock.Lock()
	s.remove(c)
	s.lock.Unlock()
}

// Len returns the number of connected clients.
func (s *Stream) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.clients)
}

// Close disconnects every client and refuses new ones.
func (s *Stream) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
	for c := range s.clients {
		s.remove(c)
	}
}
