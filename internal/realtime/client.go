package realtime

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"campusflow/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Inbound frame types.
const (
	FrameJoin  = "join"
	FrameLeave = "leave"
	FramePing  = "ping"
	FramePong  = "pong"
)

var clientSeq atomic.Uint64

// inbound is a client-to-server frame.
type inbound struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

// Client is one authenticated websocket connection.
type Client struct {
	id        string
	seq       uint64
	UserID    string
	Role      string
	CollegeID string

	hub   *Hub
	conn  *websocket.Conn
	rooms map[string]struct{}

	mu     sync.Mutex
	send   chan Frame
	closed bool
}

// NewClient wraps a connection. conn may be nil for in-process subscribers.
func NewClient(hub *Hub, conn *websocket.Conn, userID, role, collegeID string) *Client {
	return &Client{
		id:        uuid.NewString(),
		seq:       clientSeq.Add(1),
		UserID:    userID,
		Role:      role,
		CollegeID: collegeID,
		hub:       hub,
		conn:      conn,
		rooms:     make(map[string]struct{}),
		send:      make(chan Frame, sendBuffer),
	}
}

// ID is the socket id recorded in the registry.
func (c *Client) ID() string { return c.id }

// Frames exposes queued frames to in-process subscribers.
func (c *Client) Frames() <-chan Frame { return c.send }

func (c *Client) enqueue(f Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// handle applies a client frame.
func (c *Client) handle(msg inbound) {
	switch msg.Type {
	case FrameJoin, FrameLeave:
		if !Joinable(msg.Room) {
			logging.Debug().Str("socket_id", c.id).Str("room", msg.Room).Msg("ignoring request for non-joinable room")
			return
		}
		if msg.Type == FrameJoin {
			c.hub.Join(c, msg.Room)
		} else {
			c.hub.Leave(c, msg.Room)
		}
	case FramePing:
		c.enqueue(Frame{Event: FramePong})
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Detach(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Str("socket_id", c.id).Msg("unexpected websocket close error")
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Debug().Err(err).Str("socket_id", c.id).Msg("malformed client frame")
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				logging.Error().Err(err).Str("event", frame.Event).Msg("failed to encode frame")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Error().Err(err).Str("socket_id", c.id).Msg("failed to write frame")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Upgrader accepts websocket handshakes. Origin checks are left to the HTTP layer's CORS policy.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Serve upgrades the request and runs the client until the connection closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID, role, collegeID string) error {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := NewClient(h, conn, userID, role, collegeID)
	h.Attach(c)
	go c.writePump()
	go c.readPump()
	return nil
}
