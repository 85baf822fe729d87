package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wireConn is the subset of *websocket.Conn the hub writes to. Tests swap in
// a recording implementation.
type wireConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ConnInfo carries identity and handshake metadata for a connection, used
// when publishing lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Client is one live connection handle. A user may hold several (one per
// device); each is subscribed to its personal channel plus whatever group
// channels it explicitly joined.
type Client struct {
	conn wireConn
	info ConnInfo

	// guarded by the hub mutex
	userID   string
	channels map[Channel]struct{}

	// one socket can be targeted by several channels at once
	writeMu sync.Mutex
}

// NewClient wraps a websocket connection for hub registration.
func NewClient(conn *websocket.Conn, info ConnInfo) *Client {
	return newClient(conn, info)
}

func newClient(conn wireConn, info ConnInfo) *Client {
	return &Client{
		conn:     conn,
		info:     info,
		channels: make(map[Channel]struct{}),
	}
}

// Info returns the connection metadata captured at handshake time.
func (c *Client) Info() ConnInfo {
	return c.info
}

func (c *Client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}
