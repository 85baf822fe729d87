// Package client provides a Go websocket client for the chat service. It
// keeps the set of joined group channels in step with the conversation the
// caller currently has open: navigating away leaves the old group channel,
// navigating in joins the new one, and server-side deletions clear the
// selection.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"realtime-chat/internal/models"
)

// ErrGroupGone is returned when the caller tries to reopen a group the
// server has reported deleted during this session.
var ErrGroupGone = errors.New("group has been deleted")

// Event is one server frame; Data stays raw for the caller to decode.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Selection is the currently open conversation. At most one of GroupID and
// PeerID is set.
type Selection struct {
	GroupID string
	PeerID  string
}

// Client is a live connection plus the subscription reconciler.
type Client struct {
	conn   *websocket.Conn
	send   func(event string, data any) error
	events chan Event

	mu         sync.Mutex
	selected   Selection
	deadGroups map[string]struct{}
}

// Dial connects to the service's /ws endpoint. userID joins the personal
// channel from the handshake; token, when non-empty, authenticates it.
// Incoming events are surfaced on Events after the reconciler has applied
// them.
func Dial(ctx context.Context, baseURL, userID, token string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	if userID != "" {
		q.Set("userId", userID)
	}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := newClient()
	c.conn = conn
	c.send = func(event string, data any) error {
		return conn.WriteJSON(models.Event{Event: event, Data: data})
	}
	go c.readLoop()
	return c, nil
}

func newClient() *Client {
	return &Client{
		events:     make(chan Event, 32),
		deadGroups: make(map[string]struct{}),
	}
}

// Events returns the stream of server events. The channel closes when the
// connection does.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Join binds this connection to a user's personal channel, for late
// identification or after a reconnect.
func (c *Client) Join(userID string) error {
	return c.send(models.EventJoin, userID)
}

// OpenGroup makes groupID the open conversation: the previously open group
// channel is left and the new one joined as part of the same navigation.
func (c *Client) OpenGroup(groupID string) error {
	c.mu.Lock()
	if _, gone := c.deadGroups[groupID]; gone {
		c.mu.Unlock()
		return ErrGroupGone
	}
	previous := c.selected.GroupID
	c.selected = Selection{GroupID: groupID}
	c.mu.Unlock()

	if previous != "" && previous != groupID {
		if err := c.send(models.EventLeaveGroup, previous); err != nil {
			return err
		}
	}
	return c.send(models.EventJoinGroup, groupID)
}

// OpenDirect makes the direct conversation with peerID the open one, leaving
// any open group channel.
func (c *Client) OpenDirect(peerID string) error {
	c.mu.Lock()
	previous := c.selected.GroupID
	c.selected = Selection{PeerID: peerID}
	c.mu.Unlock()

	if previous != "" {
		return c.send(models.EventLeaveGroup, previous)
	}
	return nil
}

// CloseConversation clears the selection, leaving any open group channel.
func (c *Client) CloseConversation() error {
	c.mu.Lock()
	previous := c.selected.GroupID
	c.selected = Selection{}
	c.mu.Unlock()

	if previous != "" {
		return c.send(models.EventLeaveGroup, previous)
	}
	return nil
}

// Selected returns the currently open conversation.
func (c *Client) Selected() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Close tears down the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			continue
		}
		c.apply(event)
		select {
		case c.events <- event:
		default:
			// slow consumer, event dropped; state is already applied
		}
	}
}

// apply reconciles local selection state with server-side deletions before
// the event is handed to the caller.
func (c *Client) apply(event Event) {
	switch event.Event {
	case models.EventGroupDel:
		var payload models.GroupDeletedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return
		}
		c.mu.Lock()
		c.deadGroups[payload.GroupID] = struct{}{}
		if c.selected.GroupID == payload.GroupID {
			c.selected = Selection{}
		}
		c.mu.Unlock()
	case models.EventChatDel:
		var payload models.ChatDeletedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return
		}
		c.mu.Lock()
		if c.selected.PeerID == payload.UserID {
			c.selected = Selection{}
		}
		c.mu.Unlock()
	}
}
