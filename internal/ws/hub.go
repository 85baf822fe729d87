package ws

import (
	"encoding/json"
	"log"
	"sort"
	"sync"

	"realtime-chat/internal/models"
	"realtime-chat/internal/observability"
)

// Hub is the routing core: it owns the connection registry, the channel
// membership, and the event fan-out. One Hub per process; construct with
// NewHub and release everything with Shutdown.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[Channel]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[Channel]map[*Client]struct{}),
	}
}

// Register adds a connection to the registry. If the client carries a user id
// from the handshake it joins that personal channel immediately. Registering
// an already-registered client is a no-op. The updated presence set is
// broadcast to everyone.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		h.mu.Unlock()
		return
	}
	h.clients[c] = struct{}{}
	if c.info.UserID != "" {
		h.bindPersonal(c, c.info.UserID)
	}
	h.mu.Unlock()

	h.broadcastPresence()
}

// Unregister removes the connection from the registry and from every channel
// it was subscribed to, then broadcasts the updated presence set. Unknown
// handles are a no-op: disconnect races are expected.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	h.dropLocked(c)
	h.mu.Unlock()

	h.broadcastPresence()
}

// JoinPersonal subscribes the connection to the personal channel for userID,
// leaving any previously bound personal channel. Idempotent; supports
// reconnection and late identification via the join frame.
func (h *Hub) JoinPersonal(c *Client, userID string) {
	if userID == "" {
		return
	}
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	if c.userID == userID {
		h.mu.Unlock()
		return
	}
	h.bindPersonal(c, userID)
	h.mu.Unlock()

	h.broadcastPresence()
}

// JoinGroup subscribes the connection to a group channel. No persisted
// membership check happens here; controllers authorize before the client is
// told to join.
func (h *Hub) JoinGroup(c *Client, groupID string) {
	if groupID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.joinLocked(c, Group(groupID))
}

// LeaveGroup drops the connection's group channel subscription. Idempotent.
func (h *Hub) LeaveGroup(c *Client, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, Group(groupID))
}

// Channels returns the connection's current subscriptions.
func (h *Hub) Channels(c *Client) []Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Channel, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

// OnlineUsers returns the sorted set of user ids with at least one live
// identified connection.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onlineUsersLocked()
}

// Shutdown closes every live connection and empties the registry.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
	h.clients = make(map[*Client]struct{})
	h.rooms = make(map[Channel]map[*Client]struct{})
}

// BroadcastNewMessage routes message.created: group messages to the group
// channel only, direct messages to both participants' personal channels.
func (h *Hub) BroadcastNewMessage(msg models.Message) {
	if msg.IsGroupMessage() {
		h.emit([]Channel{Group(*msg.ChatID)}, models.EventNewMessage, msg)
		return
	}
	targets := []Channel{Personal(msg.SenderID)}
	if msg.ReceiverID != nil {
		targets = append(targets, Personal(*msg.ReceiverID))
	}
	h.emit(targets, models.EventNewMessage, msg)
}

// BroadcastMessageDeleted routes message.deleted: the group channel for group
// messages, both personal channels for direct ones.
func (h *Hub) BroadcastMessageDeleted(msg models.Message) {
	payload := models.MessageDeletedPayload{MessageID: msg.ID}
	if msg.IsGroupMessage() {
		h.emit([]Channel{Group(*msg.ChatID)}, models.EventMessageDel, payload)
		return
	}
	targets := []Channel{Personal(msg.SenderID)}
	if msg.ReceiverID != nil {
		targets = append(targets, Personal(*msg.ReceiverID))
	}
	h.emit(targets, models.EventMessageDel, payload)
}

// BroadcastGroupDeleted notifies every former member's personal channel, so
// delivery does not depend on who had the group open.
func (h *Hub) BroadcastGroupDeleted(groupID string, memberIDs []string) {
	targets := make([]Channel, 0, len(memberIDs))
	for _, id := range memberIDs {
		targets = append(targets, Personal(id))
	}
	h.emit(targets, models.EventGroupDel, models.GroupDeletedPayload{GroupID: groupID})
}

// BroadcastGroupUpdated pushes the refreshed group document to members'
// personal channels after a membership change.
func (h *Hub) BroadcastGroupUpdated(group models.Group, memberIDs []string) {
	targets := make([]Channel, 0, len(memberIDs))
	for _, id := range memberIDs {
		targets = append(targets, Personal(id))
	}
	h.emit(targets, models.EventGroupUpd, group)
}

// BroadcastChatDeleted notifies both participants of a wiped direct history.
// Each side receives the other's user id as the payload.
func (h *Hub) BroadcastChatDeleted(userID string, peerID string) {
	h.emit([]Channel{Personal(userID)}, models.EventChatDel, models.ChatDeletedPayload{UserID: peerID})
	if peerID != userID {
		h.emit([]Channel{Personal(peerID)}, models.EventChatDel, models.ChatDeletedPayload{UserID: userID})
	}
}

// emit dispatches one event to every connection subscribed to any of the
// target channels, exactly once per connection. Writes are fire-and-forget:
// a failed write closes and unregisters that connection only.
func (h *Hub) emit(targets []Channel, event string, data any) {
	payload, err := json.Marshal(models.Event{Event: event, Data: data})
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}

	h.mu.RLock()
	seen := make(map[*Client]struct{})
	recipients := make([]*Client, 0)
	for _, target := range targets {
		for c := range h.rooms[target] {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			recipients = append(recipients, c)
		}
	}
	h.mu.RUnlock()

	var failed []*Client
	for _, c := range recipients {
		if err := c.write(payload); err != nil {
			log.Printf("websocket write error: %v", err)
			failed = append(failed, c)
		}
	}
	observability.IncBroadcast(event, len(recipients))

	for _, c := range failed {
		c.conn.Close()
		h.Unregister(c)
	}
}

func (h *Hub) broadcastPresence() {
	h.mu.RLock()
	users := h.onlineUsersLocked()
	recipients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()

	payload, err := json.Marshal(models.Event{Event: models.EventOnlineUsers, Data: users})
	if err != nil {
		return
	}

	var failed []*Client
	for _, c := range recipients {
		if err := c.write(payload); err != nil {
			log.Printf("websocket write error: %v", err)
			failed = append(failed, c)
		}
	}
	observability.IncBroadcast(models.EventOnlineUsers, len(recipients))

	for _, c := range failed {
		c.conn.Close()
		h.Unregister(c)
	}
}

// bindPersonal rebinds the client's identity. Caller holds the write lock.
func (h *Hub) bindPersonal(c *Client, userID string) {
	if c.userID != "" {
		h.leaveLocked(c, Personal(c.userID))
	}
	c.userID = userID
	c.info.UserID = userID
	h.joinLocked(c, Personal(userID))
}

func (h *Hub) joinLocked(c *Client, ch Channel) {
	if _, ok := h.rooms[ch]; !ok {
		h.rooms[ch] = make(map[*Client]struct{})
	}
	h.rooms[ch][c] = struct{}{}
	c.channels[ch] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, ch Channel) {
	if conns, ok := h.rooms[ch]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, ch)
		}
	}
	delete(c.channels, ch)
}

// dropLocked releases all memberships and removes the client. Caller holds
// the write lock.
func (h *Hub) dropLocked(c *Client) {
	for ch := range c.channels {
		h.leaveLocked(c, ch)
	}
	c.userID = ""
	delete(h.clients, c)
}

func (h *Hub) onlineUsersLocked() []string {
	users := make([]string, 0)
	for ch, conns := range h.rooms {
		if ch.Kind == ChannelPersonal && len(conns) > 0 {
			users = append(users, ch.ID)
		}
	}
	sort.Strings(users)
	return users
}
