package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"realtime-chat/internal/models"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func (f *fakeConn) WriteMessage(_ int, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type recordedEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (f *fakeConn) events(t *testing.T) []recordedEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedEvent, 0, len(f.frames))
	for _, frame := range f.frames {
		var ev recordedEvent
		require.NoError(t, json.Unmarshal(frame, &ev))
		out = append(out, ev)
	}
	return out
}

func (f *fakeConn) count(t *testing.T, event string) int {
	t.Helper()
	n := 0
	for _, ev := range f.events(t) {
		if ev.Event == event {
			n++
		}
	}
	return n
}

func connect(hub *Hub, userID string) (*Client, *fakeConn) {
	conn := &fakeConn{}
	client := newClient(conn, ConnInfo{UserID: userID})
	hub.Register(client)
	return client, conn
}

func strptr(s string) *string { return &s }

func TestRegisterBroadcastsPresence(t *testing.T) {
	hub := NewHub()

	_, conn1 := connect(hub, "u1")
	_, conn2 := connect(hub, "u2")

	require.Equal(t, []string{"u1", "u2"}, hub.OnlineUsers())
	// first client saw both presence updates, second only the one after it
	// joined
	require.Equal(t, 2, conn1.count(t, models.EventOnlineUsers))
	require.Equal(t, 1, conn2.count(t, models.EventOnlineUsers))
}

func TestRegisterIsIdempotent(t *testing.T) {
	hub := NewHub()

	client, conn := connect(hub, "u1")
	hub.Register(client)

	require.Equal(t, []string{"u1"}, hub.OnlineUsers())
	require.Equal(t, 1, conn.count(t, models.EventOnlineUsers))
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	hub := NewHub()
	_, conn := connect(hub, "u1")

	stranger := newClient(&fakeConn{}, ConnInfo{UserID: "u2"})
	hub.Unregister(stranger)

	require.Equal(t, []string{"u1"}, hub.OnlineUsers())
	require.Equal(t, 1, conn.count(t, models.EventOnlineUsers))
}

func TestUnregisterDropsPresenceWithLastHandle(t *testing.T) {
	hub := NewHub()

	first, _ := connect(hub, "u1")
	second, _ := connect(hub, "u1")
	require.Equal(t, []string{"u1"}, hub.OnlineUsers())

	hub.Unregister(first)
	require.Equal(t, []string{"u1"}, hub.OnlineUsers())

	hub.Unregister(second)
	require.Empty(t, hub.OnlineUsers())
}

func TestDirectMessageFansOutToBothParticipantsOnly(t *testing.T) {
	hub := NewHub()

	_, connA := connect(hub, "u1")
	_, connB := connect(hub, "u2")
	_, connC := connect(hub, "u3")

	hub.BroadcastNewMessage(models.Message{ID: "m1", SenderID: "u1", ReceiverID: strptr("u2"), Text: strptr("hi")})

	require.Equal(t, 1, connA.count(t, models.EventNewMessage))
	require.Equal(t, 1, connB.count(t, models.EventNewMessage))
	require.Equal(t, 0, connC.count(t, models.EventNewMessage))
}

func TestSelfMessageDeliveredOnce(t *testing.T) {
	hub := NewHub()
	_, conn := connect(hub, "u1")

	hub.BroadcastNewMessage(models.Message{ID: "m1", SenderID: "u1", ReceiverID: strptr("u1")})

	require.Equal(t, 1, conn.count(t, models.EventNewMessage))
}

func TestGroupMessageGoesToGroupChannelOnly(t *testing.T) {
	hub := NewHub()

	subscribed, connSub := connect(hub, "u1")
	_, connIdle := connect(hub, "u2")
	hub.JoinGroup(subscribed, "g1")

	hub.BroadcastNewMessage(models.Message{ID: "m1", SenderID: "u2", ChatID: strptr("g1")})

	require.Equal(t, 1, connSub.count(t, models.EventNewMessage))
	require.Equal(t, 0, connIdle.count(t, models.EventNewMessage))
}

func TestGroupDeletedReachesEveryMemberExactlyOnce(t *testing.T) {
	hub := NewHub()

	// u1 also has the group open; personal + group channel overlap must not
	// double-deliver
	open, connOpen := connect(hub, "u1")
	hub.JoinGroup(open, "g1")
	_, connClosed := connect(hub, "u2")
	_, connOther := connect(hub, "u9")

	hub.BroadcastGroupDeleted("g1", []string{"u1", "u2", "u3"})

	require.Equal(t, 1, connOpen.count(t, models.EventGroupDel))
	require.Equal(t, 1, connClosed.count(t, models.EventGroupDel))
	require.Equal(t, 0, connOther.count(t, models.EventGroupDel))
}

func TestMessageDeletedRouting(t *testing.T) {
	hub := NewHub()

	member, connMember := connect(hub, "u1")
	hub.JoinGroup(member, "g1")
	_, connPeer := connect(hub, "u2")

	hub.BroadcastMessageDeleted(models.Message{ID: "m1", SenderID: "u3", ChatID: strptr("g1")})
	hub.BroadcastMessageDeleted(models.Message{ID: "m2", SenderID: "u1", ReceiverID: strptr("u2")})

	require.Equal(t, 2, connMember.count(t, models.EventMessageDel)) // group + own direct
	require.Equal(t, 1, connPeer.count(t, models.EventMessageDel))
}

func TestChatDeletedCarriesPeerID(t *testing.T) {
	hub := NewHub()

	_, connA := connect(hub, "u1")
	_, connB := connect(hub, "u2")

	hub.BroadcastChatDeleted("u1", "u2")

	var payload models.ChatDeletedPayload
	for _, ev := range connA.events(t) {
		if ev.Event == models.EventChatDel {
			require.NoError(t, json.Unmarshal(ev.Data, &payload))
			require.Equal(t, "u2", payload.UserID)
		}
	}
	for _, ev := range connB.events(t) {
		if ev.Event == models.EventChatDel {
			require.NoError(t, json.Unmarshal(ev.Data, &payload))
			require.Equal(t, "u1", payload.UserID)
		}
	}
	require.Equal(t, 1, connA.count(t, models.EventChatDel))
	require.Equal(t, 1, connB.count(t, models.EventChatDel))
}

func TestPerChannelDeliveryOrder(t *testing.T) {
	hub := NewHub()

	member, conn := connect(hub, "u1")
	hub.JoinGroup(member, "g1")

	for _, id := range []string{"m1", "m2", "m3"} {
		hub.BroadcastNewMessage(models.Message{ID: id, SenderID: "u2", ChatID: strptr("g1")})
	}

	var got []string
	for _, ev := range conn.events(t) {
		if ev.Event != models.EventNewMessage {
			continue
		}
		var msg models.Message
		require.NoError(t, json.Unmarshal(ev.Data, &msg))
		got = append(got, msg.ID)
	}
	require.Equal(t, []string{"m1", "m2", "m3"}, got)
}

func TestWriteFailureDropsOnlyThatConnection(t *testing.T) {
	hub := NewHub()

	broken := &fakeConn{}
	bad := newClient(broken, ConnInfo{UserID: "u1"})
	hub.Register(bad)
	_, connOK := connect(hub, "u2")

	broken.mu.Lock()
	broken.fail = true
	broken.mu.Unlock()

	hub.BroadcastNewMessage(models.Message{ID: "m1", SenderID: "u2", ReceiverID: strptr("u1")})

	require.True(t, broken.closed)
	require.Equal(t, []string{"u2"}, hub.OnlineUsers())
	require.Equal(t, 1, connOK.count(t, models.EventNewMessage))
}

func TestJoinPersonalRebindsIdentity(t *testing.T) {
	hub := NewHub()

	client, _ := connect(hub, "")
	require.Empty(t, hub.OnlineUsers())

	hub.JoinPersonal(client, "u1")
	require.Equal(t, []string{"u1"}, hub.OnlineUsers())

	hub.JoinPersonal(client, "u2")
	require.Equal(t, []string{"u2"}, hub.OnlineUsers())
}

func TestLeaveGroupIsIdempotent(t *testing.T) {
	hub := NewHub()

	client, conn := connect(hub, "u1")
	hub.JoinGroup(client, "g1")
	hub.LeaveGroup(client, "g1")
	hub.LeaveGroup(client, "g1")

	hub.BroadcastNewMessage(models.Message{ID: "m1", SenderID: "u2", ChatID: strptr("g1")})
	require.Equal(t, 0, conn.count(t, models.EventNewMessage))
}

func TestShutdownReleasesAllConnections(t *testing.T) {
	hub := NewHub()

	_, conn1 := connect(hub, "u1")
	_, conn2 := connect(hub, "u2")

	hub.Shutdown()

	require.True(t, conn1.closed)
	require.True(t, conn2.closed)
	require.Empty(t, hub.OnlineUsers())
}
