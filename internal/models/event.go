package models

// Wire event names. Client to server: join, joinGroup, leaveGroup.
// Server to client: the rest.
const (
	EventJoin        = "join"
	EventJoinGroup   = "joinGroup"
	EventLeaveGroup  = "leaveGroup"
	EventOnlineUsers = "getOnlineUsers"
	EventNewMessage  = "newMessage"
	EventMessageDel  = "messageDeleted"
	EventGroupDel    = "groupDeleted"
	EventChatDel     = "chatDeleted"
	EventGroupUpd    = "groupUpdated"
)

// Event is the JSON envelope exchanged over a live connection.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// MessageDeletedPayload accompanies messageDeleted events.
type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
}

// GroupDeletedPayload accompanies groupDeleted events.
type GroupDeletedPayload struct {
	GroupID string `json:"groupId"`
}

// ChatDeletedPayload accompanies chatDeleted events. UserID is the peer whose
// direct history with the recipient was removed.
type ChatDeletedPayload struct {
	UserID string `json:"userId"`
}
