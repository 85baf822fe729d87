package ws

// ChannelKind distinguishes the two delivery policies: personal channels are
// joined implicitly when a connection identifies itself, group channels only
// on an explicit joinGroup from the client.
type ChannelKind uint8

const (
	ChannelPersonal ChannelKind = iota + 1
	ChannelGroup
)

// Channel identifies a routing target. It is a comparable key, never
// persisted.
type Channel struct {
	Kind ChannelKind
	ID   string
}

// Personal returns the personal channel for a user.
func Personal(userID string) Channel {
	return Channel{Kind: ChannelPersonal, ID: userID}
}

// Group returns the channel for a group conversation.
func Group(groupID string) Channel {
	return Channel{Kind: ChannelGroup, ID: groupID}
}
