package domain

// MessageType is the "type" field of every frame exchanged with the relay.
type MessageType string

const (
	MsgAllUsers         MessageType = "all-users"
	MsgUserJoined       MessageType = "user-joined"
	MsgSignal           MessageType = "signal"
	MsgUserLeft         MessageType = "user-left"
	MsgUserMediaToggled MessageType = "user-media-toggled"
	MsgMediaToggle      MessageType = "media-toggle"
	MsgPing             MessageType = "ping"
	MsgPong             MessageType = "pong"
	MsgError            MessageType = "error"
)

// Envelope is decoded first to pick the concrete message.
type Envelope struct {
	Type MessageType `json:"type"`
}

type RosterMessage struct {
	Type  MessageType `json:"type"`
	Users []Member    `json:"users"`
}

type JoinedMessage struct {
	Type MessageType `json:"type"`
	Member
}

// SignalMessage travels client→relay with TargetID set and
// relay→client with the From fields set.
type SignalMessage struct {
	Type         MessageType `json:"type"`
	TargetID     SocketID    `json:"targetId,omitempty"`
	FromUserID   UserID      `json:"fromUserId,omitempty"`
	FromSocketID SocketID    `json:"fromSocketId,omitempty"`
	Signal       SignalBlob  `json:"signal"`
}

type LeftMessage struct {
	Type   MessageType `json:"type"`
	UserID UserID      `json:"userId"`
}

type ToggleMessage struct {
	Type MessageType `json:"type"`
	MediaToggle
}

type ErrorMessage struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}
