package domain

// Member pairs a participant with the relay connection it currently uses.
// Signaling messages always carry both explicitly.
type Member struct {
	UserID   UserID   `json:"userId"`
	SocketID SocketID `json:"socketId"`
}

func NewMember(user UserID, socket SocketID) Member {
	return Member{UserID: user, SocketID: socket}
}
