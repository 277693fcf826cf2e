package core

import (
	"context"

	"github.com/dkeye/MeshCall/internal/domain"
)

// SignalHandler receives relay messages in arrival order from a single goroutine.
type SignalHandler interface {
	OnRoster(members []domain.Member)
	OnUserJoined(m domain.Member)
	OnSignal(from domain.UserID, blob domain.SignalBlob)
	OnUserLeft(id domain.UserID)
	OnMediaToggled(t domain.MediaToggle)
	// OnDisconnect fires once when the transport goes away without Close.
	OnDisconnect(err error)
}

// SignalDialer opens a connection to the signaling relay for one room membership.
type SignalDialer interface {
	Dial(ctx context.Context, endpoint string, room domain.RoomName, user domain.UserID) (SignalConn, error)
}

// SignalConn abstracts the messaging transport towards the relay.
// Owned by the session; the session must Close() it.
type SignalConn interface {
	// Serve starts delivering inbound messages to h. It does not block.
	Serve(h SignalHandler)
	SendSignal(target domain.SocketID, blob domain.SignalBlob) error
	SendMediaToggle(t domain.MediaToggle) error
	Close()
}
