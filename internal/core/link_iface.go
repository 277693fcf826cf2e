package core

import (
	"github.com/dkeye/MeshCall/internal/domain"
)

// PeerLink owns the media connection to exactly one remote participant.
type PeerLink interface {
	// Signal feeds a remote-origin blob into negotiation. Failures are
	// reported through LinkCallbacks.OnError, never returned.
	Signal(blob domain.SignalBlob)
	// Destroy releases every resource. Idempotent; no callbacks fire afterwards.
	Destroy()
}

type LinkOptions struct {
	Remote    domain.Member
	Initiator bool
	// LocalStream may be nil for a receive-only link.
	LocalStream LocalStream
}

// LinkCallbacks are invoked from link-owned goroutines.
type LinkCallbacks struct {
	OnSignal func(blob domain.SignalBlob)
	OnStream func(stream RemoteStream)
	OnError  func(err error)
}

type PeerLinkFactory interface {
	NewLink(opts LinkOptions, cb LinkCallbacks) (PeerLink, error)
}

// RemoteStream is the media received from one remote participant.
type RemoteStream interface {
	ID() string
	Kinds() []domain.MediaKind
}
