package core

import (
	"context"

	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// LocalTrack is one captured audio or video track.
type LocalTrack interface {
	ID() string
	Kind() domain.MediaKind
	Enabled() bool
	// SetEnabled mutes or unmutes without renegotiation.
	SetEnabled(enabled bool)
	// Stop releases the capture device. Idempotent.
	Stop()
	// Output is what peer links attach to their connections.
	Output() webrtc.TrackLocal
}

// LocalStream is the local media handle shared read-only by every peer link.
type LocalStream interface {
	ID() string
	Tracks(kind domain.MediaKind) []LocalTrack
	AllTracks() []LocalTrack
}

type Capturer interface {
	RequestUserMedia(ctx context.Context, c domain.MediaConstraints) (LocalStream, error)
}

// VideoSink renders the local preview.
type VideoSink interface {
	Attach(stream LocalStream)
	Detach()
}

type SinkResolver interface {
	Lookup(id string) (VideoSink, bool)
}
