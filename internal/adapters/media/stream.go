// Package media captures local camera and microphone into gated tracks.
package media

import (
	"errors"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
)

var ErrCaptureUnavailable = errors.New("media capture unavailable")

// Stream is a local media handle. It implements core.LocalStream.
type Stream struct {
	id     string
	tracks []core.LocalTrack
}

func NewStream(id string, tracks ...core.LocalTrack) *Stream {
	return &Stream{id: id, tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks(kind domain.MediaKind) []core.LocalTrack {
	var out []core.LocalTrack
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

func (s *Stream) AllTracks() []core.LocalTrack {
	return append([]core.LocalTrack(nil), s.tracks...)
}
