package rtc

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// RemoteStream groups the tracks a peer sent under one stream id.
// It implements core.RemoteStream.
type RemoteStream struct {
	id      string
	packets atomic.Uint64

	mu     sync.RWMutex
	tracks []*webrtc.TrackRemote
}

func newRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

func (s *RemoteStream) ID() string { return s.id }

// Kinds lists the kinds received so far.
func (s *RemoteStream) Kinds() []domain.MediaKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[domain.MediaKind]bool{}
	var out []domain.MediaKind
	for _, t := range s.tracks {
		k := mediaKind(t.Kind())
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// Packets is the number of RTP packets received across all tracks.
func (s *RemoteStream) Packets() uint64 {
	return s.packets.Load()
}

func (s *RemoteStream) add(t *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// drain consumes RTP from t until the link closes.
func (s *RemoteStream) drain(t *webrtc.TrackRemote, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		if _, _, err := t.ReadRTP(); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Str("module", "webrtc").Str("track_id", t.ID()).Err(err).Msg("remote track ended")
			}
			return
		}
		s.packets.Add(1)
	}
}
