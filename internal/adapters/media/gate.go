package media

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PacketSource yields encoded RTP. mediadevices' RTP readers satisfy it.
type PacketSource interface {
	Read() ([]*rtp.Packet, func(), error)
	Close() error
}

type PacketWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// GatedTrack forwards packets from a source to the track peer links send,
// dropping them while muted. Muting keeps every sender bound so no
// renegotiation is needed.
type GatedTrack struct {
	id     string
	kind   domain.MediaKind
	src    PacketSource
	writer PacketWriter
	local  webrtc.TrackLocal
	logger zerolog.Logger

	state     trackState
	forwarded atomic.Uint64
	dropped   atomic.Uint64

	stopOnce sync.Once
	done     chan struct{}
	onStop   func()
}

// NewGatedTrack starts forwarding src into out.
func NewGatedTrack(kind domain.MediaKind, src PacketSource, out *webrtc.TrackLocalStaticRTP, onStop func()) *GatedTrack {
	return newGatedTrack(out.ID(), kind, src, out, out, onStop)
}

func newGatedTrack(id string, kind domain.MediaKind, src PacketSource, w PacketWriter, local webrtc.TrackLocal, onStop func()) *GatedTrack {
	g := &GatedTrack{
		id:     id,
		kind:   kind,
		src:    src,
		writer: w,
		local:  local,
		done:   make(chan struct{}),
		onStop: onStop,
		logger: log.With().Str("module", "media").Str("track", id).Str("kind", string(kind)).Logger(),
	}
	go g.loop()
	return g
}

func (g *GatedTrack) ID() string                { return g.id }
func (g *GatedTrack) Kind() domain.MediaKind    { return g.kind }
func (g *GatedTrack) Output() webrtc.TrackLocal { return g.local }
func (g *GatedTrack) State() TrackState         { return g.state.Load() }

func (g *GatedTrack) Enabled() bool {
	return g.state.Load() == TrackStateOk
}

func (g *GatedTrack) SetEnabled(enabled bool) {
	next := TrackStateMuted
	if enabled {
		next = TrackStateOk
	}
	if g.state.set(next) {
		g.logger.Info().Str("state", next.String()).Msg("track state")
	}
}

// Stop ends forwarding and releases the source. Idempotent.
func (g *GatedTrack) Stop() {
	g.stopOnce.Do(func() {
		g.state.v.Store(int32(TrackStateStopped))
		if err := g.src.Close(); err != nil {
			g.logger.Warn().Err(err).Msg("source close")
		}
		<-g.done
		if g.onStop != nil {
			g.onStop()
		}
		g.logger.Info().
			Uint64("forwarded", g.forwarded.Load()).
			Uint64("dropped", g.dropped.Load()).
			Msg("track stopped")
	})
}

// Counts reports forwarded and muted-dropped packets.
func (g *GatedTrack) Counts() (forwarded, dropped uint64) {
	return g.forwarded.Load(), g.dropped.Load()
}

func (g *GatedTrack) loop() {
	defer close(g.done)
	for {
		if g.state.Load() == TrackStateStopped {
			return
		}
		pkts, release, err := g.src.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) && g.state.Load() != TrackStateStopped {
				g.logger.Error().Err(err).Msg("read RTP error, stopping")
			}
			g.state.v.Store(int32(TrackStateStopped))
			return
		}
		g.forward(pkts)
		if release != nil {
			release()
		}
	}
}

func (g *GatedTrack) forward(pkts []*rtp.Packet) {
	switch g.state.Load() {
	case TrackStateStopped:
		return
	case TrackStateMuted:
		g.dropped.Add(uint64(len(pkts)))
		return
	case TrackStateOk:
	}
	for _, p := range pkts {
		if err := g.writer.WriteRTP(p); err != nil {
			g.logger.Debug().Err(err).Msg("write RTP error")
			continue
		}
		g.forwarded.Add(1)
	}
}
