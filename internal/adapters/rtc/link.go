package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrLinkClosed       = errors.New("peer link closed")
	ErrBacklog          = errors.New("peer link signal backlog full")
	ErrConnectionFailed = errors.New("peer connection failed")
)

const inboxSize = 64

// wireSignal is the blob format exchanged with the remote link.
type wireSignal struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// Link negotiates with one remote participant. Remote blobs are applied in
// order on the link's own goroutine.
type Link struct {
	pc        *webrtc.PeerConnection
	remote    domain.Member
	initiator bool
	trickle   bool
	cb        core.LinkCallbacks
	logger    zerolog.Logger

	inbox  chan domain.SignalBlob
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once

	// pending holds candidates that arrived before the remote description.
	pending []webrtc.ICECandidateInit

	mu      sync.Mutex
	streams map[string]*RemoteStream
}

func newLink(pc *webrtc.PeerConnection, opts core.LinkOptions, cb core.LinkCallbacks, trickle bool) *Link {
	l := &Link{
		pc:        pc,
		remote:    opts.Remote,
		initiator: opts.Initiator,
		trickle:   trickle,
		cb:        cb,
		inbox:     make(chan domain.SignalBlob, inboxSize),
		done:      make(chan struct{}),
		streams:   make(map[string]*RemoteStream),
	}
	l.logger = log.With().
		Str("module", "webrtc").
		Str("peer", opts.Remote.UserID.String()).
		Bool("initiator", opts.Initiator).
		Logger()
	return l
}

func (l *Link) start() {
	l.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		l.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		l.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed {
			l.fail(ErrConnectionFailed)
		}
	})

	if l.trickle {
		l.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
			if cand == nil {
				return
			}
			ci := cand.ToJSON()
			l.emit(wireSignal{Type: "candidate", Candidate: &ci})
		})
	}

	l.pc.OnTrack(l.onTrack)

	go l.run()
}

// Signal queues a remote blob. A full queue is reported through OnError.
func (l *Link) Signal(blob domain.SignalBlob) {
	if l.closed.Load() {
		return
	}
	select {
	case l.inbox <- blob:
	case <-l.done:
	default:
		l.fail(ErrBacklog)
	}
}

// Destroy closes the peer connection. Idempotent.
func (l *Link) Destroy() {
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.done)
		if err := l.pc.Close(); err != nil {
			l.logger.Error().Err(err).Msg("close error")
		} else {
			l.logger.Info().Msg("closed")
		}
	})
}

func (l *Link) run() {
	if l.initiator {
		if err := l.offer(); err != nil {
			l.fail(fmt.Errorf("create offer: %w", err))
		}
	}
	for {
		select {
		case <-l.done:
			return
		case blob := <-l.inbox:
			if err := l.apply(blob); err != nil {
				l.fail(err)
			}
		}
	}
}

func (l *Link) apply(blob domain.SignalBlob) error {
	var msg wireSignal
	if err := json.Unmarshal(blob, &msg); err != nil {
		return fmt.Errorf("malformed signal: %w", err)
	}

	switch msg.Type {
	case "offer":
		if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}); err != nil {
			return fmt.Errorf("apply offer: %w", err)
		}
		l.flushPending()
		return l.answer()
	case "answer":
		if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}); err != nil {
			return fmt.Errorf("apply answer: %w", err)
		}
		l.flushPending()
		return nil
	case "candidate":
		if msg.Candidate == nil {
			return errors.New("candidate signal without candidate")
		}
		if l.pc.RemoteDescription() == nil {
			l.pending = append(l.pending, *msg.Candidate)
			return nil
		}
		if err := l.pc.AddICECandidate(*msg.Candidate); err != nil {
			return fmt.Errorf("add candidate: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown signal type %q", msg.Type)
	}
}

func (l *Link) flushPending() {
	for _, c := range l.pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			l.logger.Warn().Err(err).Msg("add queued candidate")
		}
	}
	l.pending = nil
}

func (l *Link) offer() error {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	return l.publishLocal(offer)
}

func (l *Link) answer() error {
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	return l.publishLocal(answer)
}

// publishLocal sets desc locally and sends it. Without trickle it waits for
// gathering so the description carries every candidate.
func (l *Link) publishLocal(desc webrtc.SessionDescription) error {
	var gatherComplete <-chan struct{}
	if !l.trickle {
		gatherComplete = webrtc.GatheringCompletePromise(l.pc)
	}
	if err := l.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if gatherComplete != nil {
		select {
		case <-gatherComplete:
		case <-l.done:
			return ErrLinkClosed
		}
	}
	local := l.pc.LocalDescription()
	if local == nil {
		return errors.New("no local description")
	}
	l.emit(wireSignal{Type: local.Type.String(), SDP: local.SDP})
	return nil
}

func (l *Link) emit(msg wireSignal) {
	blob, err := json.Marshal(msg)
	if err != nil {
		l.fail(fmt.Errorf("marshal signal: %w", err))
		return
	}
	if l.closed.Load() || l.cb.OnSignal == nil {
		return
	}
	l.cb.OnSignal(blob)
}

func (l *Link) fail(err error) {
	if l.closed.Load() {
		return
	}
	l.logger.Error().Err(err).Msg("negotiation error")
	if l.cb.OnError != nil {
		l.cb.OnError(err)
	}
}

func (l *Link) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	l.logger.Info().
		Str("kind", track.Kind().String()).
		Str("track_id", track.ID()).
		Str("stream_id", track.StreamID()).
		Msg("OnTrack received")

	l.mu.Lock()
	rs, known := l.streams[track.StreamID()]
	if !known {
		rs = newRemoteStream(track.StreamID())
		l.streams[track.StreamID()] = rs
	}
	rs.add(track)
	l.mu.Unlock()

	go rs.drain(track, l.done)

	if !known && !l.closed.Load() && l.cb.OnStream != nil {
		l.cb.OnStream(rs)
	}
}

func (l *Link) signalingState() webrtc.SignalingState {
	return l.pc.SignalingState()
}
