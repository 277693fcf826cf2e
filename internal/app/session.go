package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/MeshCall/internal/app/events"
	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/rs/zerolog/log"
)

type State int

const (
	StateIdle State = iota
	StateJoining
	StateActive
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateLeaving:
		return "leaving"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type sessionDeps struct {
	Local   domain.UserID
	Room    domain.RoomName
	Policy  domain.InitiatorPolicy
	Links   core.PeerLinkFactory
	Bus     *events.Bus
	Stats   *counters
	Streams func() core.LocalStream
}

// Session is one room membership. It owns the signaling connection and
// every peer link created while it is live.
type Session struct {
	deps     sessionDeps
	registry *Registry

	mu    sync.Mutex
	state State

	// connMu only guards conn so link callbacks never wait on mu.
	connMu sync.RWMutex
	conn   core.SignalConn
}

func newSession(deps sessionDeps) *Session {
	if deps.Streams == nil {
		deps.Streams = func() core.LocalStream { return nil }
	}
	if deps.Stats == nil {
		deps.Stats = &counters{}
	}
	return &Session{deps: deps, registry: NewRegistry()}
}

// start dials the relay and begins serving its messages. On error the
// session is left idle.
func (s *Session) start(ctx context.Context, dialer core.SignalDialer, endpoint string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("session already %s", st)
	}
	s.state = StateJoining
	s.mu.Unlock()

	conn, err := dialer.Dial(ctx, endpoint, s.deps.Room, s.deps.Local)
	if err != nil {
		s.setState(StateIdle)
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}

	s.mu.Lock()
	if s.state != StateJoining {
		// left while dialing
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("join %s: %w", s.deps.Room, context.Canceled)
	}
	s.setConn(conn)
	s.mu.Unlock()

	log.Info().
		Str("module", "app.session").
		Str("user", s.deps.Local.String()).
		Str("room", s.deps.Room.String()).
		Msg("joining room")
	conn.Serve(s)
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// OnRoster creates a link towards every member already in the room.
func (s *Session) OnRoster(members []domain.Member) {
	s.mu.Lock()
	if !s.liveLocked() {
		st := s.state
		s.mu.Unlock()
		log.Debug().Str("module", "app.session").Str("state", st.String()).Msg("roster dropped")
		return
	}
	s.state = StateActive
	var displaced []*peerEntry
	for _, m := range members {
		if m.UserID == s.deps.Local {
			continue
		}
		if prev := s.connectLocked(m, true); prev != nil {
			displaced = append(displaced, prev)
		}
	}
	s.mu.Unlock()

	destroyAll(displaced)
	log.Info().
		Str("module", "app.session").
		Str("room", s.deps.Room.String()).
		Int("peers", s.registry.Len()).
		Msg("joined room")
}

func (s *Session) OnUserJoined(m domain.Member) {
	s.mu.Lock()
	if !s.liveLocked() || m.UserID == s.deps.Local {
		s.mu.Unlock()
		return
	}
	prev := s.connectLocked(m, false)
	s.mu.Unlock()

	if prev != nil {
		log.Info().Str("module", "app.session").Str("peer", m.UserID.String()).Msg("peer rejoined, replacing link")
		safeDestroy(prev.Member.UserID, prev.Link)
	}
}

func (s *Session) OnSignal(from domain.UserID, blob domain.SignalBlob) {
	s.mu.Lock()
	var entry *peerEntry
	ok := false
	if s.liveLocked() {
		entry, ok = s.registry.Get(from)
	}
	s.mu.Unlock()

	if !ok {
		s.deps.Stats.staleSignals.Add(1)
		log.Debug().Str("module", "app.session").Str("from", from.String()).Msg("signal for unknown peer dropped")
		return
	}
	entry.Link.Signal(blob)
}

func (s *Session) OnUserLeft(id domain.UserID) {
	s.mu.Lock()
	var entry *peerEntry
	ok := false
	if s.liveLocked() {
		entry, ok = s.registry.Remove(id)
	}
	s.mu.Unlock()

	if !ok {
		s.deps.Stats.staleLeaves.Add(1)
		log.Debug().Str("module", "app.session").Str("user", id.String()).Msg("leave for unknown peer dropped")
		return
	}
	safeDestroy(id, entry.Link)
	log.Info().Str("module", "app.session").Str("user", id.String()).Msg("peer left")
	s.deps.Bus.Emit(events.UserUnpublished{
		User:      events.User{UUID: id},
		MediaType: domain.MediaVideo,
	})
}

func (s *Session) OnMediaToggled(t domain.MediaToggle) {
	s.mu.Lock()
	live := s.liveLocked()
	s.mu.Unlock()
	if !live {
		return
	}
	s.deps.Bus.Emit(events.UserMediaToggled{
		UserID:    t.UserID,
		MediaType: t.MediaType,
		Enabled:   t.Enabled,
	})
}

// OnDisconnect surfaces transport loss. Existing links stay up; nothing
// reconnects.
func (s *Session) OnDisconnect(err error) {
	s.mu.Lock()
	live := s.liveLocked()
	s.mu.Unlock()
	if !live {
		return
	}
	s.deps.Stats.disconnects.Add(1)
	log.Warn().Str("module", "app.session").Str("room", s.deps.Room.String()).Err(err).Msg("signaling channel lost")
	s.deps.Bus.Emit(events.ChannelDisconnected{Room: s.deps.Room, Err: err})
}

// announce tells the room about a local toggle. Failures are only logged.
func (s *Session) announce(kind domain.MediaKind, enabled bool) {
	s.mu.Lock()
	live := s.liveLocked()
	s.mu.Unlock()
	conn := s.currentConn()
	if !live || conn == nil {
		return
	}
	err := conn.SendMediaToggle(domain.MediaToggle{UserID: s.deps.Local, MediaType: kind, Enabled: enabled})
	if err != nil {
		log.Warn().Str("module", "app.session").Str("media", string(kind)).Err(err).Msg("media toggle not sent")
	}
}

// leave destroys every link and closes the channel. Each step runs even if
// an earlier one panics.
func (s *Session) leave() {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateLeaving {
		s.mu.Unlock()
		return
	}
	s.state = StateLeaving
	conn := s.setConn(nil)
	entries := s.registry.Drain()
	s.mu.Unlock()

	destroyAll(entries)
	if conn != nil {
		safeClose(conn)
	}

	s.setState(StateIdle)
	log.Info().
		Str("module", "app.session").
		Str("room", s.deps.Room.String()).
		Int("links", len(entries)).
		Msg("left room")
}

func (s *Session) liveLocked() bool {
	return s.state == StateJoining || s.state == StateActive
}

func (s *Session) currentConn() core.SignalConn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn
}

// setConn swaps the connection and returns the previous one.
func (s *Session) setConn(conn core.SignalConn) core.SignalConn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	prev := s.conn
	s.conn = conn
	return prev
}

// connectLocked creates and registers a link towards m and returns the entry
// it displaced. Caller holds s.mu.
func (s *Session) connectLocked(m domain.Member, fromRoster bool) *peerEntry {
	initiator := s.deps.Policy.Initiates(s.deps.Local, m.UserID, fromRoster)
	entry := &peerEntry{Member: m, Initiator: initiator}

	link, err := s.deps.Links.NewLink(core.LinkOptions{
		Remote:      m,
		Initiator:   initiator,
		LocalStream: s.deps.Streams(),
	}, s.callbacks(entry))
	if err != nil {
		s.deps.Stats.linkFailures.Add(1)
		log.Error().Str("module", "app.session").Str("peer", m.UserID.String()).Err(err).Msg("create link failed")
		return nil
	}
	entry.Link = link
	return s.registry.Put(entry)
}

func (s *Session) callbacks(entry *peerEntry) core.LinkCallbacks {
	peer := entry.Member
	return core.LinkCallbacks{
		OnSignal: func(blob domain.SignalBlob) {
			if !s.registry.Holds(entry) {
				return
			}
			conn := s.currentConn()
			if conn == nil {
				return
			}
			if err := conn.SendSignal(peer.SocketID, blob); err != nil {
				log.Warn().Str("module", "app.session").Str("peer", peer.UserID.String()).Err(err).Msg("signal not sent")
			}
		},
		OnStream: func(stream core.RemoteStream) {
			if !s.registry.Holds(entry) {
				return
			}
			log.Info().Str("module", "app.session").Str("peer", peer.UserID.String()).Str("stream", stream.ID()).Msg("remote stream")
			s.deps.Bus.Emit(events.UserPublished{
				User:      events.User{UUID: peer.UserID, Stream: stream},
				MediaType: domain.MediaVideo,
			})
		},
		OnError: func(err error) {
			s.deps.Stats.linkErrors.Add(1)
			log.Error().Str("module", "app.session").Str("peer", peer.UserID.String()).Err(err).Msg("peer link error")
		},
	}
}

func destroyAll(entries []*peerEntry) {
	for _, e := range entries {
		safeDestroy(e.Member.UserID, e.Link)
	}
}

func safeClose(conn core.SignalConn) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("module", "app.session").Interface("panic", rec).Msg("signal close failed")
		}
	}()
	conn.Close()
}
