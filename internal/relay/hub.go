// Package relay is the signaling server: it tracks who is in which room and
// forwards negotiation payloads between members. Media never passes through it.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	return o
}

// Hub wires connections to rooms and applies the backpressure policy.
type Hub struct {
	Rooms    *Rooms
	Policy   Policy
	Presence Presence
	Limiter  *JoinLimiter

	opts Options
}

func NewHub(opts Options, policy Policy, presence Presence, limiter *JoinLimiter) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	if presence == nil {
		presence = NewMemoryPresence()
	}
	return &Hub{
		Rooms:    NewRooms(),
		Policy:   policy,
		Presence: presence,
		Limiter:  limiter,
		opts:     opts.withDefaults(),
	}
}

// Serve runs one member's connection until it drops or ctx ends.
// It blocks; call it from the upgrade handler's goroutine.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn, room domain.RoomName, user domain.UserID) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	peer := &Peer{
		Member: domain.NewMember(user, domain.SocketID(uuid.NewString())),
		Conn:   newConn(ws, h.opts.SendBuffer),
	}
	logger := log.With().
		Str("module", "relay").
		Str("room", room.String()).
		Str("user", user.String()).
		Str("socket", peer.Member.SocketID.String()).
		Logger()

	go peer.Conn.writePump(ctx, h.opts.PingPeriod)

	joined := mustJSON(domain.JoinedMessage{Type: domain.MsgUserJoined, Member: peer.Member})
	r, res, err := h.Rooms.Enter(room, peer, func(others []domain.Member) []byte {
		return mustJSON(domain.RosterMessage{Type: domain.MsgAllUsers, Users: others})
	}, joined)
	if err != nil {
		logger.Error().Err(err).Msg("roster not delivered")
		peer.Conn.Close()
		return
	}
	if res.Replaced != nil {
		// The user is already present; the evicted socket leaves silently.
		logger.Info().Str("replaced", res.Replaced.Member.SocketID.String()).Msg("rejoined")
		res.Replaced.Conn.Close()
	} else if err := h.Presence.Join(ctx, room, user); err != nil {
		logger.Warn().Err(err).Msg("presence join failed")
	}
	logger.Info().Int("members", r.MemberCount()).Msg("joined")
	h.applyPolicy(r, res)

	err = peer.Conn.readPump(ctx, h.opts.ReadLimit, h.opts.PingPeriod, func(data []byte) {
		h.handle(r, peer, data)
	})
	logger.Info().Err(err).Msg("connection closed")

	h.disconnect(room, peer)
}

func (h *Hub) disconnect(room domain.RoomName, peer *Peer) {
	left := mustJSON(domain.LeftMessage{Type: domain.MsgUserLeft, UserID: peer.Member.UserID})
	r, res, ok := h.Rooms.Exit(room, peer.Member.SocketID, left)
	peer.Conn.Close()
	if !ok {
		// already replaced by a newer socket of the same user
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Presence.Leave(ctx, room, peer.Member.UserID); err != nil {
		log.Warn().Str("module", "relay").Err(err).Msg("presence leave failed")
	}
	h.applyPolicy(r, res)
}

func (h *Hub) handle(r *Room, from *Peer, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "relay").Msg("bad json")
		h.sendError(from, "malformed message")
		return
	}

	switch env.Type {
	case domain.MsgSignal:
		h.handleSignal(r, from, data)
	case domain.MsgMediaToggle:
		h.handleToggle(r, from, data)
	case domain.MsgPing:
		h.send(r, from, mustJSON(domain.Envelope{Type: domain.MsgPong}))
	default:
		log.Warn().Str("module", "relay").Str("type", string(env.Type)).Msg("unknown message")
		h.sendError(from, "unknown message type")
	}
}

func (h *Hub) handleSignal(r *Room, from *Peer, data []byte) {
	var msg domain.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.TargetID == "" {
		h.sendError(from, "bad signal payload")
		return
	}
	target, ok := r.Lookup(msg.TargetID)
	if !ok {
		log.Debug().Str("module", "relay").Str("target", msg.TargetID.String()).Msg("signal target gone")
		return
	}
	out := mustJSON(domain.SignalMessage{
		Type:         domain.MsgSignal,
		FromUserID:   from.Member.UserID,
		FromSocketID: from.Member.SocketID,
		Signal:       msg.Signal,
	})
	h.send(r, target, out)
}

func (h *Hub) handleToggle(r *Room, from *Peer, data []byte) {
	var msg domain.ToggleMessage
	if err := json.Unmarshal(data, &msg); err != nil || !msg.MediaType.Valid() {
		h.sendError(from, "bad media-toggle payload")
		return
	}
	out := mustJSON(domain.ToggleMessage{
		Type: domain.MsgUserMediaToggled,
		MediaToggle: domain.MediaToggle{
			UserID:    from.Member.UserID,
			MediaType: msg.MediaType,
			Enabled:   msg.Enabled,
		},
	})
	h.applyPolicy(r, r.Broadcast(from.Member.SocketID, out))
}

func (h *Hub) send(r *Room, to *Peer, data []byte) {
	if err := to.Conn.TrySend(data); err != nil {
		h.applyPolicy(r, PublishResult{Dropped: []*Peer{to}})
	}
}

func (h *Hub) sendError(to *Peer, reason string) {
	_ = to.Conn.TrySend(mustJSON(domain.ErrorMessage{Type: domain.MsgError, Error: reason}))
}

func (h *Hub) applyPolicy(r *Room, res PublishResult) {
	if r == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch h.Policy.OnBackPressure(r, slow) {
		case KickMember:
			log.Warn().Str("module", "relay").Str("socket", slow.Member.SocketID.String()).Msg("kicking slow member")
			slow.Conn.Close()
		case DropFrame, NoAction:
		}
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
