package relay

import (
	"sort"
	"sync"

	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Peer is one connected member of a room.
type Peer struct {
	Member domain.Member
	Conn   *Conn
}

// PublishResult reports delivery stats so the hub can apply its policy.
type PublishResult struct {
	SentTo  int
	Dropped []*Peer
	// Replaced is the older socket of the same user that Join evicted.
	Replaced *Peer
}

// Room is a threadsafe in-memory member set. It never closes connections.
type Room struct {
	name     domain.RoomName
	mu       sync.RWMutex
	bySocket map[domain.SocketID]*Peer
}

func NewRoom(name domain.RoomName) *Room {
	return &Room{name: name, bySocket: make(map[domain.SocketID]*Peer)}
}

func (r *Room) Name() domain.RoomName { return r.name }

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySocket)
}

// Join adds p, queues the roster of everyone else to p and announces p to
// them, all under one write lock. An older socket of the same user is
// evicted without a departure announcement and returned in Replaced; the
// caller closes it.
func (r *Room) Join(p *Peer, roster func(others []domain.Member) []byte, announce []byte) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.byUserLocked(p.Member.UserID, p.Member.SocketID)
	if prev != nil {
		delete(r.bySocket, prev.Member.SocketID)
	}
	others := r.membersLocked(p.Member.SocketID)
	if err := p.Conn.TrySend(roster(others)); err != nil {
		if prev != nil {
			r.bySocket[prev.Member.SocketID] = prev
		}
		return PublishResult{}, err
	}
	r.bySocket[p.Member.SocketID] = p
	log.Info().Str("module", "relay").Str("room", r.name.String()).Str("socket", p.Member.SocketID.String()).Str("user", p.Member.UserID.String()).Msg("member added")
	if prev != nil {
		log.Info().Str("module", "relay").Str("room", r.name.String()).Str("socket", prev.Member.SocketID.String()).Msg("older socket replaced")
	}
	res := r.broadcastLocked(p.Member.SocketID, announce)
	res.Replaced = prev
	return res, nil
}

func (r *Room) byUserLocked(user domain.UserID, except domain.SocketID) *Peer {
	for sid, p := range r.bySocket {
		if sid != except && p.Member.UserID == user {
			return p
		}
	}
	return nil
}

// Leave removes the socket and announces its departure to the rest.
func (r *Room) Leave(sid domain.SocketID, announce []byte) (PublishResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySocket[sid]; !ok {
		return PublishResult{}, false
	}
	delete(r.bySocket, sid)
	log.Info().Str("module", "relay").Str("room", r.name.String()).Str("socket", sid.String()).Msg("member removed")
	return r.broadcastLocked(sid, announce), true
}

func (r *Room) Lookup(sid domain.SocketID) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.bySocket[sid]
	return p, ok
}

// Members returns every member except the given socket, ordered by user id.
func (r *Room) Members(except domain.SocketID) []domain.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membersLocked(except)
}

func (r *Room) membersLocked(except domain.SocketID) []domain.Member {
	out := make([]domain.Member, 0, len(r.bySocket))
	for sid, p := range r.bySocket {
		if sid == except {
			continue
		}
		out = append(out, p.Member)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID == out[j].UserID {
			return out[i].SocketID < out[j].SocketID
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Broadcast queues data to everyone except from.
func (r *Room) Broadcast(from domain.SocketID, data []byte) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.broadcastLocked(from, data)
}

func (r *Room) broadcastLocked(from domain.SocketID, data []byte) PublishResult {
	res := PublishResult{}
	for sid, p := range r.bySocket {
		if sid == from {
			continue
		}
		if err := p.Conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, p)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "relay").Str("from", from.String()).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
