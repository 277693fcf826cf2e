package app

import (
	"sort"
	"sync"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/rs/zerolog/log"
)

// peerEntry is what the registry stores per remote participant.
// Initiator is fixed when the link is created.
type peerEntry struct {
	Link      core.PeerLink
	Member    domain.Member
	Initiator bool
}

// Registry maps remote participants to their live link. At most one entry
// exists per user id.
type Registry struct {
	mu    sync.RWMutex
	peers map[domain.UserID]*peerEntry
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[domain.UserID]*peerEntry)}
}

// Put stores e under its user id and returns the entry it displaced, if
// any. The displaced link is still live; the caller must destroy it.
func (r *Registry) Put(e *peerEntry) *peerEntry {
	r.mu.Lock()
	prev := r.peers[e.Member.UserID]
	r.peers[e.Member.UserID] = e
	r.mu.Unlock()

	log.Debug().
		Str("module", "app.registry").
		Str("user", e.Member.UserID.String()).
		Str("socket", e.Member.SocketID.String()).
		Bool("initiator", e.Initiator).
		Bool("replaced", prev != nil).
		Msg("registered link")
	if prev == e {
		return nil
	}
	return prev
}

func (r *Registry) Get(id domain.UserID) (*peerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[id]
	return e, ok
}

// Holds reports whether e is the entry currently stored for its user.
func (r *Registry) Holds(e *peerEntry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.peers[e.Member.UserID]
	return ok && cur == e
}

// Remove deletes the entry for id and returns it. The link is not destroyed.
func (r *Registry) Remove(id domain.UserID) (*peerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if ok {
		delete(r.peers, id)
		log.Debug().Str("module", "app.registry").Str("user", id.String()).Msg("removed link")
	}
	return e, ok
}

// Drain empties the registry and returns what it held.
func (r *Registry) Drain() []*peerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*peerEntry, 0, len(r.peers))
	for _, e := range r.peers {
		out = append(out, e)
	}
	r.peers = make(map[domain.UserID]*peerEntry)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// IDs returns the registered user ids in sorted order.
func (r *Registry) IDs() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// safeDestroy runs link.Destroy and swallows a panic so teardown can continue.
func safeDestroy(id domain.UserID, link core.PeerLink) {
	if link == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("module", "app.registry").Str("user", id.String()).Interface("panic", rec).Msg("link destroy failed")
		}
	}()
	link.Destroy()
}
