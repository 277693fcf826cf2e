package relay

import (
	"sort"
	"sync"

	"github.com/dkeye/MeshCall/internal/domain"
)

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"member_count"`
}

// Rooms owns every live room. A room exists while it has members.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]*Room
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[domain.RoomName]*Room)}
}

func (f *Rooms) Get(name domain.RoomName) (*Room, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.rooms[name]
	return r, ok
}

func (f *Rooms) List() []RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]RoomInfo, 0, len(f.rooms))
	for name, r := range f.rooms {
		out = append(out, RoomInfo{Name: name, MemberCount: r.MemberCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Enter joins p to the named room, creating it if needed.
func (f *Rooms) Enter(name domain.RoomName, p *Peer, roster func([]domain.Member) []byte, announce []byte) (*Room, PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[name]
	if !ok {
		room = NewRoom(name)
	}
	res, err := room.Join(p, roster, announce)
	if err != nil {
		return nil, res, err
	}
	f.rooms[name] = room
	return room, res, nil
}

// Exit removes the socket from the named room and drops the room once it
// is empty.
func (f *Rooms) Exit(name domain.RoomName, sid domain.SocketID, announce []byte) (*Room, PublishResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[name]
	if !ok {
		return nil, PublishResult{}, false
	}
	res, ok := room.Leave(sid, announce)
	if room.MemberCount() == 0 {
		delete(f.rooms, name)
	}
	return room, res, ok
}
