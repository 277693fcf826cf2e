package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Presence mirrors who is in which room for the HTTP API.
type Presence interface {
	Join(ctx context.Context, room domain.RoomName, user domain.UserID) error
	Leave(ctx context.Context, room domain.RoomName, user domain.UserID) error
	Members(ctx context.Context, room domain.RoomName) ([]domain.UserID, error)
}

// MemoryPresence counts connections per user so a user with two sockets
// stays present until both are gone.
type MemoryPresence struct {
	mu    sync.Mutex
	rooms map[domain.RoomName]map[domain.UserID]int
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{rooms: make(map[domain.RoomName]map[domain.UserID]int)}
}

func (p *MemoryPresence) Join(_ context.Context, room domain.RoomName, user domain.UserID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	users, ok := p.rooms[room]
	if !ok {
		users = make(map[domain.UserID]int)
		p.rooms[room] = users
	}
	users[user]++
	return nil
}

func (p *MemoryPresence) Leave(_ context.Context, room domain.RoomName, user domain.UserID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	users, ok := p.rooms[room]
	if !ok {
		return nil
	}
	if users[user] <= 1 {
		delete(users, user)
	} else {
		users[user]--
	}
	if len(users) == 0 {
		delete(p.rooms, room)
	}
	return nil
}

func (p *MemoryPresence) Members(_ context.Context, room domain.RoomName) ([]domain.UserID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.UserID, 0, len(p.rooms[room]))
	for id := range p.rooms[room] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// RedisPresence keeps a set per room under room:<name>:peers.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPresence(client *redis.Client, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisPresence{client: client, ttl: ttl}
}

func peersKey(room domain.RoomName) string {
	return "room:" + string(room) + ":peers"
}

func (p *RedisPresence) Join(ctx context.Context, room domain.RoomName, user domain.UserID) error {
	key := peersKey(room)
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, key, string(user))
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence join %s: %w", room, err)
	}
	return nil
}

func (p *RedisPresence) Leave(ctx context.Context, room domain.RoomName, user domain.UserID) error {
	if err := p.client.SRem(ctx, peersKey(room), string(user)).Err(); err != nil {
		return fmt.Errorf("presence leave %s: %w", room, err)
	}
	return nil
}

func (p *RedisPresence) Members(ctx context.Context, room domain.RoomName) ([]domain.UserID, error) {
	raw, err := p.client.SMembers(ctx, peersKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence members %s: %w", room, err)
	}
	out := make([]domain.UserID, 0, len(raw))
	for _, id := range raw {
		out = append(out, domain.UserID(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ConnectRedis opens a client and checks it with PING.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
