package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

type Listener func(Event)

// ListenerID identifies one registration. Subscribing the same func twice
// yields two ids and both fire.
type ListenerID uint64

type subscription struct {
	id ListenerID
	fn Listener
}

type Bus struct {
	mu     sync.Mutex
	nextID ListenerID
	subs   map[Name][]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Name][]subscription)}
}

// Subscribe appends fn to the listeners of name.
func (b *Bus) Subscribe(name Name, fn Listener) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, fn: fn})
	return id
}

// Unsubscribe removes the registration id from name.
// Unknown names or ids are ignored.
func (b *Bus) Unsubscribe(name Name, id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	list, ok := b.subs[name]
	if !ok {
		return false
	}
	for i, s := range list {
		if s.id != id {
			continue
		}
		rest := make([]subscription, 0, len(list)-1)
		rest = append(rest, list[:i]...)
		rest = append(rest, list[i+1:]...)
		if len(rest) == 0 {
			delete(b.subs, name)
		} else {
			b.subs[name] = rest
		}
		return true
	}
	return false
}

// Emit calls every listener of ev.Name() synchronously in registration order.
// A panicking listener is logged and the rest still run.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	list := b.subs[ev.Name()]
	b.mu.Unlock()

	for _, s := range list {
		b.call(s, ev)
	}
}

// Count returns how many listeners are registered for name.
func (b *Bus) Count(name Name) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[name])
}

func (b *Bus) call(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("module", "app.events").
				Str("event", string(ev.Name())).
				Uint64("listener", uint64(s.id)).
				Err(fmt.Errorf("listener panic: %v", r)).
				Msg("listener failed")
		}
	}()
	s.fn(ev)
}

// Handle subscribes fn to the event whose payload type is T.
func Handle[T Event](b *Bus, fn func(T)) ListenerID {
	var zero T
	return b.Subscribe(zero.Name(), func(ev Event) {
		if typed, ok := ev.(T); ok {
			fn(typed)
		}
	})
}
