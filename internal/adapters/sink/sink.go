// Package sink holds the named preview surfaces a local stream can be shown in.
package sink

import (
	"sync"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry resolves sink ids. It implements core.SinkResolver.
type Registry struct {
	mu    sync.RWMutex
	sinks map[string]core.VideoSink
}

func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]core.VideoSink)}
}

func (r *Registry) Register(id string, s core.VideoSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[id] = s
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sinks[id]; ok {
		s.Detach()
		delete(r.sinks, id)
	}
}

func (r *Registry) Lookup(id string) (core.VideoSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sinks[id]
	return s, ok
}

// LogSink is a headless preview: it logs what it would render.
type LogSink struct {
	id string

	mu     sync.Mutex
	stream core.LocalStream
}

func NewLogSink(id string) *LogSink {
	return &LogSink{id: id}
}

func (s *LogSink) Attach(stream core.LocalStream) {
	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()
	if stream == nil {
		return
	}
	log.Info().
		Str("module", "sink").
		Str("sink", s.id).
		Str("stream", stream.ID()).
		Int("video_tracks", len(stream.Tracks(domain.MediaVideo))).
		Msg("preview attached")
}

func (s *LogSink) Detach() {
	s.mu.Lock()
	had := s.stream != nil
	s.stream = nil
	s.mu.Unlock()
	if had {
		log.Info().Str("module", "sink").Str("sink", s.id).Msg("preview detached")
	}
}

// Current returns the attached stream, or nil.
func (s *LogSink) Current() core.LocalStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}
