package app

import (
	"sync"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/rs/zerolog/log"
)

// MediaState tracks the local stream and the preview it is shown in.
// Every method is a no-op when no stream exists.
type MediaState struct {
	sinks core.SinkResolver

	mu     sync.Mutex
	stream core.LocalStream
	sinkID string
	sink   core.VideoSink
}

func NewMediaState(sinks core.SinkResolver) *MediaState {
	return &MediaState{sinks: sinks}
}

// Set replaces the local stream. The previous stream's tracks are stopped.
func (m *MediaState) Set(stream core.LocalStream) {
	m.mu.Lock()
	prev := m.stream
	m.stream = stream
	m.mu.Unlock()

	if prev != nil && prev != stream {
		stopTracks(prev)
	}
	m.attach()
}

func (m *MediaState) Stream() core.LocalStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Play remembers sinkID and attaches the stream to it when both exist.
func (m *MediaState) Play(sinkID string) {
	m.mu.Lock()
	m.sinkID = sinkID
	m.mu.Unlock()
	m.attach()
}

func (m *MediaState) attach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil || m.sinkID == "" || m.sinks == nil {
		return
	}
	sink, ok := m.sinks.Lookup(m.sinkID)
	if !ok {
		log.Debug().Str("module", "media").Str("sink", m.sinkID).Msg("video sink not found")
		return
	}
	if m.sink != nil && m.sink != sink {
		m.sink.Detach()
	}
	m.sink = sink
	sink.Attach(m.stream)
}

// SetEnabled flips every track of kind. It reports false when there is no
// stream to act on.
func (m *MediaState) SetEnabled(kind domain.MediaKind, enabled bool) bool {
	m.mu.Lock()
	stream := m.stream
	m.mu.Unlock()
	if stream == nil {
		return false
	}
	for _, t := range stream.Tracks(kind) {
		t.SetEnabled(enabled)
	}
	return true
}

// IsOn reports whether at least one track of kind is enabled.
func (m *MediaState) IsOn(kind domain.MediaKind) bool {
	m.mu.Lock()
	stream := m.stream
	m.mu.Unlock()
	if stream == nil {
		return false
	}
	for _, t := range stream.Tracks(kind) {
		if t.Enabled() {
			return true
		}
	}
	return false
}

// Release stops every track, forgets the stream and detaches the preview.
func (m *MediaState) Release() {
	m.mu.Lock()
	stream := m.stream
	sink := m.sink
	m.stream = nil
	m.sink = nil
	m.mu.Unlock()

	if stream != nil {
		stopTracks(stream)
	}
	if sink != nil {
		sink.Detach()
	}
}

func stopTracks(stream core.LocalStream) {
	for _, t := range stream.AllTracks() {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().Str("module", "media").Str("track", t.ID()).Interface("panic", rec).Msg("track stop failed")
				}
			}()
			t.Stop()
		}()
	}
}
