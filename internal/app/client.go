package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/MeshCall/internal/app/events"
	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultServerURL = "http://localhost:3000"

var ErrNoServerURL = errors.New("signaling server url is not set")

// captureFallbacks is the order in which constraints are tried when the
// device refuses the full request.
var captureFallbacks = []domain.MediaConstraints{
	{Video: true, Audio: true},
	{Video: true},
	{Audio: true},
}

// Deps are the adapters a Client drives.
type Deps struct {
	Dialer   core.SignalDialer
	Links    core.PeerLinkFactory
	Capturer core.Capturer
	Sinks    core.SinkResolver
}

// Client is the application-facing API. It owns at most one Session.
type Client struct {
	deps   Deps
	policy domain.InitiatorPolicy
	bus    *events.Bus
	media  *MediaState
	stats  counters

	// joinMu serialises JoinChannel so every replaced session is torn down.
	joinMu sync.Mutex

	mu        sync.Mutex
	serverURL string
	session   *Session
}

func NewClient(deps Deps, policy domain.InitiatorPolicy) *Client {
	if policy == "" {
		policy = domain.PolicyLexical
	}
	return &Client{
		deps:      deps,
		policy:    policy,
		bus:       events.NewBus(),
		media:     NewMediaState(deps.Sinks),
		serverURL: DefaultServerURL,
	}
}

func (c *Client) SetServerURL(url string) {
	c.mu.Lock()
	c.serverURL = url
	c.mu.Unlock()
}

func (c *Client) ServerURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverURL
}

// CreateMediaStream captures camera and microphone, falling back to a
// single kind when the full request fails.
func (c *Client) CreateMediaStream(ctx context.Context) (core.LocalStream, error) {
	if c.deps.Capturer == nil {
		return nil, errors.New("no media capturer configured")
	}
	var errs []error
	for _, want := range captureFallbacks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stream, err := c.deps.Capturer.RequestUserMedia(ctx, want)
		if err != nil {
			log.Warn().Str("module", "media").Str("constraints", want.String()).Err(err).Msg("capture attempt failed")
			errs = append(errs, fmt.Errorf("%s: %w", want, err))
			continue
		}
		c.media.Set(stream)
		log.Info().
			Str("module", "media").
			Str("constraints", want.String()).
			Int("tracks", len(stream.AllTracks())).
			Msg("local media ready")
		return stream, nil
	}
	return nil, fmt.Errorf("create media stream: %w", errors.Join(errs...))
}

func (c *Client) PlayVideoTrack(sinkID string) {
	c.media.Play(sinkID)
}

// JoinChannel connects to room as user. An existing session is torn down
// first; local media is kept.
func (c *Client) JoinChannel(ctx context.Context, user, room string) error {
	uid, err := domain.ParseUserID(user)
	if err != nil {
		return err
	}
	rn, err := domain.ParseRoomName(room)
	if err != nil {
		return err
	}

	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	c.mu.Lock()
	endpoint := c.serverURL
	if endpoint == "" {
		c.mu.Unlock()
		return ErrNoServerURL
	}
	prev := c.session
	c.session = nil
	c.mu.Unlock()

	if prev != nil {
		log.Info().Str("module", "app.session").Str("room", rn.String()).Msg("rejoin, leaving current room")
		prev.leave()
	}

	s := newSession(sessionDeps{
		Local:   uid,
		Room:    rn,
		Policy:  c.policy,
		Links:   c.deps.Links,
		Bus:     c.bus,
		Stats:   &c.stats,
		Streams: c.media.Stream,
	})
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	if err := s.start(ctx, c.deps.Dialer, endpoint); err != nil {
		c.mu.Lock()
		if c.session == s {
			c.session = nil
		}
		c.mu.Unlock()
		return fmt.Errorf("join %s: %w", rn, err)
	}
	return nil
}

// LeaveChannel tears everything down: links, channel, local media, preview.
// Safe to call at any time.
func (c *Client) LeaveChannel() {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s != nil {
		guard("leave session", s.leave)
	}
	guard("release media", c.media.Release)
}

func (c *Client) ToggleCamera(enabled bool) {
	c.toggle(domain.MediaVideo, enabled)
}

func (c *Client) ToggleAudio(enabled bool) {
	c.toggle(domain.MediaAudio, enabled)
}

func (c *Client) IsCameraOn() bool {
	return c.media.IsOn(domain.MediaVideo)
}

func (c *Client) IsAudioOn() bool {
	return c.media.IsOn(domain.MediaAudio)
}

func (c *Client) On(name events.Name, fn events.Listener) events.ListenerID {
	return c.bus.Subscribe(name, fn)
}

func (c *Client) Off(name events.Name, id events.ListenerID) bool {
	return c.bus.Unsubscribe(name, id)
}

// Events exposes the bus for typed subscriptions with events.Handle.
func (c *Client) Events() *events.Bus {
	return c.bus
}

func (c *Client) Diagnostics() Diagnostics {
	return c.stats.snapshot()
}

func (c *Client) State() State {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return StateIdle
	}
	return s.State()
}

// Peers lists the remote users that currently have a link.
func (c *Client) Peers() []domain.UserID {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.registry.IDs()
}

func (c *Client) toggle(kind domain.MediaKind, enabled bool) {
	if !c.media.SetEnabled(kind, enabled) {
		return
	}
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s != nil {
		s.announce(kind, enabled)
	}
}

func guard(step string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("module", "app.session").Str("step", step).Interface("panic", rec).Msg("teardown step failed")
		}
	}()
	fn()
}
