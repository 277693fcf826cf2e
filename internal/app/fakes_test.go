package app

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/webrtc/v4"
)

type sentSignal struct {
	Target domain.SocketID
	Blob   domain.SignalBlob
}

type fakeConn struct {
	mu           sync.Mutex
	handler      core.SignalHandler
	signals      []sentSignal
	toggles      []domain.MediaToggle
	closed       int
	panicOnClose bool
}

func (c *fakeConn) Serve(h core.SignalHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *fakeConn) SendSignal(target domain.SocketID, blob domain.SignalBlob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, sentSignal{Target: target, Blob: blob})
	return nil
}

func (c *fakeConn) SendMediaToggle(t domain.MediaToggle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toggles = append(c.toggles, t)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed++
	p := c.panicOnClose
	c.mu.Unlock()
	if p {
		panic("close failed")
	}
}

func (c *fakeConn) closedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) h() core.SignalHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

type fakeDialer struct {
	mu    sync.Mutex
	err   error
	conns []*fakeConn
	last  struct {
		endpoint string
		room     domain.RoomName
		user     domain.UserID
	}
}

func (d *fakeDialer) Dial(_ context.Context, endpoint string, room domain.RoomName, user domain.UserID) (core.SignalConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.last.endpoint, d.last.room, d.last.user = endpoint, room, user
	c := &fakeConn{}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) all() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.conns...)
}

func (d *fakeDialer) conn(t interface{ Fatalf(string, ...any) }) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		t.Fatalf("no connection dialed")
	}
	return d.conns[len(d.conns)-1]
}

type fakeLink struct {
	opts      core.LinkOptions
	cb        core.LinkCallbacks
	mu        sync.Mutex
	signals   []domain.SignalBlob
	destroyed int
	panicky   bool
}

func (l *fakeLink) Signal(blob domain.SignalBlob) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals = append(l.signals, blob)
}

func (l *fakeLink) Destroy() {
	l.mu.Lock()
	l.destroyed++
	p := l.panicky
	l.mu.Unlock()
	if p {
		panic("destroy failed")
	}
}

func (l *fakeLink) destroyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.destroyed
}

type fakeFactory struct {
	mu      sync.Mutex
	links   []*fakeLink
	failFor map[domain.UserID]bool
	panicky bool
}

var errLinkRefused = errors.New("link refused")

func (f *fakeFactory) NewLink(opts core.LinkOptions, cb core.LinkCallbacks) (core.PeerLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[opts.Remote.UserID] {
		return nil, errLinkRefused
	}
	l := &fakeLink{opts: opts, cb: cb, panicky: f.panicky}
	f.links = append(f.links, l)
	return l, nil
}

func (f *fakeFactory) all() []*fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeLink(nil), f.links...)
}

func (f *fakeFactory) linksTo(id domain.UserID) []*fakeLink {
	var out []*fakeLink
	for _, l := range f.all() {
		if l.opts.Remote.UserID == id {
			out = append(out, l)
		}
	}
	return out
}

type fakeTrack struct {
	id      string
	kind    domain.MediaKind
	enabled bool
	stopped int
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) Kind() domain.MediaKind    { return t.kind }
func (t *fakeTrack) Enabled() bool             { return t.enabled }
func (t *fakeTrack) SetEnabled(enabled bool)   { t.enabled = enabled }
func (t *fakeTrack) Stop()                     { t.stopped++ }
func (t *fakeTrack) Output() webrtc.TrackLocal { return nil }

type fakeStream struct {
	id     string
	tracks []*fakeTrack
}

func newFakeStream(kinds ...domain.MediaKind) *fakeStream {
	s := &fakeStream{id: "local"}
	for _, k := range kinds {
		s.tracks = append(s.tracks, &fakeTrack{id: string(k), kind: k, enabled: true})
	}
	return s
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks(kind domain.MediaKind) []core.LocalTrack {
	var out []core.LocalTrack
	for _, t := range s.tracks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeStream) AllTracks() []core.LocalTrack {
	out := make([]core.LocalTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

type fakeCapturer struct {
	accept func(domain.MediaConstraints) bool
	asked  []domain.MediaConstraints
}

func (c *fakeCapturer) RequestUserMedia(_ context.Context, want domain.MediaConstraints) (core.LocalStream, error) {
	c.asked = append(c.asked, want)
	if c.accept != nil && !c.accept(want) {
		return nil, errors.New("device busy")
	}
	var kinds []domain.MediaKind
	if want.Video {
		kinds = append(kinds, domain.MediaVideo)
	}
	if want.Audio {
		kinds = append(kinds, domain.MediaAudio)
	}
	return newFakeStream(kinds...), nil
}

type fakeSink struct {
	attached core.LocalStream
	detached int
}

func (s *fakeSink) Attach(stream core.LocalStream) { s.attached = stream }
func (s *fakeSink) Detach()                        { s.attached = nil; s.detached++ }

type fakeSinks map[string]*fakeSink

func (f fakeSinks) Lookup(id string) (core.VideoSink, bool) {
	s, ok := f[id]
	if !ok {
		return nil, false
	}
	return s, true
}

type fakeRemote struct{ id string }

func (r fakeRemote) ID() string                { return r.id }
func (r fakeRemote) Kinds() []domain.MediaKind { return []domain.MediaKind{domain.MediaVideo} }
