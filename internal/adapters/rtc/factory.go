// Package rtc implements peer links on top of pion/webrtc.
package rtc

import (
	"fmt"
	"time"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const DefaultSTUN = "stun:stun.l.google.com:19302"

type Options struct {
	ICEServers []string
	// Trickle sends candidates as they are found instead of waiting for
	// gathering to finish before emitting the description.
	Trickle             bool
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepaliveInterval   time.Duration
}

func DefaultOptions() Options {
	return Options{
		ICEServers:          []string{DefaultSTUN},
		DisconnectedTimeout: 5 * time.Second,
		FailedTimeout:       25 * time.Second,
		KeepaliveInterval:   2 * time.Second,
	}
}

// Factory builds links that share one configured pion API.
// It implements core.PeerLinkFactory.
type Factory struct {
	api     *webrtc.API
	config  webrtc.Configuration
	trickle bool
}

func NewFactory(opts Options) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if opts.DisconnectedTimeout > 0 && opts.FailedTimeout > 0 {
		se.SetICETimeouts(opts.DisconnectedTimeout, opts.FailedTimeout, opts.KeepaliveInterval)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	cfg := webrtc.Configuration{}
	if len(opts.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}
	return &Factory{api: api, config: cfg, trickle: opts.Trickle}, nil
}

func (f *Factory) NewLink(opts core.LinkOptions, cb core.LinkCallbacks) (core.PeerLink, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	l := newLink(pc, opts, cb, f.trickle)
	if err := l.attachMedia(opts.LocalStream); err != nil {
		_ = pc.Close()
		return nil, err
	}
	l.start()
	return l, nil
}

// attachMedia adds the local tracks, and a recvonly transceiver for any
// kind the local stream lacks so the remote side can still send it.
func (l *Link) attachMedia(stream core.LocalStream) error {
	for _, kind := range []domain.MediaKind{domain.MediaVideo, domain.MediaAudio} {
		added := 0
		if stream != nil {
			for _, t := range stream.Tracks(kind) {
				out := t.Output()
				if out == nil {
					continue
				}
				sender, err := l.pc.AddTrack(out)
				if err != nil {
					return fmt.Errorf("add %s track: %w", kind, err)
				}
				go drainRTCP(sender)
				added++
			}
		}
		if added > 0 {
			continue
		}
		if _, err := l.pc.AddTransceiverFromKind(codecType(kind), webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add recvonly %s transceiver: %w", kind, err)
		}
		log.Debug().Str("module", "webrtc").Str("peer", l.remote.UserID.String()).Str("kind", string(kind)).Msg("receive-only")
	}
	return nil
}

// drainRTCP reads incoming RTCP so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.MediaAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

func mediaKind(t webrtc.RTPCodecType) domain.MediaKind {
	if t == webrtc.RTPCodecTypeAudio {
		return domain.MediaAudio
	}
	return domain.MediaVideo
}
