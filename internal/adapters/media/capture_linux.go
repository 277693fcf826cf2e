//go:build linux

package media

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const rtpMTU = 1200

// Capturer opens camera and microphone through V4L2 and malgo.
type Capturer struct {
	VideoBitRate int
	MaxWidth     int
	MaxHeight    int
}

func NewCapturer() *Capturer {
	return &Capturer{VideoBitRate: 1_500_000, MaxWidth: 640, MaxHeight: 480}
}

func (c *Capturer) RequestUserMedia(ctx context.Context, want domain.MediaConstraints) (core.LocalStream, error) {
	if !want.Video && !want.Audio {
		return nil, fmt.Errorf("%w: nothing requested", ErrCaptureUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	selector, err := c.codecSelector()
	if err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: selector}
	if want.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// Raw formats only; MJPEG nodes can feed the encoder broken frames.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: c.MaxWidth}
			mc.Height = prop.IntRanged{Max: c.MaxHeight}
		}
	}
	if want.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("get user media (%s): %w", want, err)
	}

	streamID := uuid.NewString()
	var tracks []core.LocalTrack
	for _, t := range ms.GetTracks() {
		gated, err := gate(t, streamID)
		if err != nil {
			for _, g := range tracks {
				g.Stop()
			}
			for _, rest := range ms.GetTracks() {
				_ = rest.Close()
			}
			return nil, err
		}
		tracks = append(tracks, gated)
	}

	log.Info().Str("module", "media").Str("constraints", want.String()).Int("tracks", len(tracks)).Msg("local media captured")
	return NewStream(streamID, tracks...), nil
}

func (c *Capturer) codecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = c.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

func gate(t mediadevices.Track, streamID string) (*GatedTrack, error) {
	kind := domain.MediaAudio
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if t.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.MediaVideo
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}

	reader, err := t.NewRTPReader(capability.MimeType, rand.Uint32(), rtpMTU)
	if err != nil {
		return nil, fmt.Errorf("%s encoder: %w", kind, err)
	}
	out, err := webrtc.NewTrackLocalStaticRTP(capability, t.ID(), streamID)
	if err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("%s output: %w", kind, err)
	}

	t.OnEnded(func(err error) {
		if err != nil {
			log.Warn().Str("module", "media").Str("kind", string(kind)).Err(err).Msg("local track ended")
		}
	})

	return NewGatedTrack(kind, reader, out, func() {
		if err := t.Close(); err != nil {
			log.Warn().Str("module", "media").Err(err).Msg("device close")
		}
	}), nil
}
