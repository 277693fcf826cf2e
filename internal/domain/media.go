package domain

import "encoding/json"

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

// SignalBlob is an opaque negotiation payload. It is relayed verbatim.
type SignalBlob = json.RawMessage

// MediaToggle announces that a participant enabled or disabled a kind of media.
type MediaToggle struct {
	UserID    UserID    `json:"userId"`
	MediaType MediaKind `json:"mediaType"`
	Enabled   bool      `json:"enabled"`
}

// MediaConstraints selects which kinds a capture request asks for.
type MediaConstraints struct {
	Video bool
	Audio bool
}

func (c MediaConstraints) String() string {
	switch {
	case c.Video && c.Audio:
		return "video+audio"
	case c.Video:
		return "video-only"
	case c.Audio:
		return "audio-only"
	default:
		return "none"
	}
}
