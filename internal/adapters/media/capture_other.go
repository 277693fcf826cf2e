//go:build !linux

package media

import (
	"context"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
)

// Capturer has no device drivers on this platform; clients join receive-only.
type Capturer struct{}

func NewCapturer() *Capturer { return &Capturer{} }

func (*Capturer) RequestUserMedia(context.Context, domain.MediaConstraints) (core.LocalStream, error) {
	return nil, ErrCaptureUnavailable
}
