// Package events is the in-process publish/subscribe surface that decouples
// session transitions from application reactions.
package events

import (
	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
)

type Name string

const (
	NameUserPublished       Name = "user-published"
	NameUserUnpublished     Name = "user-unpublished"
	NameUserMediaToggled    Name = "user-media-toggled"
	NameChannelDisconnected Name = "channel-disconnected"
)

// Event is the tagged union of everything the bus carries.
type Event interface {
	Name() Name
}

// User identifies the remote participant an event is about.
// Stream is nil for unpublish events.
type User struct {
	UUID   domain.UserID
	Stream core.RemoteStream
}

type UserPublished struct {
	User      User
	MediaType domain.MediaKind
}

type UserUnpublished struct {
	User      User
	MediaType domain.MediaKind
}

type UserMediaToggled struct {
	UserID    domain.UserID
	MediaType domain.MediaKind
	Enabled   bool
}

// ChannelDisconnected reports that the relay connection dropped.
// Nothing reconnects automatically.
type ChannelDisconnected struct {
	Room domain.RoomName
	Err  error
}

func (UserPublished) Name() Name       { return NameUserPublished }
func (UserUnpublished) Name() Name     { return NameUserUnpublished }
func (UserMediaToggled) Name() Name    { return NameUserMediaToggled }
func (ChannelDisconnected) Name() Name { return NameChannelDisconnected }
