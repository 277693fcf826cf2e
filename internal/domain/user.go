// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
)

const (
	MaxUserIDLen   = 64
	MaxRoomNameLen = 64
)

var (
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrRoomNameTooLong = errors.New("room name too long")
	ErrRoomNameEmpty   = errors.New("room name empty")
)

// UserID is the application supplied participant identity.
// It is stable for the lifetime of one join.
type UserID string

// SocketID is assigned by the signaling relay per connection.
type SocketID string

// ParseUserID avoids ad-hoc conversions of raw input in adapters.
func ParseUserID(raw string) (UserID, error) {
	if len(raw) == 0 {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

func (id UserID) String() string { return string(id) }

func (id SocketID) String() string { return string(id) }
