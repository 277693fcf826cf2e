package media

import "sync/atomic"

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateStopped
)

func (s TrackState) String() string {
	switch s {
	case TrackStateOk:
		return "ok"
	case TrackStateMuted:
		return "muted"
	case TrackStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// trackState moves ok <-> muted until it reaches stopped, which is final.
type trackState struct {
	v atomic.Int32
}

func (s *trackState) Load() TrackState {
	return TrackState(s.v.Load())
}

// set stores next unless the track is already stopped.
func (s *trackState) set(next TrackState) bool {
	for {
		cur := s.v.Load()
		if TrackState(cur) == TrackStateStopped {
			return false
		}
		if s.v.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}
