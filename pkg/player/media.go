// Package player implements the gapless playback engine: at most two
// live audio buffers, a global timeline, and look-ahead prefetching
// across an ordered segment sequence.
package player

import "time"

// EventKind identifies a media pipeline event.
type EventKind int

const (
	EventTimeUpdate EventKind = iota
	EventMetadataLoaded
	EventEnded
	EventError
)

// String returns the string representation of an EventKind.
func (k EventKind) String() string {
	switch k {
	case EventTimeUpdate:
		return "timeupdate"
	case EventMetadataLoaded:
		return "metadata"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted by the external media pipeline. Playback is observed
// through these events rather than polled.
type Event struct {
	Kind     EventKind
	Position time.Duration
	Duration time.Duration
	Err      error
}

// Pipeline abstracts one playback element of the external media stack.
// Each buffer owns exactly one pipeline for its lifetime.
type Pipeline interface {
	SetSource(data []byte) error
	Play() error
	Pause() error
	Seek(offset time.Duration) error
	Position() time.Duration
	Events() <-chan Event
	Close() error
}

// PipelineFactory builds one pipeline per buffer.
type PipelineFactory func() Pipeline
