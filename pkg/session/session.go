// Package session implements the server-side coordinator: a finite state
// machine tracking one listener's progress through one subject's segments.
package session

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a listening session.
type Status int

const (
	StatusPlaying Status = iota
	StatusPaused
	StatusQAActive
	StatusCompleted
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusQAActive:
		return "qa_active"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Event is a signal applied to the session state machine.
type Event string

const (
	EventUpdatePosition   Event = "update_position"
	EventSkipToSegment    Event = "skip_to_segment"
	EventRaiseHand        Event = "raise_hand"
	EventSubmitQuestion   Event = "submit_question"
	EventResolveExchange  Event = "resolve_exchange"
	EventContinue         Event = "continue"
	EventSilenceTimeout   Event = "silence_timeout"
	EventPlaybackFinished Event = "playback_finished"
)

// Session is the single source of truth for a listener's position.
// It is mutated only through coordinator transitions.
type Session struct {
	ID              string    `json:"id"`
	SubjectID       string    `json:"subject_id"`
	CurrentSequence int       `json:"current_sequence"`
	PositionSeconds float64   `json:"position_seconds"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Exchange is one question-and-answer round trip. Append-only.
type Exchange struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Sequence  int       `json:"sequence"`
	Question  string    `json:"question"`
	Ack       string    `json:"ack"`
	Detail    string    `json:"detail"`
	AudioRefs []string  `json:"audio_refs,omitempty"`
	Complete  bool      `json:"complete"`
	CreatedAt time.Time `json:"created_at"`
}

// ConflictError reports an invalid (state, event) combination.
// It is surfaced, never retried: it indicates an ordering bug, not a
// transient failure.
type ConflictError struct {
	SessionID string
	State     Status
	Event     Event
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %s: event %s not allowed in state %s", e.SessionID, e.Event, e.State)
}

// SessionClosedError reports an operation on a terminal session.
type SessionClosedError struct {
	SessionID string
}

func (e *SessionClosedError) Error() string {
	return fmt.Sprintf("session %s is completed", e.SessionID)
}

// NotInterruptibleError reports a raise-hand against a segment that
// cannot be interrupted.
type NotInterruptibleError struct {
	SessionID string
	Sequence  int
}

func (e *NotInterruptibleError) Error() string {
	return fmt.Sprintf("session %s: segment %d is not interruptible", e.SessionID, e.Sequence)
}
