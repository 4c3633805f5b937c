package session

import (
	"sync"
	"time"
)

// StateChange represents a session state transition event.
type StateChange struct {
	SessionID string
	FromState Status
	ToState   Status
	Event     Event
	Reason    string
	Timestamp time.Time
}

// StateListener observes session state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// transitions defines every (state, event) pair with a defined outcome.
// The transition function is total: a pair absent here is rejected with
// ConflictError, except when the session already sits in the event's
// result state, which is treated as an idempotent retry and ignored.
var transitions = map[Status]map[Event]Status{
	StatusPlaying: {
		EventUpdatePosition:   StatusPlaying,
		EventSkipToSegment:    StatusPlaying,
		EventRaiseHand:        StatusPaused,
		EventPlaybackFinished: StatusCompleted,
	},
	StatusPaused: {
		EventUpdatePosition: StatusPaused,
		EventSkipToSegment:  StatusPaused,
		EventSubmitQuestion: StatusQAActive,
		// A listener who raised a hand but only says "continue" resumes
		// without a question.
		EventContinue:       StatusPlaying,
		EventSilenceTimeout: StatusPlaying,
	},
	StatusQAActive: {
		EventSubmitQuestion:  StatusQAActive,
		EventResolveExchange: StatusQAActive,
		EventContinue:        StatusPlaying,
		EventSilenceTimeout:  StatusPlaying,
	},
	StatusCompleted: {},
}

// resultStates caches, per event, the set of states the event can land in.
var resultStates = func() map[Event]map[Status]bool {
	out := make(map[Event]map[Status]bool)
	for _, evs := range transitions {
		for ev, to := range evs {
			if out[ev] == nil {
				out[ev] = make(map[Status]bool)
			}
			out[ev][to] = true
		}
	}
	return out
}()

// Next resolves the (state, event) pair. It returns the resulting state,
// whether the event is an idempotent no-op, and an error for rejected
// combinations. The input state is never mutated on error.
func Next(sessionID string, current Status, ev Event) (next Status, noop bool, err error) {
	if current == StatusCompleted {
		return current, false, &SessionClosedError{SessionID: sessionID}
	}
	if to, ok := transitions[current][ev]; ok {
		return to, to == current && ev != EventSubmitQuestion && ev != EventResolveExchange &&
			ev != EventUpdatePosition && ev != EventSkipToSegment, nil
	}
	// Re-submitting a signal while already in its result state is a
	// no-op, not an error (idempotent retry safety).
	if resultStates[ev][current] {
		return current, true, nil
	}
	return current, false, &ConflictError{SessionID: sessionID, State: current, Event: ev}
}

// fsm guards a session's status and fans state changes out to listeners.
type fsm struct {
	mu        sync.Mutex
	listeners []StateListener
}

func (f *fsm) addListener(l StateListener) {
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	f.mu.Unlock()
}

func (f *fsm) notify(change StateChange) {
	f.mu.Lock()
	listeners := make([]StateListener, len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.Unlock()
	for _, l := range listeners {
		l.OnStateChange(change)
	}
}
