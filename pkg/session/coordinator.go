package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lectern-ai/lectern/pkg/logging"
	"github.com/lectern-ai/lectern/pkg/metrics"
	"github.com/lectern-ai/lectern/pkg/redact"
	"github.com/lectern-ai/lectern/pkg/segment"
)

// Natural host lines prepended to the segment's authored resume phrase.
// Selection is keyed off the exchange count so retried continues return
// the same line.
var resumeTransitions = []string{
	"Great question! Now, back to where we were.",
	"Alright, hopefully that clears things up. Let's continue.",
	"Good stuff. Now, moving on...",
	"Thanks for asking! So, as I was saying...",
	"Excellent. With that answered, let's get back on track.",
	"Hope that helps! Now, let's pick up where we left off.",
}

// Near-end tolerance when deciding whether the interrupted segment had
// already finished playing.
const segmentEndTolerance = 1 * time.Second

// PositionListener observes position updates without state changes.
type PositionListener interface {
	OnPosition(sessionID string, sequence int, positionSeconds float64)
}

// ContinueResult is the outcome of a continue signal or silence timeout.
type ContinueResult struct {
	Status       Status
	ResumeLine   string
	NextSequence *int
}

// Coordinator owns all session transitions. Nothing else mutates a
// Session record.
type Coordinator struct {
	store    Store
	segments segment.Store

	fsm       fsm
	posMu     sync.Mutex
	posls     []PositionListener
	subjectMu sync.Mutex
	subjects  map[string][]segment.Segment

	// Serializes transitions per process. Sessions are owned by one
	// coordinator instance for their lifetime.
	mu sync.Mutex

	logger *slog.Logger
	obs    metrics.Observer
	now    func() time.Time
}

func NewCoordinator(st Store, segs segment.Store) *Coordinator {
	return &Coordinator{
		store:    st,
		segments: segs,
		subjects: make(map[string][]segment.Segment),
		logger:   logging.NewComponentLogger(slog.Default(), "session_coordinator"),
		obs:      metrics.NoopObserver{},
		now:      time.Now,
	}
}

// SetLogger configures structured logging for the coordinator.
func (c *Coordinator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logging.NewComponentLogger(logger, "session_coordinator")
	}
}

func (c *Coordinator) SetObserver(obs metrics.Observer) {
	if obs != nil {
		c.obs = obs
	}
}

// AddListener registers a listener for session state changes.
func (c *Coordinator) AddListener(l StateListener) {
	c.fsm.addListener(l)
}

// AddPositionListener registers a listener for position updates.
func (c *Coordinator) AddPositionListener(l PositionListener) {
	c.posMu.Lock()
	c.posls = append(c.posls, l)
	c.posMu.Unlock()
}

// Start creates a session in the playing state. Passing the ID of an
// existing session for the same subject returns that session unchanged,
// making retried start requests idempotent.
func (c *Coordinator) Start(ctx context.Context, sessionID, subjectID string, firstSequence int) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sessionID != "" {
		existing, err := c.store.GetSession(ctx, sessionID)
		if err == nil && existing.SubjectID == subjectID {
			return existing, nil
		}
	}
	segs, err := c.segmentsFor(ctx, subjectID)
	if err != nil {
		return Session{}, err
	}
	if firstSequence == 0 {
		firstSequence = segs[0].Sequence
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := c.now().UTC()
	s := Session{
		ID:              sessionID,
		SubjectID:       subjectID,
		CurrentSequence: firstSequence,
		Status:          StatusPlaying,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := c.store.CreateSession(ctx, s); err != nil {
		return Session{}, err
	}
	c.logger.Info("session started",
		slog.String("session_id", s.ID),
		slog.String("subject_id", subjectID),
		slog.Int("first_sequence", firstSequence))
	return s, nil
}

// UpdatePosition records playback progress. It only moves position
// fields: the segment ref follows whatever known sequence the client
// reports, forward or backward, and the status is untouched. Reporting
// a sequence past the final segment completes the session.
func (c *Coordinator) UpdatePosition(ctx context.Context, id string, sequence int, positionSeconds float64) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.store.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	segs, err := c.segmentsFor(ctx, s.SubjectID)
	if err != nil {
		return Session{}, err
	}
	last := segs[len(segs)-1].Sequence

	ev := EventUpdatePosition
	if sequence > last && s.Status == StatusPlaying {
		ev = EventPlaybackFinished
	}
	next, _, err := Next(id, s.Status, ev)
	if err != nil {
		return Session{}, err
	}
	from := s.Status
	s.Status = next
	if sequence == s.CurrentSequence {
		s.PositionSeconds = positionSeconds
	} else if sequence >= segs[0].Sequence && sequence <= last {
		// A client seek can legitimately move the segment ref backward.
		s.CurrentSequence = sequence
		s.PositionSeconds = positionSeconds
	}
	s.UpdatedAt = c.now().UTC()
	if err := c.store.UpdateSession(ctx, s); err != nil {
		return Session{}, err
	}
	if from != s.Status {
		c.transitioned(id, from, s.Status, ev, "playback finished")
	}
	c.notifyPosition(id, s.CurrentSequence, s.PositionSeconds)
	return s, nil
}

// SkipToSegment jumps the session to the start of a chosen segment,
// forward or backward. Rejected while a Q&A exchange is in progress.
func (c *Coordinator) SkipToSegment(ctx context.Context, id string, sequence int) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.store.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if _, err := c.segmentAt(ctx, s.SubjectID, sequence); err != nil {
		return Session{}, err
	}
	next, _, err := Next(id, s.Status, EventSkipToSegment)
	if err != nil {
		return Session{}, err
	}
	s.Status = next
	s.CurrentSequence = sequence
	s.PositionSeconds = 0
	s.UpdatedAt = c.now().UTC()
	if err := c.store.UpdateSession(ctx, s); err != nil {
		return Session{}, err
	}
	c.logger.Info("segment skip",
		slog.String("session_id", id),
		slog.Int("sequence", sequence))
	c.obs.RecordEvent(metrics.MetricsEvent{
		Name: "segment_skip",
		Time: c.now(),
		Tags: map[string]string{"session_id": id},
	})
	c.notifyPosition(id, s.CurrentSequence, 0)
	return s, nil
}

// RaiseHand records interrupt intent: playing -> paused. The client
// keeps the in-flight audio running until the segment ends naturally;
// the server only tracks the state. Returns the segment's authored
// transition phrase for the client to play before opening input.
func (c *Coordinator) RaiseHand(ctx context.Context, id string) (Session, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.store.GetSession(ctx, id)
	if err != nil {
		return Session{}, "", err
	}
	seg, err := c.segmentAt(ctx, s.SubjectID, s.CurrentSequence)
	if err != nil {
		return Session{}, "", err
	}
	if !seg.Interruptible && s.Status == StatusPlaying {
		return s, "", &NotInterruptibleError{SessionID: id, Sequence: seg.Sequence}
	}
	next, noop, err := Next(id, s.Status, EventRaiseHand)
	if err != nil {
		return Session{}, "", err
	}
	if noop {
		return s, seg.TransitionPhrase, nil
	}
	from := s.Status
	s.Status = next
	s.UpdatedAt = c.now().UTC()
	if err := c.store.UpdateSession(ctx, s); err != nil {
		return Session{}, "", err
	}
	c.transitioned(id, from, next, EventRaiseHand, "listener raised hand")
	return s, seg.TransitionPhrase, nil
}

// SubmitQuestion opens an exchange: paused -> qa_active, or a follow-up
// while qa_active. At most one open exchange per session; a retried
// identical question returns the already-open exchange.
func (c *Coordinator) SubmitQuestion(ctx context.Context, id, question string) (Exchange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.store.GetSession(ctx, id)
	if err != nil {
		return Exchange{}, err
	}
	next, _, err := Next(id, s.Status, EventSubmitQuestion)
	if err != nil {
		return Exchange{}, err
	}
	if open, ok, err := c.openExchange(ctx, id); err != nil {
		return Exchange{}, err
	} else if ok {
		if open.Question == question {
			return open, nil
		}
		return Exchange{}, &ConflictError{SessionID: id, State: s.Status, Event: EventSubmitQuestion}
	}
	ex := Exchange{
		ID:        uuid.NewString(),
		SessionID: id,
		Sequence:  s.CurrentSequence,
		Question:  question,
		CreatedAt: c.now().UTC(),
	}
	if err := c.store.AppendExchange(ctx, ex); err != nil {
		return Exchange{}, err
	}
	from := s.Status
	if from != next {
		s.Status = next
		s.UpdatedAt = c.now().UTC()
		if err := c.store.UpdateSession(ctx, s); err != nil {
			return Exchange{}, err
		}
		c.transitioned(id, from, next, EventSubmitQuestion, "question submitted")
	}
	c.obs.RecordEvent(metrics.MetricsEvent{
		Name: "qa_exchange_created",
		Time: c.now(),
		Tags: map[string]string{"session_id": id},
	})
	c.logger.Info("question submitted",
		slog.String("session_id", id),
		slog.String("question", redact.Question(question)))
	return ex, nil
}

// ResolveExchange marks the open exchange answered. The session stays
// qa_active, idling for a follow-up or continue signal.
func (c *Coordinator) ResolveExchange(ctx context.Context, id, exchangeID, ack, detail string, audioRefs []string) (Exchange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.store.GetSession(ctx, id)
	if err != nil {
		return Exchange{}, err
	}
	if _, _, err := Next(id, s.Status, EventResolveExchange); err != nil {
		return Exchange{}, err
	}
	list, err := c.store.ListExchanges(ctx, id)
	if err != nil {
		return Exchange{}, err
	}
	for _, ex := range list {
		if ex.ID != exchangeID {
			continue
		}
		if ex.Complete {
			return ex, nil
		}
		ex.Ack = ack
		ex.Detail = detail
		ex.AudioRefs = audioRefs
		ex.Complete = true
		if err := c.store.UpdateExchange(ctx, ex); err != nil {
			return Exchange{}, err
		}
		return ex, nil
	}
	return Exchange{}, ErrNotFound
}

// Continue resumes playback after Q&A. The segment ref advances to the
// next sequence only when the interrupted segment had already finished
// playing; an interruption mid-segment resumes the same segment at the
// captured position. Advancing past the final segment completes the
// session.
func (c *Coordinator) Continue(ctx context.Context, id string) (ContinueResult, error) {
	return c.resume(ctx, id, EventContinue, "continue signal")
}

// SilenceTimeout resumes playback after the configured silence window;
// identical in effect to an explicit continue signal.
func (c *Coordinator) SilenceTimeout(ctx context.Context, id string) (ContinueResult, error) {
	res, err := c.resume(ctx, id, EventSilenceTimeout, "silence timeout")
	if err == nil {
		c.obs.RecordEvent(metrics.MetricsEvent{
			Name: "silence_timeout_resume",
			Time: c.now(),
			Tags: map[string]string{"session_id": id},
		})
	}
	return res, err
}

// Exchanges returns the session's Q&A history in creation order.
func (c *Coordinator) Exchanges(ctx context.Context, id string) ([]Exchange, error) {
	return c.store.ListExchanges(ctx, id)
}

// Get returns the current session record.
func (c *Coordinator) Get(ctx context.Context, id string) (Session, error) {
	return c.store.GetSession(ctx, id)
}

func (c *Coordinator) resume(ctx context.Context, id string, ev Event, reason string) (ContinueResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.store.GetSession(ctx, id)
	if err != nil {
		return ContinueResult{}, err
	}
	next, noop, err := Next(id, s.Status, ev)
	if err != nil {
		return ContinueResult{}, err
	}
	if noop {
		seq := s.CurrentSequence
		return ContinueResult{Status: s.Status, NextSequence: &seq}, nil
	}

	seg, err := c.segmentAt(ctx, s.SubjectID, s.CurrentSequence)
	if err != nil {
		return ContinueResult{}, err
	}
	segs, err := c.segmentsFor(ctx, s.SubjectID)
	if err != nil {
		return ContinueResult{}, err
	}
	last := segs[len(segs)-1].Sequence

	finished := s.PositionSeconds >= (seg.Duration() - segmentEndTolerance).Seconds()
	from := s.Status
	var nextSeq *int
	switch {
	case finished && s.CurrentSequence >= last:
		s.Status = StatusCompleted
	case finished:
		s.Status = next
		s.CurrentSequence++
		s.PositionSeconds = 0
		seq := s.CurrentSequence
		nextSeq = &seq
	default:
		s.Status = next
		seq := s.CurrentSequence
		nextSeq = &seq
	}
	s.UpdatedAt = c.now().UTC()
	if err := c.store.UpdateSession(ctx, s); err != nil {
		return ContinueResult{}, err
	}
	c.transitioned(id, from, s.Status, ev, reason)

	resumeLine := seg.ResumePhrase
	if from == StatusQAActive {
		list, _ := c.store.ListExchanges(ctx, id)
		resumeLine = resumeTransitions[len(list)%len(resumeTransitions)] + " " + seg.ResumePhrase
	}
	return ContinueResult{Status: s.Status, ResumeLine: resumeLine, NextSequence: nextSeq}, nil
}

func (c *Coordinator) transitioned(id string, from, to Status, ev Event, reason string) {
	c.logger.Info("session transition",
		slog.String("session_id", id),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("event", string(ev)))
	c.obs.RecordEvent(metrics.MetricsEvent{
		Name:  "session_transition",
		Time:  c.now(),
		Tags:  map[string]string{"session_id": id, "from": from.String(), "to": to.String(), "event": string(ev)},
		Value: 1,
	})
	c.fsm.notify(StateChange{
		SessionID: id,
		FromState: from,
		ToState:   to,
		Event:     ev,
		Reason:    reason,
		Timestamp: c.now(),
	})
}

func (c *Coordinator) notifyPosition(id string, seq int, pos float64) {
	c.posMu.Lock()
	listeners := make([]PositionListener, len(c.posls))
	copy(listeners, c.posls)
	c.posMu.Unlock()
	for _, l := range listeners {
		l.OnPosition(id, seq, pos)
	}
}

func (c *Coordinator) openExchange(ctx context.Context, id string) (Exchange, bool, error) {
	list, err := c.store.ListExchanges(ctx, id)
	if err != nil {
		return Exchange{}, false, err
	}
	for _, ex := range list {
		if !ex.Complete {
			return ex, true, nil
		}
	}
	return Exchange{}, false, nil
}

func (c *Coordinator) segmentsFor(ctx context.Context, subjectID string) ([]segment.Segment, error) {
	c.subjectMu.Lock()
	defer c.subjectMu.Unlock()
	if segs, ok := c.subjects[subjectID]; ok {
		return segs, nil
	}
	segs, err := c.segments.ListSegments(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	c.subjects[subjectID] = segs
	return segs, nil
}

func (c *Coordinator) segmentAt(ctx context.Context, subjectID string, sequence int) (segment.Segment, error) {
	segs, err := c.segmentsFor(ctx, subjectID)
	if err != nil {
		return segment.Segment{}, err
	}
	for _, seg := range segs {
		if seg.Sequence == sequence {
			return seg, nil
		}
	}
	return segment.Segment{}, ErrNotFound
}
