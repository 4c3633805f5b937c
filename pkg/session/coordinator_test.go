package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lectern-ai/lectern/pkg/segment"
	"github.com/lectern-ai/lectern/pkg/session"
	"github.com/lectern-ai/lectern/pkg/store"
)

func newTestCoordinator(t *testing.T) (*session.Coordinator, string) {
	t.Helper()
	segs := []segment.Segment{
		{ID: "s1", Sequence: 1, EstimatedDuration: 60 * time.Second, TransitionPhrase: "Any questions?", ResumePhrase: "Let's continue.", Interruptible: true},
		{ID: "s2", Sequence: 2, EstimatedDuration: 60 * time.Second, TransitionPhrase: "Go ahead.", ResumePhrase: "Back to it.", Interruptible: true},
		{ID: "s3", Sequence: 3, EstimatedDuration: 60 * time.Second, TransitionPhrase: "Yes?", ResumePhrase: "Moving on.", Interruptible: true},
	}
	segStore := segment.NewMemoryStore()
	segStore.PutSubject("subj", segs, nil)
	coord := session.NewCoordinator(store.NewMemory(), segStore)
	s, err := coord.Start(context.Background(), "", "subj", 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return coord, s.ID
}

func TestScenarioAUninterruptedCompletion(t *testing.T) {
	coord, id := newTestCoordinator(t)
	ctx := context.Background()

	for _, seq := range []int{2, 3} {
		s, err := coord.UpdatePosition(ctx, id, seq, 0)
		if err != nil {
			t.Fatalf("advance to %d: %v", seq, err)
		}
		if s.Status != session.StatusPlaying || s.CurrentSequence != seq {
			t.Fatalf("after advance: status=%s seq=%d", s.Status, s.CurrentSequence)
		}
	}
	s, err := coord.UpdatePosition(ctx, id, 4, 0)
	if err != nil {
		t.Fatalf("final advance: %v", err)
	}
	if s.Status != session.StatusCompleted {
		t.Fatalf("expected completed after three advances, got %s", s.Status)
	}
	var closed *session.SessionClosedError
	if _, _, err := coord.RaiseHand(ctx, id); !errors.As(err, &closed) {
		t.Fatalf("expected SessionClosedError after completion, got %v", err)
	}
}

func TestScenarioBResumeSameSegmentAtTimestamp(t *testing.T) {
	coord, id := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := coord.UpdatePosition(ctx, id, 2, 30); err != nil {
		t.Fatalf("position: %v", err)
	}
	s, phrase, err := coord.RaiseHand(ctx, id)
	if err != nil {
		t.Fatalf("raise hand: %v", err)
	}
	if s.Status != session.StatusPaused || phrase != "Go ahead." {
		t.Fatalf("raise hand: status=%s phrase=%q", s.Status, phrase)
	}
	ex, err := coord.SubmitQuestion(ctx, id, "what is entropy?")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := coord.ResolveExchange(ctx, id, ex.ID, "Great question.", "Entropy measures disorder.", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	res, err := coord.Continue(ctx, id)
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if res.Status != session.StatusPlaying {
		t.Fatalf("expected playing after continue, got %s", res.Status)
	}
	if res.NextSequence == nil || *res.NextSequence != 2 {
		t.Fatalf("expected resume on segment 2, got %v", res.NextSequence)
	}
	got, _ := coord.Get(ctx, id)
	if got.PositionSeconds != 30 {
		t.Fatalf("expected pre-interrupt position 30s preserved, got %v", got.PositionSeconds)
	}
}

func TestScenarioCFollowUpQuestions(t *testing.T) {
	coord, id := newTestCoordinator(t)
	ctx := context.Background()

	if _, _, err := coord.RaiseHand(ctx, id); err != nil {
		t.Fatalf("raise hand: %v", err)
	}
	first, err := coord.SubmitQuestion(ctx, id, "why?")
	if err != nil {
		t.Fatalf("first question: %v", err)
	}

	// Second distinct question while the first is still open conflicts.
	var conflict *session.ConflictError
	if _, err := coord.SubmitQuestion(ctx, id, "and how?"); !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError for second open question, got %v", err)
	}
	// A retried identical submission returns the open exchange.
	dup, err := coord.SubmitQuestion(ctx, id, "why?")
	if err != nil || dup.ID != first.ID {
		t.Fatalf("expected idempotent resubmission, got %v %v", dup.ID, err)
	}

	if _, err := coord.ResolveExchange(ctx, id, first.ID, "ack", "detail", nil); err != nil {
		t.Fatalf("resolve first: %v", err)
	}
	second, err := coord.SubmitQuestion(ctx, id, "and how?")
	if err != nil {
		t.Fatalf("follow-up question: %v", err)
	}
	if _, err := coord.ResolveExchange(ctx, id, second.ID, "ack", "detail", nil); err != nil {
		t.Fatalf("resolve second: %v", err)
	}
	got, _ := coord.Get(ctx, id)
	if got.Status != session.StatusQAActive {
		t.Fatalf("expected qa_active until continue, got %s", got.Status)
	}
	list, _ := coord.Exchanges(ctx, id)
	if len(list) != 2 {
		t.Fatalf("expected 2 exchange records, got %d", len(list))
	}
	if res, err := coord.Continue(ctx, id); err != nil || res.Status != session.StatusPlaying {
		t.Fatalf("continue after follow-ups: %v %v", res.Status, err)
	}
}

func TestScenarioDSilenceTimeoutEqualsContinue(t *testing.T) {
	coord, id := newTestCoordinator(t)
	ctx := context.Background()

	if _, _, err := coord.RaiseHand(ctx, id); err != nil {
		t.Fatalf("raise hand: %v", err)
	}
	ex, err := coord.SubmitQuestion(ctx, id, "what now?")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := coord.ResolveExchange(ctx, id, ex.ID, "ack", "detail", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	res, err := coord.SilenceTimeout(ctx, id)
	if err != nil {
		t.Fatalf("silence timeout: %v", err)
	}
	if res.Status != session.StatusPlaying {
		t.Fatalf("expected playing after silence timeout, got %s", res.Status)
	}
	// An explicit continue retried afterwards is a no-op.
	again, err := coord.Continue(ctx, id)
	if err != nil {
		t.Fatalf("retried continue: %v", err)
	}
	if again.Status != session.StatusPlaying || again.NextSequence == nil || *again.NextSequence != 1 {
		t.Fatalf("expected no-op continue on same segment, got %v %v", again.Status, again.NextSequence)
	}
}

func TestContinueAdvancesWhenSegmentFinished(t *testing.T) {
	coord, id := newTestCoordinator(t)
	ctx := context.Background()

	// Interrupted at the very end of segment 1.
	if _, err := coord.UpdatePosition(ctx, id, 1, 60); err != nil {
		t.Fatalf("position: %v", err)
	}
	if _, _, err := coord.RaiseHand(ctx, id); err != nil {
		t.Fatalf("raise hand: %v", err)
	}
	ex, _ := coord.SubmitQuestion(ctx, id, "quick one?")
	if _, err := coord.ResolveExchange(ctx, id, ex.ID, "ack", "detail", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	res, err := coord.Continue(ctx, id)
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if res.NextSequence == nil || *res.NextSequence != 2 {
		t.Fatalf("expected advance to segment 2, got %v", res.NextSequence)
	}
	if res.ResumeLine == "" {
		t.Fatalf("expected resume line")
	}
}

func TestContinueCompletesOnLastSegment(t *testing.T) {
	coord, id := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := coord.UpdatePosition(ctx, id, 3, 60); err != nil {
		t.Fatalf("position: %v", err)
	}
	if _, _, err := coord.RaiseHand(ctx, id); err != nil {
		t.Fatalf("raise hand: %v", err)
	}
	ex, _ := coord.SubmitQuestion(ctx, id, "final question?")
	if _, err := coord.ResolveExchange(ctx, id, ex.ID, "ack", "detail", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	res, err := coord.Continue(ctx, id)
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if res.Status != session.StatusCompleted || res.NextSequence != nil {
		t.Fatalf("expected completion on last segment, got %s %v", res.Status, res.NextSequence)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	coord, id := newTestCoordinator(t)
	again, err := coord.Start(context.Background(), id, "subj", 0)
	if err != nil {
		t.Fatalf("retried start: %v", err)
	}
	if again.ID != id {
		t.Fatalf("expected same session on retried start")
	}
}

func TestRaiseHandNotInterruptible(t *testing.T) {
	segs := []segment.Segment{
		{ID: "s1", Sequence: 1, EstimatedDuration: 30 * time.Second, Interruptible: false},
	}
	segStore := segment.NewMemoryStore()
	segStore.PutSubject("subj", segs, nil)
	coord := session.NewCoordinator(store.NewMemory(), segStore)
	s, err := coord.Start(context.Background(), "", "subj", 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var notOK *session.NotInterruptibleError
	if _, _, err := coord.RaiseHand(context.Background(), s.ID); !errors.As(err, &notOK) {
		t.Fatalf("expected NotInterruptibleError, got %v", err)
	}
}

func TestQAActiveNeverAutoAdvances(t *testing.T) {
	coord, id := newTestCoordinator(t)
	ctx := context.Background()

	if _, _, err := coord.RaiseHand(ctx, id); err != nil {
		t.Fatalf("raise hand: %v", err)
	}
	if _, err := coord.SubmitQuestion(ctx, id, "hold on, what?"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	var conflict *session.ConflictError
	if _, err := coord.UpdatePosition(ctx, id, 2, 0); !errors.As(err, &conflict) {
		t.Fatalf("expected position update rejected in qa_active, got %v", err)
	}
	got, _ := coord.Get(ctx, id)
	if got.CurrentSequence != 1 {
		t.Fatalf("segment advanced during qa_active")
	}
}

func TestPositionFollowsBackwardSeek(t *testing.T) {
	coord, id := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := coord.UpdatePosition(ctx, id, 2, 40); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// The client sought back into segment 1; the record follows.
	s, err := coord.UpdatePosition(ctx, id, 1, 5)
	if err != nil {
		t.Fatalf("backward report: %v", err)
	}
	if s.CurrentSequence != 1 || s.PositionSeconds != 5 {
		t.Fatalf("backward seek ignored: seq=%d pos=%v", s.CurrentSequence, s.PositionSeconds)
	}
	// An unknown sequence still leaves the record untouched.
	s, err = coord.UpdatePosition(ctx, id, 0, 99)
	if err != nil {
		t.Fatalf("out-of-range report: %v", err)
	}
	if s.CurrentSequence != 1 || s.PositionSeconds != 5 {
		t.Fatalf("out-of-range report mutated session: %+v", s)
	}
}

func TestSkipToSegment(t *testing.T) {
	coord, id := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := coord.UpdatePosition(ctx, id, 2, 40); err != nil {
		t.Fatalf("advance: %v", err)
	}
	s, err := coord.SkipToSegment(ctx, id, 1)
	if err != nil {
		t.Fatalf("skip back: %v", err)
	}
	if s.Status != session.StatusPlaying || s.CurrentSequence != 1 || s.PositionSeconds != 0 {
		t.Fatalf("expected playing at start of segment 1, got %+v", s)
	}
	s, err = coord.SkipToSegment(ctx, id, 3)
	if err != nil {
		t.Fatalf("skip forward: %v", err)
	}
	if s.CurrentSequence != 3 {
		t.Fatalf("expected segment 3, got %d", s.CurrentSequence)
	}
	if _, err := coord.SkipToSegment(ctx, id, 9); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown segment, got %v", err)
	}
}

func TestSkipRejectedDuringQA(t *testing.T) {
	coord, id := newTestCoordinator(t)
	ctx := context.Background()

	if _, _, err := coord.RaiseHand(ctx, id); err != nil {
		t.Fatalf("raise hand: %v", err)
	}
	// Skipping while merely paused is fine.
	if _, err := coord.SkipToSegment(ctx, id, 2); err != nil {
		t.Fatalf("skip while paused: %v", err)
	}
	if _, err := coord.SubmitQuestion(ctx, id, "wait, what?"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	var conflict *session.ConflictError
	if _, err := coord.SkipToSegment(ctx, id, 1); !errors.As(err, &conflict) {
		t.Fatalf("expected skip rejected in qa_active, got %v", err)
	}
}

type captureListener struct {
	changes []session.StateChange
}

func (c *captureListener) OnStateChange(ev session.StateChange) { c.changes = append(c.changes, ev) }

func TestStateChangeListeners(t *testing.T) {
	coord, id := newTestCoordinator(t)
	cap := &captureListener{}
	coord.AddListener(cap)
	if _, _, err := coord.RaiseHand(context.Background(), id); err != nil {
		t.Fatalf("raise hand: %v", err)
	}
	if len(cap.changes) != 1 || cap.changes[0].ToState != session.StatusPaused {
		t.Fatalf("expected one paused transition, got %+v", cap.changes)
	}
}
