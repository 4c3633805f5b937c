// Package orchestrator runs the raise-hand protocol on the client: it
// coordinates deferred pausing, transition phrases, question capture,
// answer playback, and position-faithful resume across the playback
// engine, the session coordinator, and the speech providers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lectern-ai/lectern/pkg/adapters/qa"
	"github.com/lectern-ai/lectern/pkg/adapters/stt"
	"github.com/lectern-ai/lectern/pkg/adapters/tts"
	"github.com/lectern-ai/lectern/pkg/errorsx"
	"github.com/lectern-ai/lectern/pkg/logging"
	"github.com/lectern-ai/lectern/pkg/metrics"
	"github.com/lectern-ai/lectern/pkg/player"
	"github.com/lectern-ai/lectern/pkg/segment"
	"github.com/lectern-ai/lectern/pkg/session"
	"github.com/lectern-ai/lectern/pkg/signals"
)

// Phase is the orchestrator's position in the raise-hand protocol.
type Phase int

const (
	// PhaseListening: dialogue playing, no interrupt in flight.
	PhaseListening Phase = iota
	// PhaseAwaitingSegmentEnd: hand raised, current segment finishing.
	PhaseAwaitingSegmentEnd
	// PhaseCapturing: transition phrase played, waiting for the question.
	PhaseCapturing
	// PhaseAnswering: question submitted, answer in flight.
	PhaseAnswering
	// PhaseIdleWait: answer delivered, waiting for follow-up or continue.
	PhaseIdleWait
)

// String returns the string representation of a Phase.
func (p Phase) String() string {
	switch p {
	case PhaseListening:
		return "listening"
	case PhaseAwaitingSegmentEnd:
		return "awaiting_segment_end"
	case PhaseCapturing:
		return "capturing"
	case PhaseAnswering:
		return "answering"
	case PhaseIdleWait:
		return "idle_wait"
	default:
		return "unknown"
	}
}

// Sink plays one synthesized clip to the listener's audio output,
// returning once playback finishes.
type Sink interface {
	PlayClip(ctx context.Context, audio []byte) error
}

type Config struct {
	// SilenceTimeout resumes playback when the listener says nothing.
	SilenceTimeout time.Duration
	// ProviderTimeout bounds each STT/QA provider call; expiry is
	// treated as an implicit continue.
	ProviderTimeout time.Duration
	SampleRate      int
	Language        string
}

func (c *Config) applyDefaults() {
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 5 * time.Second
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 10 * time.Second
	}
}

// Orchestrator drives one session's interrupt lifecycle. All entry
// points are safe for concurrent use; the protocol itself is serialized.
type Orchestrator struct {
	sessionID string
	coord     *session.Coordinator
	engine    *player.Engine
	stt       stt.Transcriber
	tts       tts.Synthesizer
	qa        qa.Answerer
	voices    segment.VoiceTable
	sink      Sink
	segs      []segment.Segment
	cfg       Config

	mu               sync.Mutex
	phase            Phase
	transitionPhrase string
	silence          *time.Timer
	closed           bool

	unsubscribe func()
	logger      *slog.Logger
	obs         metrics.Observer
}

func New(sessionID string, coord *session.Coordinator, engine *player.Engine,
	transcriber stt.Transcriber, synthesizer tts.Synthesizer, answerer qa.Answerer,
	voices segment.VoiceTable, segs []segment.Segment, sink Sink, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		sessionID: sessionID,
		coord:     coord,
		engine:    engine,
		stt:       transcriber,
		tts:       synthesizer,
		qa:        answerer,
		voices:    voices,
		sink:      sink,
		segs:      segs,
		cfg:       cfg,
		phase:     PhaseListening,
		logger:    logging.WithSession(logging.NewComponentLogger(slog.Default(), "orchestrator"), sessionID),
		obs:       metrics.NoopObserver{},
	}
}

// SetLogger configures structured logging for the orchestrator.
func (o *Orchestrator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		o.logger = logging.NewComponentLogger(logger, "orchestrator")
	}
}

func (o *Orchestrator) SetObserver(obs metrics.Observer) {
	if obs != nil {
		o.obs = obs
	}
}

// Run wires the orchestrator into the engine and begins playback.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.unsubscribe = o.engine.Subscribe(&player.Subscription{
		OnSegmentEnded: o.onSegmentEnded,
		OnPosition: func(seq int, offset, elapsed, total time.Duration) {
			if _, err := o.coord.UpdatePosition(context.Background(), o.sessionID, seq, offset.Seconds()); err != nil {
				o.logger.Warn("position update failed",
					slog.String("session_id", o.sessionID),
					slog.String("error", err.Error()))
			}
		},
		OnFinished: func() {
			lastSeq := o.segs[len(o.segs)-1].Sequence
			if _, err := o.coord.UpdatePosition(context.Background(), o.sessionID, lastSeq+1, 0); err != nil {
				o.logger.Warn("finish report failed",
					slog.String("session_id", o.sessionID),
					slog.String("error", err.Error()))
			}
		},
	})
	return o.engine.Start(ctx)
}

// Close stops timers and detaches from the engine.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.stopSilenceTimerLocked()
	o.mu.Unlock()
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
}

// CurrentPhase returns the orchestrator's protocol phase.
func (o *Orchestrator) CurrentPhase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// RaiseHand begins an interrupt. Playback of the current segment is not
// cut off: the pause is deferred until the segment finishes, then the
// transition phrase invites the question.
func (o *Orchestrator) RaiseHand(ctx context.Context) error {
	_, phrase, err := o.coord.RaiseHand(ctx, o.sessionID)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.transitionPhrase = phrase
	if o.phase == PhaseListening {
		o.phase = PhaseAwaitingSegmentEnd
	}
	o.mu.Unlock()
	o.logger.Info("hand raised",
		slog.String("session_id", o.sessionID))
	return nil
}

// onSegmentEnded fires on every natural segment boundary. When a hand
// is raised it converts the boundary into the deferred pause.
func (o *Orchestrator) onSegmentEnded(sequence int) {
	o.mu.Lock()
	if o.phase != PhaseAwaitingSegmentEnd || o.closed {
		o.mu.Unlock()
		return
	}
	o.phase = PhaseCapturing
	phrase := o.transitionPhrase
	o.mu.Unlock()

	// Record that the interrupted segment played to its end, so the
	// eventual continue advances instead of replaying it.
	if seg, ok := o.segmentAt(sequence); ok {
		if _, err := o.coord.UpdatePosition(context.Background(), o.sessionID, sequence, seg.Duration().Seconds()); err != nil {
			o.logger.Warn("segment end report failed",
				slog.String("session_id", o.sessionID),
				slog.String("error", err.Error()))
		}
	}
	if err := o.engine.Pause(); err != nil {
		o.logger.Warn("deferred pause failed",
			slog.String("session_id", o.sessionID),
			slog.String("error", err.Error()))
	}
	o.obs.RecordEvent(metrics.MetricsEvent{
		Name: "deferred_pause",
		Time: time.Now(),
		Tags: map[string]string{"session_id": o.sessionID},
	})
	o.speak(context.Background(), phrase, o.voices.Profile(segment.SpeakerHost))
	o.startSilenceTimer()
}

// SubmitAudio captures a spoken utterance, transcribes it, and routes
// the text through the same path as typed input. Transcription that is
// merely ambiguous still carries text and is treated as a question;
// harder failures degrade to a silent resume.
func (o *Orchestrator) SubmitAudio(ctx context.Context, audio []byte) error {
	sttCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	defer cancel()
	result, err := o.stt.Transcribe(sttCtx, audio, stt.Config{
		SessionID:  o.sessionID,
		SampleRate: o.cfg.SampleRate,
		Language:   o.cfg.Language,
	})
	if err != nil {
		var ambiguous *stt.AmbiguousError
		if errors.As(err, &ambiguous) && strings.TrimSpace(ambiguous.Text) != "" {
			return o.SubmitText(ctx, ambiguous.Text)
		}
		o.logger.Warn("transcription failed, resuming",
			slog.String("session_id", o.sessionID),
			slog.String("reason", string(errorsx.Reason(err))))
		return o.resume(ctx, false)
	}
	return o.SubmitText(ctx, result.Text)
}

// SubmitText routes one listener utterance: a continue signal resumes
// playback, anything else is answered as a question.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) error {
	o.mu.Lock()
	if o.phase != PhaseCapturing && o.phase != PhaseIdleWait {
		phase := o.phase
		o.mu.Unlock()
		return fmt.Errorf("no question expected in phase %s", phase)
	}
	o.stopSilenceTimerLocked()
	o.mu.Unlock()

	isQuestion, _ := signals.Classify(text)
	if !isQuestion {
		o.logger.Info("continue signal",
			slog.String("session_id", o.sessionID))
		return o.resume(ctx, true)
	}
	return o.answer(ctx, text)
}

func (o *Orchestrator) answer(ctx context.Context, question string) error {
	o.mu.Lock()
	o.phase = PhaseAnswering
	o.mu.Unlock()

	ex, err := o.coord.SubmitQuestion(ctx, o.sessionID, question)
	if err != nil {
		return err
	}
	req, err := o.buildRequest(ctx, ex)
	if err != nil {
		return err
	}

	qaCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	resp, err := o.qa.Answer(qaCtx, req)
	cancel()
	if err != nil {
		// Timeouts, rate limits, and provider outages all degrade the
		// same way: apologize silently and resume playback.
		o.logger.Warn("answer failed, implicit continue",
			slog.String("session_id", o.sessionID),
			slog.String("reason", string(errorsx.Reason(err))))
		o.obs.RecordEvent(metrics.MetricsEvent{
			Name: "qa_implicit_continue",
			Time: time.Now(),
			Tags: map[string]string{"session_id": o.sessionID, "reason": string(errorsx.Reason(err))},
		})
		// Close the exchange so a later question doesn't collide with it.
		if _, rerr := o.coord.ResolveExchange(ctx, o.sessionID, ex.ID, "", "", nil); rerr != nil {
			o.logger.Warn("failed exchange close",
				slog.String("session_id", o.sessionID),
				slog.String("error", rerr.Error()))
		}
		return o.resume(ctx, true)
	}

	// The short acknowledgment plays in the host voice before the
	// detailed answer in the expert voice, in that order, always.
	o.speak(ctx, resp.Acknowledgment, o.voices.Profile(segment.SpeakerHost))
	o.speak(ctx, resp.Answer, o.voices.Profile(segment.SpeakerExpert))

	if _, err := o.coord.ResolveExchange(ctx, o.sessionID, ex.ID, resp.Acknowledgment, resp.Answer, nil); err != nil {
		return err
	}
	o.mu.Lock()
	o.phase = PhaseIdleWait
	o.mu.Unlock()
	o.startSilenceTimer()
	return nil
}

func (o *Orchestrator) buildRequest(ctx context.Context, ex session.Exchange) (qa.Request, error) {
	seg, ok := o.segmentAt(ex.Sequence)
	if !ok {
		return qa.Request{}, fmt.Errorf("unknown segment sequence %d", ex.Sequence)
	}
	var dialogue strings.Builder
	for _, line := range seg.Dialogue {
		fmt.Fprintf(&dialogue, "%s: %s\n", line.Speaker, line.Text)
	}
	req := qa.Request{
		SessionID:   o.sessionID,
		Question:    ex.Question,
		TopicLabel:  seg.TopicLabel,
		SegmentText: dialogue.String(),
	}
	history, err := o.coord.Exchanges(ctx, o.sessionID)
	if err != nil {
		return qa.Request{}, err
	}
	for _, prior := range history {
		if prior.Complete && prior.Detail != "" && prior.ID != ex.ID {
			req.History = append(req.History, qa.PriorExchange{
				Question: prior.Question,
				Answer:   prior.Detail,
			})
		}
	}
	return req, nil
}

// resume plays the resume line and restores playback exactly where the
// session record says it stopped.
func (o *Orchestrator) resume(ctx context.Context, speakResume bool) error {
	res, err := o.coord.Continue(ctx, o.sessionID)
	if err != nil {
		return err
	}
	return o.applyResume(ctx, res, speakResume)
}

func (o *Orchestrator) applyResume(ctx context.Context, res session.ContinueResult, speakResume bool) error {
	o.mu.Lock()
	o.stopSilenceTimerLocked()
	o.phase = PhaseListening
	o.mu.Unlock()

	if res.Status == session.StatusCompleted {
		o.logger.Info("session completed on resume",
			slog.String("session_id", o.sessionID))
		return nil
	}
	if speakResume && res.ResumeLine != "" {
		o.speak(ctx, res.ResumeLine, o.voices.Profile(segment.SpeakerHost))
	}

	s, err := o.coord.Get(ctx, o.sessionID)
	if err != nil {
		return err
	}
	offset := time.Duration(s.PositionSeconds * float64(time.Second))
	if err := o.engine.SeekToSegment(ctx, s.CurrentSequence, offset); err != nil {
		return err
	}
	return o.engine.Play()
}

// speak synthesizes and plays one clip. Voice output is best effort:
// a failed clip is logged and skipped, never fatal to the protocol.
func (o *Orchestrator) speak(ctx context.Context, text string, voice segment.VoiceProfile) {
	text = strings.TrimSpace(text)
	if text == "" || o.tts == nil || o.sink == nil {
		return
	}
	ttsCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	defer cancel()
	audio, err := o.tts.Synthesize(ttsCtx, text, voice, tts.Config{
		SessionID:  o.sessionID,
		SampleRate: o.cfg.SampleRate,
	})
	if err != nil {
		o.logger.Warn("synthesis failed, skipping clip",
			slog.String("session_id", o.sessionID),
			slog.String("reason", string(errorsx.Reason(err))))
		return
	}
	if err := o.sink.PlayClip(ctx, audio); err != nil {
		o.logger.Warn("clip playback failed",
			slog.String("session_id", o.sessionID),
			slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) startSilenceTimer() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.stopSilenceTimerLocked()
	o.silence = time.AfterFunc(o.cfg.SilenceTimeout, o.onSilenceTimeout)
}

func (o *Orchestrator) stopSilenceTimerLocked() {
	if o.silence != nil {
		o.silence.Stop()
		o.silence = nil
	}
}

func (o *Orchestrator) onSilenceTimeout() {
	o.mu.Lock()
	if o.closed || (o.phase != PhaseCapturing && o.phase != PhaseIdleWait) {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	o.logger.Info("silence timeout",
		slog.String("session_id", o.sessionID),
		slog.Duration("timeout", o.cfg.SilenceTimeout))
	ctx := context.Background()
	res, err := o.coord.SilenceTimeout(ctx, o.sessionID)
	if err != nil {
		o.logger.Warn("silence resume failed",
			slog.String("session_id", o.sessionID),
			slog.String("error", err.Error()))
		return
	}
	if err := o.applyResume(ctx, res, true); err != nil {
		o.logger.Warn("silence resume playback failed",
			slog.String("session_id", o.sessionID),
			slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) segmentAt(sequence int) (segment.Segment, bool) {
	for _, seg := range o.segs {
		if seg.Sequence == sequence {
			return seg, true
		}
	}
	return segment.Segment{}, false
}
