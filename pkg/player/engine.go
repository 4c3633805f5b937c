package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lectern-ai/lectern/pkg/audiocache"
	"github.com/lectern-ai/lectern/pkg/logging"
	"github.com/lectern-ai/lectern/pkg/metrics"
	"github.com/lectern-ai/lectern/pkg/segment"
)

// Subscription receives playback engine events. Each engine instance
// owns its subscriptions; they are torn down with the engine.
type Subscription struct {
	OnSegmentStart func(sequence int)
	OnSegmentEnded func(sequence int)
	OnPosition     func(sequence int, offset, elapsed, total time.Duration)
	OnFinished     func()
	OnError        func(err error)
}

// Options tunes engine behavior.
type Options struct {
	// PositionDebounce caps how often OnPosition fires on timeupdate.
	PositionDebounce time.Duration
}

// Engine drives gapless playback across an ordered segment sequence.
// It owns at most two live buffers: "current" and the look-ahead for
// current+1.
type Engine struct {
	segs    []segment.Segment
	cache   *audiocache.Cache
	factory PipelineFactory
	opts    Options

	mu       sync.Mutex
	cur      *buffer
	next     *buffer
	playing  bool
	closed   bool
	finished bool
	curPos   time.Duration

	// durations holds measured durations keyed by slice index; a
	// measured value permanently overrides the authored estimate.
	durations map[int]time.Duration

	prefetching map[int]bool

	subMu sync.Mutex
	subs  map[int]*Subscription
	subID int

	lastReport  time.Time
	lastElapsed time.Duration
	lastTotal   time.Duration

	logger *slog.Logger
	obs    metrics.Observer
	now    func() time.Time
}

// NewEngine builds an engine over the subject's segments. Segments are
// sorted and their sequence validated before use.
func NewEngine(segs []segment.Segment, cache *audiocache.Cache, factory PipelineFactory, opts Options) (*Engine, error) {
	sorted := append([]segment.Segment(nil), segs...)
	segment.SortSegments(sorted)
	if err := segment.ValidateSequence(sorted); err != nil {
		return nil, err
	}
	if opts.PositionDebounce <= 0 {
		opts.PositionDebounce = 250 * time.Millisecond
	}
	return &Engine{
		segs:        sorted,
		cache:       cache,
		factory:     factory,
		opts:        opts,
		durations:   make(map[int]time.Duration),
		prefetching: make(map[int]bool),
		subs:        make(map[int]*Subscription),
		logger:      logging.NewComponentLogger(slog.Default(), "playback_engine"),
		obs:         metrics.NoopObserver{},
		now:         time.Now,
	}, nil
}

// SetLogger configures structured logging for the engine.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logging.NewComponentLogger(logger, "playback_engine")
	}
}

func (e *Engine) SetObserver(obs metrics.Observer) {
	if obs != nil {
		e.obs = obs
	}
}

// Subscribe registers a subscription and returns its unsubscribe func.
func (e *Engine) Subscribe(sub *Subscription) func() {
	e.subMu.Lock()
	id := e.subID
	e.subID++
	e.subs[id] = sub
	e.subMu.Unlock()
	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) each(fn func(sub *Subscription)) {
	e.subMu.Lock()
	subs := make([]*Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	e.subMu.Unlock()
	for _, s := range subs {
		fn(s)
	}
}

// Start loads the first segment and begins playback.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.cur != nil || e.closed {
		e.mu.Unlock()
		return fmt.Errorf("engine already started or closed")
	}
	e.mu.Unlock()

	buf, err := e.load(ctx, 0)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.cur = buf
	e.playing = true
	e.mu.Unlock()
	e.attach(buf)
	if err := buf.pipe.Play(); err != nil {
		return err
	}
	e.each(func(s *Subscription) {
		if s.OnSegmentStart != nil {
			s.OnSegmentStart(e.segs[0].Sequence)
		}
	})
	e.prefetch(1)
	return nil
}

// Play resumes the current buffer.
func (e *Engine) Play() error {
	e.mu.Lock()
	buf := e.cur
	if buf == nil || e.closed {
		e.mu.Unlock()
		return fmt.Errorf("no current buffer")
	}
	e.playing = true
	e.mu.Unlock()
	return buf.pipe.Play()
}

// Pause halts the current buffer. The look-ahead, if in flight, runs to
// completion; its result is kept or discarded, never cancelled.
func (e *Engine) Pause() error {
	e.mu.Lock()
	buf := e.cur
	if buf == nil || e.closed {
		e.mu.Unlock()
		return fmt.Errorf("no current buffer")
	}
	e.playing = false
	e.mu.Unlock()
	return buf.pipe.Pause()
}

// Position reports the current segment sequence, the offset within it,
// and the global elapsed/total times.
func (e *Engine) Position() (sequence int, offset, elapsed, total time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := 0
	if e.cur != nil {
		idx = e.cur.index
	}
	elapsed = e.elapsedLocked(idx, e.curPos)
	return e.segs[idx].Sequence, e.curPos, elapsed, e.totalLocked()
}

// SeekTo moves playback to an absolute point on the global timeline,
// resolving the owning segment by walking cumulative durations in
// sequence order.
func (e *Engine) SeekTo(ctx context.Context, target time.Duration) error {
	idx, offset := e.resolveTarget(target)
	return e.SeekToSegment(ctx, e.segs[idx].Sequence, offset)
}

// SeekToSegment moves playback to an offset within a specific segment,
// loading and swapping buffers when the target differs from current.
func (e *Engine) SeekToSegment(ctx context.Context, sequence int, offset time.Duration) error {
	idx := e.indexOf(sequence)
	if idx < 0 {
		return fmt.Errorf("unknown segment sequence %d", sequence)
	}

	e.mu.Lock()
	cur := e.cur
	sameSegment := cur != nil && cur.index == idx
	e.mu.Unlock()

	if !sameSegment {
		buf, err := e.load(ctx, idx)
		if err != nil {
			return err
		}
		e.mu.Lock()
		old, oldNext := e.cur, e.next
		e.cur = buf
		// A look-ahead for the old position is superseded unless it
		// already matches the new current+1.
		if oldNext != nil && oldNext.index != idx+1 {
			e.next = nil
		} else {
			e.next = oldNext
			oldNext = nil
		}
		wasPlaying := e.playing
		e.mu.Unlock()
		if old != nil {
			old.release()
		}
		if oldNext != nil {
			oldNext.release()
		}
		e.attach(buf)
		if wasPlaying {
			if err := buf.pipe.Play(); err != nil {
				return err
			}
		}
		e.prefetch(idx + 1)
		cur = buf
	}
	if err := cur.pipe.Seek(offset); err != nil {
		return err
	}
	e.mu.Lock()
	e.curPos = offset
	// An explicit seek legitimately rewinds the displayed time.
	e.lastElapsed = 0
	e.mu.Unlock()
	return nil
}

// RecordDuration stores measured duration metadata for a segment.
// Measured values permanently override estimates and computed totals
// never decrease.
func (e *Engine) RecordDuration(sequence int, d time.Duration) {
	idx := e.indexOf(sequence)
	if idx < 0 || d <= 0 {
		return
	}
	e.mu.Lock()
	e.durations[idx] = d
	e.mu.Unlock()
}

// Close tears down both buffers and releases their cached blobs.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	cur, next := e.cur, e.next
	e.cur, e.next = nil, nil
	e.mu.Unlock()
	if cur != nil {
		cur.release()
	}
	if next != nil {
		next.release()
	}
}

func (e *Engine) load(ctx context.Context, idx int) (*buffer, error) {
	handle, err := e.cache.Load(ctx, e.segs[idx].Sequence)
	if err != nil {
		return nil, err
	}
	return newBuffer(idx, handle, e.factory())
}

// attach subscribes the engine to a buffer's pipeline events. The
// forwarding goroutine lives exactly as long as the buffer does.
func (e *Engine) attach(buf *buffer) {
	go func() {
		events := buf.pipe.Events()
		for {
			select {
			case <-buf.stop:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				e.handleEvent(buf, ev)
			}
		}
	}()
}

func (e *Engine) handleEvent(buf *buffer, ev Event) {
	switch ev.Kind {
	case EventMetadataLoaded:
		if ev.Duration > 0 {
			e.RecordDuration(e.segs[buf.index].Sequence, ev.Duration)
		}
	case EventTimeUpdate:
		e.mu.Lock()
		if buf != e.cur || e.closed {
			e.mu.Unlock()
			return
		}
		e.curPos = ev.Position
		e.mu.Unlock()
		e.reportPosition(buf.index, ev.Position)
	case EventEnded:
		e.mu.Lock()
		if buf != e.cur || e.closed {
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()
		e.advance(buf)
	case EventError:
		e.each(func(s *Subscription) {
			if s.OnError != nil {
				s.OnError(&audiocache.AudioLoadError{Sequence: e.segs[buf.index].Sequence, Err: ev.Err})
			}
		})
	}
}

// advance swaps to the look-ahead buffer on a natural end, or falls
// back to a just-in-time load, which may introduce a brief audible gap.
func (e *Engine) advance(ended *buffer) {
	endedSeq := e.segs[ended.index].Sequence
	e.each(func(s *Subscription) {
		if s.OnSegmentEnded != nil {
			s.OnSegmentEnded(endedSeq)
		}
	})

	e.mu.Lock()
	if ended != e.cur || e.closed {
		e.mu.Unlock()
		return
	}
	nextIdx := ended.index + 1
	if nextIdx >= len(e.segs) {
		e.playing = false
		e.finished = true
		e.cur = nil
		e.mu.Unlock()
		ended.release()
		e.each(func(s *Subscription) {
			if s.OnFinished != nil {
				s.OnFinished()
			}
		})
		return
	}

	swapStart := e.now()
	promoted := e.next
	e.next = nil
	if promoted != nil && promoted.index != nextIdx {
		// Stale look-ahead from before a seek; discard it.
		go promoted.release()
		promoted = nil
	}
	shouldPlay := e.playing
	e.mu.Unlock()

	jit := false
	if promoted == nil {
		// Look-ahead missing (prefetch failed or still in flight):
		// load on demand. The gap is non-fatal and expected.
		jit = true
		buf, err := e.load(context.Background(), nextIdx)
		if err != nil {
			e.logger.Warn("just-in-time load failed",
				slog.Int("sequence", e.segs[nextIdx].Sequence),
				slog.String("error", err.Error()))
			e.each(func(s *Subscription) {
				if s.OnError != nil {
					s.OnError(err)
				}
			})
			ended.release()
			return
		}
		promoted = buf
	}

	e.mu.Lock()
	if e.closed {
		// Close ran while the replacement was loading; its handle must
		// not outlive the engine.
		e.mu.Unlock()
		promoted.release()
		ended.release()
		return
	}
	e.cur = promoted
	e.curPos = 0
	e.mu.Unlock()
	ended.release()
	e.attach(promoted)
	if shouldPlay {
		if err := promoted.pipe.Play(); err != nil {
			e.each(func(s *Subscription) {
				if s.OnError != nil {
					s.OnError(err)
				}
			})
			return
		}
	}
	e.obs.RecordEvent(metrics.MetricsEvent{
		Name:  "buffer_swap",
		Time:  e.now(),
		Value: float64(e.now().Sub(swapStart).Milliseconds()),
		Tags:  map[string]string{"jit": fmt.Sprintf("%t", jit)},
	})
	e.each(func(s *Subscription) {
		if s.OnSegmentStart != nil {
			s.OnSegmentStart(e.segs[nextIdx].Sequence)
		}
	})
	e.prefetch(nextIdx + 1)
}

// prefetch opportunistically loads the look-ahead for current+1. The
// fetch is never cancelled; a superseded result is simply discarded.
func (e *Engine) prefetch(idx int) {
	if idx >= len(e.segs) {
		return
	}
	e.mu.Lock()
	if e.prefetching[idx] || e.closed {
		e.mu.Unlock()
		return
	}
	e.prefetching[idx] = true
	e.mu.Unlock()

	go func() {
		handle, err := e.cache.Load(context.Background(), e.segs[idx].Sequence)
		e.mu.Lock()
		delete(e.prefetching, idx)
		if err != nil {
			e.mu.Unlock()
			e.logger.Warn("look-ahead fetch failed",
				slog.Int("sequence", e.segs[idx].Sequence),
				slog.String("error", err.Error()))
			e.obs.RecordEvent(metrics.MetricsEvent{
				Name: "prefetch_failed",
				Time: e.now(),
				Tags: map[string]string{"sequence": fmt.Sprintf("%d", e.segs[idx].Sequence)},
			})
			return
		}
		stillWanted := !e.closed && e.cur != nil && e.cur.index+1 == idx && e.next == nil
		e.mu.Unlock()
		if !stillWanted {
			handle.Release()
			return
		}
		buf, err := newBuffer(idx, handle, e.factory())
		if err != nil {
			e.logger.Warn("look-ahead decode failed",
				slog.Int("sequence", e.segs[idx].Sequence),
				slog.String("error", err.Error()))
			return
		}
		e.mu.Lock()
		if e.closed || e.cur == nil || e.cur.index+1 != idx || e.next != nil {
			e.mu.Unlock()
			buf.release()
			return
		}
		e.next = buf
		e.mu.Unlock()
	}()
}

func (e *Engine) reportPosition(idx int, pos time.Duration) {
	e.mu.Lock()
	now := e.now()
	if now.Sub(e.lastReport) < e.opts.PositionDebounce {
		e.mu.Unlock()
		return
	}
	e.lastReport = now
	elapsed := e.elapsedLocked(idx, pos)
	if elapsed < e.lastElapsed {
		elapsed = e.lastElapsed
	}
	e.lastElapsed = elapsed
	total := e.totalLocked()
	seq := e.segs[idx].Sequence
	e.mu.Unlock()

	e.each(func(s *Subscription) {
		if s.OnPosition != nil {
			s.OnPosition(seq, pos, elapsed, total)
		}
	})
}

// durationAt returns the best known duration for a slice index:
// measured when available, the authored estimate otherwise.
func (e *Engine) durationAt(idx int) time.Duration {
	if d, ok := e.durations[idx]; ok {
		return d
	}
	return e.segs[idx].Duration()
}

func (e *Engine) elapsedLocked(idx int, pos time.Duration) time.Duration {
	var sum time.Duration
	for i := 0; i < idx; i++ {
		sum += e.durationAt(i)
	}
	return sum + pos
}

func (e *Engine) totalLocked() time.Duration {
	var sum time.Duration
	for i := range e.segs {
		sum += e.durationAt(i)
	}
	if sum < e.lastTotal {
		return e.lastTotal
	}
	e.lastTotal = sum
	return sum
}

func (e *Engine) resolveTarget(target time.Duration) (int, time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var cum time.Duration
	for i := range e.segs {
		d := e.durationAt(i)
		if target < cum+d || i == len(e.segs)-1 {
			offset := target - cum
			if offset < 0 {
				offset = 0
			}
			if offset > d {
				offset = d
			}
			return i, offset
		}
		cum += d
	}
	return 0, 0
}

func (e *Engine) indexOf(sequence int) int {
	for i := range e.segs {
		if e.segs[i].Sequence == sequence {
			return i
		}
	}
	return -1
}
