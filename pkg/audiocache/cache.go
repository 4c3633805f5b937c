// Package audiocache retrieves and caches per-segment audio bytes for
// one listening session. Cached handles are owned by exactly one
// playback engine instance; there is no cross-session sharing.
package audiocache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/lectern-ai/lectern/pkg/errorsx"
	"github.com/lectern-ai/lectern/pkg/logging"
	"github.com/lectern-ai/lectern/pkg/resilience"
	"github.com/lectern-ai/lectern/pkg/segment"
)

// AudioLoadError reports a network or decode failure for one segment.
// Retryable by the caller; the cache itself performs exactly one
// automatic retry for transient fetch failures.
type AudioLoadError struct {
	Sequence int
	Err      error
}

func (e *AudioLoadError) Error() string {
	return fmt.Sprintf("load audio for segment %d: %v", e.Sequence, e.Err)
}

func (e *AudioLoadError) Unwrap() error { return e.Err }

// Handle is a reference to cached audio bytes for one segment.
// Release it when the owning buffer is discarded.
type Handle struct {
	seq  int
	c    *Cache
	data []byte

	mu       sync.Mutex
	released bool
}

// Bytes returns the cached audio. The slice is shared; callers must not
// mutate it.
func (h *Handle) Bytes() []byte { return h.data }

// Sequence returns the segment sequence this handle is bound to.
func (h *Handle) Sequence() int { return h.seq }

// Release returns the handle's claim on the cached blob. When the last
// handle for a sequence is released the blob itself is dropped.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.mu.Unlock()
	h.c.release(h.seq)
}

type blob struct {
	data []byte
	refs int
}

type inflight struct {
	done chan struct{}
	data []byte
	err  error
}

// Cache fetches and caches segment audio under authenticated access.
// Duplicate concurrent loads for the same sequence are coalesced into a
// single fetch.
type Cache struct {
	store     segment.Store
	subjectID string
	retry     resilience.RetryPolicy
	logger    *slog.Logger

	mu       sync.Mutex
	blobs    map[int]*blob
	inflight map[int]*inflight
	closed   bool
}

func New(store segment.Store, subjectID string) *Cache {
	return &Cache{
		store:     store,
		subjectID: subjectID,
		retry:     resilience.NewRetryPolicy(1, 150*time.Millisecond),
		logger:    logging.NewComponentLogger(slog.Default(), "audio_cache"),
		blobs:     make(map[int]*blob),
		inflight:  make(map[int]*inflight),
	}
}

// SetLogger configures structured logging for the cache.
func (c *Cache) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logging.NewComponentLogger(logger, "audio_cache")
	}
}

// Load returns a handle for the segment's audio, fetching and caching it
// on first use. Concurrent calls for the same sequence share one fetch.
func (c *Cache) Load(ctx context.Context, sequence int) (*Handle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &AudioLoadError{Sequence: sequence, Err: fmt.Errorf("cache closed")}
	}
	if b, ok := c.blobs[sequence]; ok {
		b.refs++
		c.mu.Unlock()
		return &Handle{seq: sequence, c: c, data: b.data}, nil
	}
	if fl, ok := c.inflight[sequence]; ok {
		c.mu.Unlock()
		return c.await(ctx, sequence, fl)
	}
	fl := &inflight{done: make(chan struct{})}
	c.inflight[sequence] = fl
	c.mu.Unlock()

	fl.data, fl.err = c.fetch(ctx, sequence)
	c.mu.Lock()
	delete(c.inflight, sequence)
	if fl.err == nil && !c.closed {
		c.blobs[sequence] = &blob{data: fl.data}
	}
	c.mu.Unlock()
	close(fl.done)
	return c.claim(sequence, fl)
}

func (c *Cache) await(ctx context.Context, sequence int, fl *inflight) (*Handle, error) {
	select {
	case <-fl.done:
		return c.claim(sequence, fl)
	case <-ctx.Done():
		return nil, &AudioLoadError{Sequence: sequence, Err: ctx.Err()}
	}
}

func (c *Cache) claim(sequence int, fl *inflight) (*Handle, error) {
	if fl.err != nil {
		return nil, &AudioLoadError{Sequence: sequence, Err: fl.err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.blobs[sequence]; ok {
		b.refs++
		return &Handle{seq: sequence, c: c, data: b.data}, nil
	}
	// Blob evicted between fetch and claim; hand out an uncached copy.
	return &Handle{seq: sequence, c: c, data: fl.data, released: true}, nil
}

func (c *Cache) fetch(ctx context.Context, sequence int) ([]byte, error) {
	var data []byte
	err := c.retry.DoCtx(ctx, func() error {
		rc, err := c.store.OpenSegmentAudio(ctx, c.subjectID, sequence)
		if err != nil {
			return err
		}
		defer rc.Close()
		data, err = io.ReadAll(rc)
		return err
	})
	if err != nil {
		c.logger.Warn("segment audio fetch failed",
			slog.Int("sequence", sequence),
			slog.String("error", err.Error()))
		return nil, errorsx.Wrap(err, errorsx.ReasonAudioLoad)
	}
	return data, nil
}

func (c *Cache) release(sequence int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blobs[sequence]
	if !ok {
		return
	}
	b.refs--
	if b.refs <= 0 {
		delete(c.blobs, sequence)
	}
}

// Cached reports whether audio for the sequence is resident.
func (c *Cache) Cached(sequence int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.blobs[sequence]
	return ok
}

// Close drops every cached blob. Outstanding handles stay readable but
// their release becomes a no-op.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.blobs = make(map[int]*blob)
	c.mu.Unlock()
}
