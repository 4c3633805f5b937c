package player

import (
	"sync"

	"github.com/lectern-ai/lectern/pkg/audiocache"
)

// buffer binds one cached audio handle to one pipeline for one segment
// index. Exactly one buffer holds the "current" role at any instant; a
// "next" buffer, when present, always refers to current+1.
type buffer struct {
	index  int
	handle *audiocache.Handle
	pipe   Pipeline

	mu       sync.Mutex
	released bool

	// stop tears down the event forwarding goroutine subscription.
	stop chan struct{}
}

func newBuffer(index int, handle *audiocache.Handle, pipe Pipeline) (*buffer, error) {
	if err := pipe.SetSource(handle.Bytes()); err != nil {
		handle.Release()
		_ = pipe.Close()
		return nil, &audiocache.AudioLoadError{Sequence: handle.Sequence(), Err: err}
	}
	return &buffer{
		index:  index,
		handle: handle,
		pipe:   pipe,
		stop:   make(chan struct{}),
	}, nil
}

// release frees the pipeline and the backing cached blob. Safe to call
// more than once.
func (b *buffer) release() {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return
	}
	b.released = true
	b.mu.Unlock()
	close(b.stop)
	_ = b.pipe.Close()
	b.handle.Release()
}
