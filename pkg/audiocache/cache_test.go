package audiocache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lectern-ai/lectern/pkg/segment"
)

type countingStore struct {
	inner segment.Store
	calls int64
	gate  chan struct{}
}

func (s *countingStore) ListSegments(ctx context.Context, subjectID string) ([]segment.Segment, error) {
	return s.inner.ListSegments(ctx, subjectID)
}

func (s *countingStore) OpenSegmentAudio(ctx context.Context, subjectID string, sequence int) (io.ReadCloser, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.gate != nil {
		<-s.gate
	}
	return s.inner.OpenSegmentAudio(ctx, subjectID, sequence)
}

func newStore(audio map[int][]byte) *countingStore {
	mem := segment.NewMemoryStore()
	mem.PutSubject("subj", []segment.Segment{{Sequence: 1}, {Sequence: 2}}, audio)
	return &countingStore{inner: mem}
}

func TestLoadCachesAndReleases(t *testing.T) {
	store := newStore(map[int][]byte{1: []byte("audio-1")})
	cache := New(store, "subj")

	h1, err := cache.Load(context.Background(), 1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(h1.Bytes(), []byte("audio-1")) {
		t.Fatalf("unexpected bytes %q", h1.Bytes())
	}
	h2, err := cache.Load(context.Background(), 1)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if got := atomic.LoadInt64(&store.calls); got != 1 {
		t.Fatalf("expected one fetch for cached segment, got %d", got)
	}
	h1.Release()
	if !cache.Cached(1) {
		t.Fatalf("blob dropped while a handle is live")
	}
	h2.Release()
	if cache.Cached(1) {
		t.Fatalf("blob retained after last release")
	}
	h2.Release() // double release is a no-op
}

func TestLoadCoalescesConcurrentFetches(t *testing.T) {
	store := newStore(map[int][]byte{1: []byte("audio-1")})
	store.gate = make(chan struct{})
	cache := New(store, "subj")

	// Every handle stays live until all loads have returned; an early
	// release could evict the blob and force a late caller to refetch.
	const n = 8
	var wg sync.WaitGroup
	handles := make([]*Handle, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = cache.Load(context.Background(), 1)
		}(i)
	}
	close(store.gate)
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt64(&store.calls); got != 1 {
		t.Fatalf("expected coalesced single fetch, got %d", got)
	}
	for _, h := range handles {
		h.Release()
	}
	if cache.Cached(1) {
		t.Fatalf("blob retained after last release")
	}
}

func TestLoadFailureSurfacesAudioLoadError(t *testing.T) {
	store := newStore(map[int][]byte{1: []byte("audio-1")})
	cache := New(store, "subj")

	_, err := cache.Load(context.Background(), 99)
	var loadErr *AudioLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected AudioLoadError, got %v", err)
	}
	if loadErr.Sequence != 99 {
		t.Fatalf("expected sequence 99, got %d", loadErr.Sequence)
	}
	// Missing audio is retried once at this layer before surfacing.
	if got := atomic.LoadInt64(&store.calls); got != 2 {
		t.Fatalf("expected exactly one automatic retry, got %d calls", got)
	}
}
