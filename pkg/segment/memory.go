package segment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/lectern-ai/lectern/pkg/errorsx"
)

// MemoryStore is an in-process segment store used by tests and demos.
type MemoryStore struct {
	mu       sync.RWMutex
	segments map[string][]Segment
	audio    map[string]map[int][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		segments: make(map[string][]Segment),
		audio:    make(map[string]map[int][]byte),
	}
}

// PutSubject installs the ordered segment list and audio blobs for a subject.
func (m *MemoryStore) PutSubject(subjectID string, segs []Segment, audio map[int][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := append([]Segment(nil), segs...)
	SortSegments(sorted)
	m.segments[subjectID] = sorted
	m.audio[subjectID] = audio
}

func (m *MemoryStore) ListSegments(ctx context.Context, subjectID string) ([]Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	segs, ok := m.segments[subjectID]
	if !ok {
		return nil, errorsx.Wrap(fmt.Errorf("subject %s not found", subjectID), errorsx.ReasonSegmentList)
	}
	if err := ValidateSequence(segs); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSegmentList)
	}
	return append([]Segment(nil), segs...), nil
}

func (m *MemoryStore) OpenSegmentAudio(ctx context.Context, subjectID string, sequence int) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blobs, ok := m.audio[subjectID]
	if !ok {
		return nil, errorsx.Wrap(fmt.Errorf("subject %s not found", subjectID), errorsx.ReasonSegmentAudio)
	}
	data, ok := blobs[sequence]
	if !ok {
		return nil, errorsx.Wrap(fmt.Errorf("no audio for sequence %d", sequence), errorsx.ReasonSegmentAudio)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
