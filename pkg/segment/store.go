package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lectern-ai/lectern/pkg/errorsx"
	"github.com/lectern-ai/lectern/pkg/resilience"
)

// Store is the authoritative source of segments and their audio.
// Implementations must return segments sorted by sequence.
type Store interface {
	ListSegments(ctx context.Context, subjectID string) ([]Segment, error)
	OpenSegmentAudio(ctx context.Context, subjectID string, sequence int) (io.ReadCloser, error)
}

// HTTPStoreConfig configures the HTTP segment store client.
type HTTPStoreConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	BearerToken string `mapstructure:"bearer_token"`
	TimeoutMS   int    `mapstructure:"timeout_ms"`
}

// HTTPStore fetches segments and audio from the segment service
// under bearer-credentialed access.
type HTTPStore struct {
	cfg    HTTPStoreConfig
	client *http.Client
	retry  resilience.RetryPolicy
}

func NewHTTPStore(cfg HTTPStoreConfig) *HTTPStore {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPStore{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		retry:  resilience.NewRetryPolicy(1, 200*time.Millisecond),
	}
}

func (s *HTTPStore) ListSegments(ctx context.Context, subjectID string) ([]Segment, error) {
	var segs []Segment
	err := s.retry.Do(func() error {
		u := fmt.Sprintf("%s/v1/subjects/%s/segments", s.cfg.BaseURL, url.PathEscape(subjectID))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		s.applyHeaders(req)
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("segment list status %d: %s", resp.StatusCode, string(body))
		}
		var wire []wireSegment
		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return err
		}
		segs = segs[:0]
		for _, w := range wire {
			seg, err := w.toSegment()
			if err != nil {
				return err
			}
			segs = append(segs, seg)
		}
		return nil
	})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSegmentList)
	}
	SortSegments(segs)
	if err := ValidateSequence(segs); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSegmentList)
	}
	return segs, nil
}

func (s *HTTPStore) OpenSegmentAudio(ctx context.Context, subjectID string, sequence int) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/v1/subjects/%s/segments/%d/audio", s.cfg.BaseURL, url.PathEscape(subjectID), sequence)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSegmentAudio)
	}
	s.applyHeaders(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSegmentAudio)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errorsx.Wrap(fmt.Errorf("segment audio status %d: %s", resp.StatusCode, string(body)), errorsx.ReasonSegmentAudio)
	}
	return resp.Body, nil
}

func (s *HTTPStore) applyHeaders(req *http.Request) {
	if s.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.BearerToken)
	}
	req.Header.Set("Accept", "application/json")
}

type wireSegment struct {
	ID                 string     `json:"id"`
	Sequence           int        `json:"sequence"`
	TopicLabel         string     `json:"topic_label"`
	Dialogue           []wireLine `json:"dialogue"`
	EstimatedDurationS float64    `json:"estimated_duration_seconds"`
	ActualDurationS    float64    `json:"actual_duration_seconds"`
	TransitionPhrase   string     `json:"transition_phrase"`
	ResumePhrase       string     `json:"resume_phrase"`
	Interruptible      *bool      `json:"interruptible"`
}

type wireLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

func (w wireSegment) toSegment() (Segment, error) {
	seg := Segment{
		ID:                w.ID,
		Sequence:          w.Sequence,
		TopicLabel:        w.TopicLabel,
		EstimatedDuration: time.Duration(w.EstimatedDurationS * float64(time.Second)),
		ActualDuration:    time.Duration(w.ActualDurationS * float64(time.Second)),
		TransitionPhrase:  w.TransitionPhrase,
		ResumePhrase:      w.ResumePhrase,
		Interruptible:     true,
	}
	if w.Interruptible != nil {
		seg.Interruptible = *w.Interruptible
	}
	for _, l := range w.Dialogue {
		sp, err := ParseSpeaker(l.Speaker)
		if err != nil {
			return Segment{}, err
		}
		seg.Dialogue = append(seg.Dialogue, DialogueLine{Speaker: sp, Text: l.Text})
	}
	return seg, nil
}
