// Package mock provides in-memory provider implementations for tests
// and local development.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/lectern-ai/lectern/pkg/adapters/qa"
	"github.com/lectern-ai/lectern/pkg/adapters/stt"
	"github.com/lectern-ai/lectern/pkg/adapters/tts"
	"github.com/lectern-ai/lectern/pkg/segment"
)

type Transcriber struct {
	cfg TranscriberConfig

	mu    sync.Mutex
	calls int
}

type TranscriberConfig struct {
	Text       string
	Confidence float64
	Err        error
	// Delay simulates provider latency; the call still honors ctx.
	Delay time.Duration
}

func NewTranscriber(cfg TranscriberConfig) *Transcriber {
	if cfg.Confidence == 0 {
		cfg.Confidence = 0.95
	}
	return &Transcriber{cfg: cfg}
}

func (t *Transcriber) Name() string { return "mock_stt" }

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, cfg stt.Config) (stt.Result, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	if err := wait(ctx, t.cfg.Delay); err != nil {
		return stt.Result{}, err
	}
	if t.cfg.Err != nil {
		return stt.Result{}, t.cfg.Err
	}
	return stt.Result{Text: t.cfg.Text, Confidence: t.cfg.Confidence}, nil
}

func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type Synthesizer struct {
	cfg SynthesizerConfig

	mu    sync.Mutex
	texts []string
}

type SynthesizerConfig struct {
	Err   error
	Delay time.Duration
}

func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice segment.VoiceProfile, cfg tts.Config) ([]byte, error) {
	if err := wait(ctx, s.cfg.Delay); err != nil {
		return nil, err
	}
	if s.cfg.Err != nil {
		return nil, s.cfg.Err
	}
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	return []byte("synth:" + voice.VoiceID + ":" + text), nil
}

// Texts returns every synthesized text in call order.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type Answerer struct {
	cfg AnswererConfig

	mu       sync.Mutex
	requests []qa.Request
}

type AnswererConfig struct {
	Acknowledgment string
	Answer         string
	Err            error
	Delay          time.Duration
}

func NewAnswerer(cfg AnswererConfig) *Answerer {
	if cfg.Acknowledgment == "" {
		cfg.Acknowledgment = "Good question."
	}
	if cfg.Answer == "" {
		cfg.Answer = "mock answer"
	}
	return &Answerer{cfg: cfg}
}

func (a *Answerer) Name() string { return "mock_qa" }

func (a *Answerer) Answer(ctx context.Context, req qa.Request) (qa.Response, error) {
	if err := wait(ctx, a.cfg.Delay); err != nil {
		return qa.Response{}, err
	}
	if a.cfg.Err != nil {
		return qa.Response{}, a.cfg.Err
	}
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()
	return qa.Response{Acknowledgment: a.cfg.Acknowledgment, Answer: a.cfg.Answer}, nil
}

// Requests returns every answered request in call order.
func (a *Answerer) Requests() []qa.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]qa.Request(nil), a.requests...)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

var (
	_ stt.Transcriber = (*Transcriber)(nil)
	_ tts.Synthesizer = (*Synthesizer)(nil)
	_ qa.Answerer     = (*Answerer)(nil)
)
