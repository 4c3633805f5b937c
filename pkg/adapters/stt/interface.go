// Package stt defines the vendor-agnostic speech-to-text contract used
// to capture listener questions.
package stt

import (
	"context"
	"fmt"
)

// Transcriber defines the contract for any STT vendor implementation.
type Transcriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Transcribe converts one captured utterance into text.
	Transcribe(ctx context.Context, audio []byte, cfg Config) (Result, error)
}

// Config contains vendor-agnostic STT configuration.
type Config struct {
	SessionID  string
	TraceID    string
	SampleRate int
	Language   string
	Encoding   string
}

// Result is one finished transcription.
type Result struct {
	Text       string
	Confidence float64
}

// AmbiguousError reports a transcription whose confidence fell below the
// adapter's usable threshold. The text is still carried for logging.
type AmbiguousError struct {
	Text       string
	Confidence float64
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous transcription (confidence %.2f)", e.Confidence)
}
