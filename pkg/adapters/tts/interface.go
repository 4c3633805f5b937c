// Package tts defines the vendor-agnostic text-to-speech contract used
// to voice transition phrases and answers.
package tts

import (
	"context"

	"github.com/lectern-ai/lectern/pkg/segment"
)

// Synthesizer defines the contract for any TTS vendor implementation.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize renders text with the given voice and returns the
	// encoded audio.
	Synthesize(ctx context.Context, text string, voice segment.VoiceProfile, cfg Config) ([]byte, error)
}

// Config contains vendor-agnostic TTS configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Format     string
}
