package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lectern-ai/lectern/pkg/adapters/tts"
	"github.com/lectern-ai/lectern/pkg/errorsx"
	"github.com/lectern-ai/lectern/pkg/logging"
	"github.com/lectern-ai/lectern/pkg/resilience"
	"github.com/lectern-ai/lectern/pkg/segment"
)

type Config struct {
	APIKey       string
	OutputFormat string
	SampleRate   int
	// DefaultModelID applies when the voice profile carries no model.
	DefaultModelID string
}

// Synthesizer renders transition phrases and answers through the
// ElevenLabs stream-input websocket. Each Synthesize call opens one
// connection, collects every audio chunk, and returns the assembled
// clip once the service marks generation final.
type Synthesizer struct {
	cfg     Config
	logger  *slog.Logger
	breaker *resilience.CircuitBreaker
}

func New(cfg Config) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 44100
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	return &Synthesizer{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
		breaker: resilience.NewCircuitBreaker(3, 30*time.Second),
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice segment.VoiceProfile, cfg tts.Config) ([]byte, error) {
	if s.cfg.APIKey == "" || voice.VoiceID == "" {
		return nil, errorsx.Wrap(errors.New("missing elevenlabs config"), errorsx.ReasonTTSConnect)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errorsx.Wrap(errors.New("empty text"), errorsx.ReasonTTSSynthesize)
	}
	if !s.breaker.Allow() {
		return nil, errorsx.Wrap(
			resilience.RateLimitError{Provider: "elevenlabs", Message: "circuit open"},
			errorsx.ReasonTTSRateLimit)
	}

	audio, err := s.synthesizeOnce(ctx, text, voice, cfg)
	if err != nil {
		s.breaker.OnError(err)
		if resilience.IsRateLimit(err) {
			return nil, errorsx.Wrap(err, errorsx.ReasonTTSRateLimit)
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	s.breaker.OnSuccess()
	return audio, nil
}

func (s *Synthesizer) synthesizeOnce(ctx context.Context, text string, voice segment.VoiceProfile, cfg tts.Config) ([]byte, error) {
	u := s.buildURL(voice)

	s.logger.Debug("connecting to ElevenLabs",
		slog.String("session_id", cfg.SessionID),
		slog.String("voice_id", voice.VoiceID),
		slog.String("output_format", s.cfg.OutputFormat))

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(ctx, u, http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			s.logger.Error("ElevenLabs rate limit exceeded",
				slog.String("session_id", cfg.SessionID),
				slog.String("status", resp.Status))
			return nil, resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
		}
		s.logger.Error("failed to connect to ElevenLabs",
			slog.String("session_id", cfg.SessionID),
			slog.String("error", err.Error()))
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	init := map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
	}
	if err := conn.WriteJSON(init); err != nil {
		return nil, err
	}
	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	if err := conn.WriteJSON(map[string]any{"text": text, "try_trigger_generation": true}); err != nil {
		return nil, err
	}
	// Empty text closes the input stream and forces final generation.
	if err := conn.WriteJSON(map[string]any{"text": ""}); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && out.Len() > 0 {
				break
			}
			return nil, err
		}
		final, chunk, err := decodeChunk(data)
		if err != nil {
			s.logger.Warn("tts chunk decode error",
				slog.String("session_id", cfg.SessionID),
				slog.String("error", err.Error()))
			continue
		}
		out.Write(chunk)
		if final {
			break
		}
	}

	s.logger.Info("synthesis complete",
		slog.String("session_id", cfg.SessionID),
		slog.String("voice_id", voice.VoiceID),
		slog.Int("size_bytes", out.Len()))
	return out.Bytes(), nil
}

func (s *Synthesizer) buildURL(voice segment.VoiceProfile) string {
	base := "wss://api.elevenlabs.io/v1/text-to-speech/" + voice.VoiceID + "/stream-input"
	q := url.Values{}
	model := voice.ModelID
	if model == "" {
		model = s.cfg.DefaultModelID
	}
	if model != "" {
		q.Set("model_id", model)
	}
	q.Set("output_format", s.cfg.OutputFormat)
	return base + "?" + q.Encode()
}

func decodeChunk(data []byte) (final bool, chunk []byte, err error) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return false, nil, err
	}
	if f, ok := msg["isFinal"].(bool); ok && f {
		return true, nil, nil
	}
	audio, ok := msg["audio"].(string)
	if !ok || audio == "" {
		return false, nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(audio)
	if err != nil {
		return false, nil, err
	}
	return false, raw, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
