package deepgram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lectern-ai/lectern/pkg/adapters/stt"
	"github.com/lectern-ai/lectern/pkg/errorsx"
	"github.com/lectern-ai/lectern/pkg/logging"
	"github.com/lectern-ai/lectern/pkg/resilience"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	restinterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey   string
	Model    string
	Language string
	// ConfidenceFloor marks transcriptions below it as ambiguous.
	ConfidenceFloor float64
}

// Transcriber converts one captured question utterance into text using
// Deepgram's prerecorded endpoint. Question capture is short-utterance
// request/response work, so no live socket is held between questions.
type Transcriber struct {
	cfg    Config
	rest   *api.Client
	logger *slog.Logger
	retry  resilience.RetryPolicy
}

func New(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = 0.5
	}
	dg := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return &Transcriber{
		cfg:    cfg,
		rest:   api.New(dg),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
		retry:  resilience.NewRetryPolicy(1, 200*time.Millisecond),
	}
}

func (t *Transcriber) Name() string { return "deepgram_prerecorded" }

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, cfg stt.Config) (stt.Result, error) {
	if len(audio) == 0 {
		return stt.Result{}, errorsx.Wrap(fmt.Errorf("empty audio"), errorsx.ReasonSTTTranscribe)
	}
	language := cfg.Language
	if language == "" {
		language = t.cfg.Language
	}
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    language,
		SmartFormat: true,
		Punctuate:   true,
	}

	t.logger.Debug("transcribing utterance",
		slog.String("session_id", cfg.SessionID),
		slog.Int("size_bytes", len(audio)))

	var res *restinterfaces.PreRecordedResponse
	err := t.retry.DoCtx(ctx, func() error {
		var derr error
		res, derr = t.rest.FromStream(ctx, bytes.NewReader(audio), options)
		return derr
	})
	if err != nil {
		t.logger.Error("deepgram_transcribe_error",
			slog.String("session_id", cfg.SessionID),
			slog.String("error", err.Error()))
		return stt.Result{}, errorsx.Wrap(err, errorsx.ReasonSTTTranscribe)
	}

	transcript, confidence := bestAlternative(res)
	result := stt.Result{Text: transcript, Confidence: confidence}
	if transcript == "" || confidence < t.cfg.ConfidenceFloor {
		t.logger.Warn("ambiguous_transcription",
			slog.String("session_id", cfg.SessionID),
			slog.Float64("confidence", confidence))
		return result, errorsx.Wrap(
			&stt.AmbiguousError{Text: transcript, Confidence: confidence},
			errorsx.ReasonTranscriptionAmbiguous)
	}

	t.logger.Info("transcript_received",
		slog.String("session_id", cfg.SessionID),
		slog.Float64("confidence", confidence))
	return result, nil
}

func bestAlternative(res *restinterfaces.PreRecordedResponse) (string, float64) {
	if res == nil || len(res.Results.Channels) == 0 {
		return "", 0
	}
	ch := res.Results.Channels[0]
	if len(ch.Alternatives) == 0 {
		return "", 0
	}
	alt := ch.Alternatives[0]
	return alt.Transcript, alt.Confidence
}

var _ stt.Transcriber = (*Transcriber)(nil)
