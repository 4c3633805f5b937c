package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lectern-ai/lectern/pkg/adapters/qa"
	"github.com/lectern-ai/lectern/pkg/adapters/stt"
	"github.com/lectern-ai/lectern/pkg/adapters/tts"
	"github.com/lectern-ai/lectern/pkg/configutil"
	"github.com/lectern-ai/lectern/pkg/lectern"
	"github.com/lectern-ai/lectern/pkg/logging"
	"github.com/lectern-ai/lectern/pkg/metrics"
	"github.com/lectern-ai/lectern/pkg/providers/deepgram"
	"github.com/lectern-ai/lectern/pkg/providers/elevenlabs"
	"github.com/lectern-ai/lectern/pkg/providers/mock"
	"github.com/lectern-ai/lectern/pkg/providers/openai"
	"github.com/lectern-ai/lectern/pkg/redact"
	"github.com/lectern-ai/lectern/pkg/runner"
	"github.com/lectern-ai/lectern/pkg/segment"
	"github.com/lectern-ai/lectern/pkg/session"
	"github.com/lectern-ai/lectern/pkg/store"
	"github.com/lectern-ai/lectern/pkg/transport"
)

type deepgramSettings struct {
	APIKey          string  `mapstructure:"api_key"`
	Model           string  `mapstructure:"model"`
	Language        string  `mapstructure:"language"`
	ConfidenceFloor float64 `mapstructure:"confidence_floor"`
}

type elevenlabsSettings struct {
	APIKey       string `mapstructure:"api_key"`
	ModelID      string `mapstructure:"model_id"`
	OutputFormat string `mapstructure:"output_format"`
	SampleRate   int    `mapstructure:"sample_rate"`
}

type openAISettings struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type mockQASettings struct {
	Acknowledgment string `mapstructure:"acknowledgment"`
	Answer         string `mapstructure:"answer"`
}

func parseLevel(v string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the service config file")
	flag.Parse()

	cfg, err := lectern.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.InitLogger(parseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(logger)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("store init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	segs, err := buildSegmentStore(cfg)
	if err != nil {
		slog.Error("segment store init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry := lectern.NewProviderRegistry()
	registerProviders(registry)
	providers, err := buildProviders(registry, cfg)
	if err != nil {
		slog.Error("provider init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	coord := session.NewCoordinator(st, segs)
	if cfg.Metrics.JSONLPath != "" {
		f, err := os.OpenFile(cfg.Metrics.JSONLPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error("metrics file open failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer f.Close()
		coord.SetObserver(metrics.NewJSONLObserver(f))
	}

	tcfg := cfg.Transport
	if cfg.Engine.ProviderTimeoutMS > 0 {
		tcfg.ProviderTimeout = time.Duration(cfg.Engine.ProviderTimeoutMS) * time.Millisecond
	}
	if cfg.Engine.SilenceTimeoutMS > 0 {
		tcfg.SilenceTimeout = time.Duration(cfg.Engine.SilenceTimeoutMS) * time.Millisecond
	}
	if cfg.Engine.PositionDebounceMS > 0 {
		tcfg.PositionDebounce = time.Duration(cfg.Engine.PositionDebounceMS) * time.Millisecond
	}
	server := transport.New(tcfg, coord, segs, providers, voiceTable(cfg))

	life := runner.NewLifecycleRunner(drainAdapter{server}, runner.Hooks{
		OnStart: func() { _ = server.Start(ctx) },
	}, 10*time.Second)
	if err := life.Run(ctx); err != nil {
		slog.Error("shutdown incomplete", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type drainAdapter struct {
	server *transport.Server
}

func (d drainAdapter) Drain() error { return d.server.Stop() }

func buildStore(ctx context.Context, cfg lectern.Config) (session.Store, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return store.NewMemory(), nil
	case "postgres":
		if err := configutil.RequireString(cfg.Store.DSN, "store.dsn"); err != nil {
			return nil, err
		}
		return store.NewPostgres(ctx, cfg.Store.DSN)
	default:
		return nil, configutil.RequireOneOf(cfg.Store.Driver, "store.driver", "memory", "postgres")
	}
}

func buildSegmentStore(cfg lectern.Config) (segment.Store, error) {
	switch cfg.Segments.Provider {
	case "http":
		if err := configutil.ValidateSettings(cfg.Segments.Settings, configutil.Schema{
			Required: []string{"base_url"},
			Optional: []string{"bearer_token", "timeout_ms"},
		}); err != nil {
			return nil, err
		}
		var settings segment.HTTPStoreConfig
		if err := configutil.DecodeSettings(cfg.Segments.Settings, &settings); err != nil {
			return nil, err
		}
		return segment.NewHTTPStore(settings), nil
	case "", "demo":
		return demoSegments(), nil
	default:
		return nil, configutil.RequireOneOf(cfg.Segments.Provider, "segments.provider", "http", "demo")
	}
}

// demoSegments installs a short built-in subject so the service runs
// end to end without a segment service.
func demoSegments() *segment.MemoryStore {
	ms := segment.NewMemoryStore()
	ms.PutSubject("demo", []segment.Segment{
		{
			ID: "demo-1", Sequence: 1, TopicLabel: "introduction",
			Dialogue: []segment.DialogueLine{
				{Speaker: segment.SpeakerHost, Text: "Welcome. Today we are looking at how interruptible playback works."},
				{Speaker: segment.SpeakerExpert, Text: "The short version: the current segment always finishes before we stop."},
			},
			EstimatedDuration: 45 * time.Second,
			TransitionPhrase:  "Sure, what would you like to know?",
			ResumePhrase:      "So, as I was saying.",
			Interruptible:     true,
		},
		{
			ID: "demo-2", Sequence: 2, TopicLabel: "wrap_up",
			Dialogue: []segment.DialogueLine{
				{Speaker: segment.SpeakerHost, Text: "And that wraps up our demo subject."},
			},
			EstimatedDuration: 30 * time.Second,
			TransitionPhrase:  "One last question?",
			ResumePhrase:      "To wrap things up.",
			Interruptible:     true,
		},
	}, map[int][]byte{})
	return ms
}

func voiceTable(cfg lectern.Config) segment.VoiceTable {
	return segment.VoiceTable{
		segment.SpeakerHost:   {VoiceID: cfg.Voices.Host.VoiceID, ModelID: cfg.Voices.Host.ModelID},
		segment.SpeakerExpert: {VoiceID: cfg.Voices.Expert.VoiceID, ModelID: cfg.Voices.Expert.ModelID},
	}
}

func buildProviders(registry *lectern.ProviderRegistry, cfg lectern.Config) (transport.Providers, error) {
	transcriber, err := registry.BuildSTT(cfg)
	if err != nil {
		return transport.Providers{}, err
	}
	synthesizer, err := registry.BuildTTS(cfg)
	if err != nil {
		return transport.Providers{}, err
	}
	answerer, err := registry.BuildQA(cfg)
	if err != nil {
		return transport.Providers{}, err
	}
	return transport.Providers{STT: transcriber, TTS: synthesizer, QA: answerer}, nil
}

func registerProviders(reg *lectern.ProviderRegistry) {
	reg.RegisterSTT("deepgram", func(cfg lectern.Config) (stt.Transcriber, error) {
		if err := configutil.ValidateSettings(cfg.Vendors.STT.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "confidence_floor"},
		}); err != nil {
			return nil, err
		}
		var settings deepgramSettings
		if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.stt.settings.api_key"); err != nil {
			return nil, err
		}
		return deepgram.New(deepgram.Config{
			APIKey:          settings.APIKey,
			Model:           settings.Model,
			Language:        settings.Language,
			ConfidenceFloor: settings.ConfidenceFloor,
		}), nil
	})
	reg.RegisterSTT("mock", func(cfg lectern.Config) (stt.Transcriber, error) {
		return mock.NewTranscriber(mock.TranscriberConfig{}), nil
	})

	reg.RegisterTTS("elevenlabs", func(cfg lectern.Config) (tts.Synthesizer, error) {
		if err := configutil.ValidateSettings(cfg.Vendors.TTS.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model_id", "output_format", "sample_rate"},
		}); err != nil {
			return nil, err
		}
		var settings elevenlabsSettings
		if err := configutil.DecodeSettings(cfg.Vendors.TTS.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.tts.settings.api_key"); err != nil {
			return nil, err
		}
		return elevenlabs.New(elevenlabs.Config{
			APIKey:         settings.APIKey,
			DefaultModelID: settings.ModelID,
			OutputFormat:   settings.OutputFormat,
			SampleRate:     settings.SampleRate,
		}), nil
	})
	reg.RegisterTTS("mock", func(cfg lectern.Config) (tts.Synthesizer, error) {
		return mock.NewSynthesizer(mock.SynthesizerConfig{}), nil
	})

	reg.RegisterQA("openai", func(cfg lectern.Config) (qa.Answerer, error) {
		if err := configutil.ValidateSettings(cfg.Vendors.QA.Settings, configutil.Schema{
			Required: []string{"api_key", "model"},
			Optional: []string{"base_url"},
		}); err != nil {
			return nil, err
		}
		var settings openAISettings
		if err := configutil.DecodeSettings(cfg.Vendors.QA.Settings, &settings); err != nil {
			return nil, err
		}
		a := openai.NewAnswerer(settings.APIKey, settings.Model)
		if settings.BaseURL != "" {
			a.BaseURL = settings.BaseURL
		}
		return a, nil
	})
	reg.RegisterQA("mock", func(cfg lectern.Config) (qa.Answerer, error) {
		var settings mockQASettings
		if err := configutil.DecodeSettings(cfg.Vendors.QA.Settings, &settings); err != nil {
			return nil, err
		}
		return mock.NewAnswerer(mock.AnswererConfig{
			Acknowledgment: settings.Acknowledgment,
			Answer:         settings.Answer,
		}), nil
	})
}
