// Package lectern wires configuration, providers, and the serving
// surface into one runnable lecture playback service.
package lectern

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/lectern-ai/lectern/pkg/transport"
)

type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	LogFormat   string           `mapstructure:"log_format"`
	Engine      EngineConfig     `mapstructure:"engine"`
	Vendors     VendorsConfig    `mapstructure:"vendors"`
	Voices      VoicesConfig     `mapstructure:"voices"`
	Store       StoreConfig      `mapstructure:"store"`
	Segments    SegmentsConfig   `mapstructure:"segments"`
	Transport   transport.Config `mapstructure:"transport"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
	Privacy     PrivacyConfig    `mapstructure:"privacy"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// EngineConfig carries the interrupt-handling timings. The provider
// timeout bounds server-side Q&A calls; the silence timeout and
// position debounce are advertised to playback clients at session
// start.
type EngineConfig struct {
	SilenceTimeoutMS   int `mapstructure:"silence_timeout_ms"`
	ProviderTimeoutMS  int `mapstructure:"provider_timeout_ms"`
	PositionDebounceMS int `mapstructure:"position_debounce_ms"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	QA  VendorConfig `mapstructure:"qa"`
}

type VoiceConfig struct {
	VoiceID string `mapstructure:"voice_id"`
	ModelID string `mapstructure:"model_id"`
}

type VoicesConfig struct {
	Host   VoiceConfig `mapstructure:"host"`
	Expert VoiceConfig `mapstructure:"expert"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type SegmentsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type MetricsConfig struct {
	JSONLPath string `mapstructure:"jsonl_path"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("engine.silence_timeout_ms", 5000)
	v.SetDefault("engine.provider_timeout_ms", 10000)
	v.SetDefault("engine.position_debounce_ms", 250)
	v.SetDefault("vendors.stt.provider", "mock")
	v.SetDefault("vendors.tts.provider", "mock")
	v.SetDefault("vendors.qa.provider", "mock")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("segments.provider", "demo")
	v.SetDefault("transport.server_addr", ":8080")
	v.SetDefault("transport.allow_any_origin", false)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	return cfg, nil
}
