package lectern

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lectern-ai/lectern/pkg/adapters/qa"
	"github.com/lectern-ai/lectern/pkg/adapters/stt"
	"github.com/lectern-ai/lectern/pkg/adapters/tts"
)

type TranscriberFactory func(cfg Config) (stt.Transcriber, error)
type SynthesizerFactory func(cfg Config) (tts.Synthesizer, error)
type AnswererFactory func(cfg Config) (qa.Answerer, error)

// ProviderRegistry maps vendor names from config onto provider
// constructors. The binary registers what it ships with; the config's
// vendors block selects per slot.
type ProviderRegistry struct {
	stt map[string]TranscriberFactory
	tts map[string]SynthesizerFactory
	qa  map[string]AnswererFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt: make(map[string]TranscriberFactory),
		tts: make(map[string]SynthesizerFactory),
		qa:  make(map[string]AnswererFactory),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, f TranscriberFactory) { r.stt[name] = f }

func (r *ProviderRegistry) RegisterTTS(name string, f SynthesizerFactory) { r.tts[name] = f }

func (r *ProviderRegistry) RegisterQA(name string, f AnswererFactory) { r.qa[name] = f }

func (r *ProviderRegistry) BuildSTT(cfg Config) (stt.Transcriber, error) {
	f, ok := r.stt[cfg.Vendors.STT.Provider]
	if !ok {
		return nil, unknownProvider("stt", cfg.Vendors.STT.Provider, keys(r.stt))
	}
	return f(cfg)
}

func (r *ProviderRegistry) BuildTTS(cfg Config) (tts.Synthesizer, error) {
	f, ok := r.tts[cfg.Vendors.TTS.Provider]
	if !ok {
		return nil, unknownProvider("tts", cfg.Vendors.TTS.Provider, keys(r.tts))
	}
	return f(cfg)
}

func (r *ProviderRegistry) BuildQA(cfg Config) (qa.Answerer, error) {
	f, ok := r.qa[cfg.Vendors.QA.Provider]
	if !ok {
		return nil, unknownProvider("qa", cfg.Vendors.QA.Provider, keys(r.qa))
	}
	return f(cfg)
}

func unknownProvider(slot, name string, known []string) error {
	return fmt.Errorf("unknown %s provider %q (registered: %s)", slot, name, strings.Join(known, ", "))
}

func keys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
