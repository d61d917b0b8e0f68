package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tiger/discharge-followup/api/calls"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
)

// SynthesizerFactory builds a TTS adapter for the current settings.
type SynthesizerFactory func(settings calls.ProviderSettings) (contracts.Synthesizer, error)

// TranscriberFactory builds an STT adapter for the current settings.
type TranscriberFactory func(settings calls.ProviderSettings) (contracts.Transcriber, error)

// Options lists the closed provider sets and the keys used when settings leave a
// selection empty.
type Options struct {
	Synthesizers map[string]SynthesizerFactory
	Transcribers map[string]TranscriberFactory
	DefaultTTS   string
	DefaultSTT   string
}

// Registry resolves provider keys to adapters. Keys are matched case-insensitively;
// an unknown key is a ConfigurationError, never a silent fallback.
type Registry struct {
	synthesizers map[string]SynthesizerFactory
	transcribers map[string]TranscriberFactory
	ordered      map[contracts.Modality][]string
	defaultTTS   string
	defaultSTT   string
}

// New creates a registry and verifies that both fallback keys are registered.
func New(opts Options) (*Registry, error) {
	r := &Registry{
		synthesizers: make(map[string]SynthesizerFactory, len(opts.Synthesizers)),
		transcribers: make(map[string]TranscriberFactory, len(opts.Transcribers)),
		ordered:      make(map[contracts.Modality][]string),
		defaultTTS:   normalizeKey(opts.DefaultTTS),
		defaultSTT:   normalizeKey(opts.DefaultSTT),
	}
	for key, factory := range opts.Synthesizers {
		if factory == nil {
			return nil, fmt.Errorf("tts factory %q cannot be nil", key)
		}
		id := normalizeKey(key)
		if _, exists := r.synthesizers[id]; exists {
			return nil, fmt.Errorf("duplicate tts provider %q", id)
		}
		r.synthesizers[id] = factory
		r.ordered[contracts.ModalityTTS] = append(r.ordered[contracts.ModalityTTS], id)
	}
	for key, factory := range opts.Transcribers {
		if factory == nil {
			return nil, fmt.Errorf("stt factory %q cannot be nil", key)
		}
		id := normalizeKey(key)
		if _, exists := r.transcribers[id]; exists {
			return nil, fmt.Errorf("duplicate stt provider %q", id)
		}
		r.transcribers[id] = factory
		r.ordered[contracts.ModalitySTT] = append(r.ordered[contracts.ModalitySTT], id)
	}
	for _, ids := range r.ordered {
		sort.Strings(ids)
	}

	if _, ok := r.synthesizers[r.defaultTTS]; !ok {
		return nil, &contracts.ConfigurationError{Modality: contracts.ModalityTTS, Provider: r.defaultTTS, Reason: "default provider is not registered"}
	}
	if _, ok := r.transcribers[r.defaultSTT]; !ok {
		return nil, &contracts.ConfigurationError{Modality: contracts.ModalitySTT, Provider: r.defaultSTT, Reason: "default provider is not registered"}
	}
	return r, nil
}

// Synthesizer builds the adapter named by settings.TTSProvider.
func (r *Registry) Synthesizer(settings calls.ProviderSettings) (contracts.Synthesizer, error) {
	key := r.resolveKey(settings.TTSProvider, r.defaultTTS)
	factory, ok := r.synthesizers[key]
	if !ok {
		return nil, &contracts.ConfigurationError{Modality: contracts.ModalityTTS, Provider: key, Reason: "unsupported provider"}
	}
	adapter, err := factory(settings)
	if err != nil {
		return nil, &contracts.ConfigurationError{Modality: contracts.ModalityTTS, Provider: key, Reason: err.Error()}
	}
	return adapter, nil
}

// Transcriber builds the adapter named by settings.STTProvider.
func (r *Registry) Transcriber(settings calls.ProviderSettings) (contracts.Transcriber, error) {
	key := r.resolveKey(settings.STTProvider, r.defaultSTT)
	factory, ok := r.transcribers[key]
	if !ok {
		return nil, &contracts.ConfigurationError{Modality: contracts.ModalitySTT, Provider: key, Reason: "unsupported provider"}
	}
	adapter, err := factory(settings)
	if err != nil {
		return nil, &contracts.ConfigurationError{Modality: contracts.ModalitySTT, Provider: key, Reason: err.Error()}
	}
	return adapter, nil
}

// ProviderIDs returns deterministic provider ids for a modality.
func (r *Registry) ProviderIDs(modality contracts.Modality) ([]string, error) {
	if err := modality.Validate(); err != nil {
		return nil, err
	}
	ids := r.ordered[modality]
	if len(ids) == 0 {
		return nil, fmt.Errorf("no providers registered for modality %q", modality)
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

// Supports reports whether key names a registered provider for the modality.
func (r *Registry) Supports(modality contracts.Modality, key string) bool {
	id := normalizeKey(key)
	switch modality {
	case contracts.ModalityTTS:
		_, ok := r.synthesizers[id]
		return ok
	case contracts.ModalitySTT:
		_, ok := r.transcribers[id]
		return ok
	default:
		return false
	}
}

func (r *Registry) resolveKey(selected, fallback string) string {
	if key := normalizeKey(selected); key != "" {
		return key
	}
	return fallback
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
