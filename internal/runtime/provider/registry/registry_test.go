package registry

import (
	"errors"
	"testing"

	"github.com/tiger/discharge-followup/api/calls"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
)

func staticSynth(id string) SynthesizerFactory {
	return func(calls.ProviderSettings) (contracts.Synthesizer, error) {
		return contracts.StaticSynthesizer{ID: id}, nil
	}
}

func staticSTT(id string) TranscriberFactory {
	return func(calls.ProviderSettings) (contracts.Transcriber, error) {
		return contracts.StaticTranscriber{ID: id}, nil
	}
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()

	reg, err := New(Options{
		Synthesizers: map[string]SynthesizerFactory{
			"plivo":      staticSynth("plivo"),
			"elevenlabs": staticSynth("elevenlabs"),
			"azure":      staticSynth("azure"),
		},
		Transcribers: map[string]TranscriberFactory{
			"deepgram": staticSTT("deepgram"),
			"google":   staticSTT("google"),
		},
		DefaultTTS: "plivo",
		DefaultSTT: "deepgram",
	})
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}
	return reg
}

func TestSelectionFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	tts, err := reg.Synthesizer(calls.ProviderSettings{})
	if err != nil || tts.ProviderID() != "plivo" {
		t.Fatalf("expected default tts, got %v err=%v", tts, err)
	}
	stt, err := reg.Transcriber(calls.ProviderSettings{STTProvider: "  "})
	if err != nil || stt.ProviderID() != "deepgram" {
		t.Fatalf("expected default stt, got %v err=%v", stt, err)
	}
}

func TestSelectionIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	tts, err := reg.Synthesizer(calls.ProviderSettings{TTSProvider: "ElevenLabs"})
	if err != nil || tts.ProviderID() != "elevenlabs" {
		t.Fatalf("expected elevenlabs, got %v err=%v", tts, err)
	}
	stt, err := reg.Transcriber(calls.ProviderSettings{STTProvider: "GOOGLE"})
	if err != nil || stt.ProviderID() != "google" {
		t.Fatalf("expected google, got %v err=%v", stt, err)
	}
}

func TestUnknownProviderIsConfigurationError(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	_, err := reg.Synthesizer(calls.ProviderSettings{TTSProvider: "watson"})
	var cfgErr *contracts.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Modality != contracts.ModalityTTS || cfgErr.Provider != "watson" {
		t.Fatalf("expected tts configuration error, got %v", err)
	}
	_, err = reg.Transcriber(calls.ProviderSettings{STTProvider: "assemblyai"})
	if !contracts.IsConfigurationError(err) {
		t.Fatalf("expected stt configuration error, got %v", err)
	}
}

func TestFactoryErrorIsConfigurationError(t *testing.T) {
	t.Parallel()

	reg, err := New(Options{
		Synthesizers: map[string]SynthesizerFactory{
			"plivo": func(calls.ProviderSettings) (contracts.Synthesizer, error) {
				return nil, errors.New("credentials missing")
			},
		},
		Transcribers: map[string]TranscriberFactory{"deepgram": staticSTT("deepgram")},
		DefaultTTS:   "plivo",
		DefaultSTT:   "deepgram",
	})
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}
	if _, err := reg.Synthesizer(calls.ProviderSettings{}); !contracts.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewRejectsUnregisteredDefault(t *testing.T) {
	t.Parallel()

	_, err := New(Options{
		Synthesizers: map[string]SynthesizerFactory{"plivo": staticSynth("plivo")},
		Transcribers: map[string]TranscriberFactory{"deepgram": staticSTT("deepgram")},
		DefaultTTS:   "elevenlabs",
		DefaultSTT:   "deepgram",
	})
	if !contracts.IsConfigurationError(err) {
		t.Fatalf("expected unregistered default to fail, got %v", err)
	}
}

func TestProviderIDsDeterministic(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	ids, err := reg.ProviderIDs(contracts.ModalityTTS)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"azure", "elevenlabs", "plivo"}
	if len(ids) != len(want) {
		t.Fatalf("unexpected ids %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("unexpected ids %v", ids)
		}
	}
	if !reg.Supports(contracts.ModalitySTT, "Google") || reg.Supports(contracts.ModalitySTT, "whisper") {
		t.Fatalf("unexpected Supports result")
	}
}
