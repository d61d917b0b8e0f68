package contracts

import (
	"context"
	"errors"
	"fmt"

	"github.com/tiger/discharge-followup/api/calls"
)

// Modality defines provider families selectable at runtime.
type Modality string

const (
	ModalitySTT Modality = "stt"
	ModalityTTS Modality = "tts"
)

// Validate enforces supported provider modality values.
func (m Modality) Validate() error {
	switch m {
	case ModalitySTT, ModalityTTS:
		return nil
	default:
		return fmt.Errorf("unsupported modality: %q", m)
	}
}

// Normalized failure reasons shared by all adapters.
const (
	ReasonTimeout       = "provider_timeout"
	ReasonCancelled     = "provider_cancelled"
	ReasonOverload      = "provider_overload"
	ReasonAuthBlock     = "provider_auth_or_policy_block"
	ReasonClientError   = "provider_client_error"
	ReasonServerError   = "provider_server_error"
	ReasonTransport     = "provider_transport_error"
	ReasonParse         = "provider_response_parse_error"
	ReasonEmptyAudio    = "provider_empty_audio"
	ReasonMissingConfig = "provider_config_missing"
)

// ProviderError reports a failed dial, synthesis or transcription attempt.
type ProviderError struct {
	Provider   string
	Reason     string
	StatusCode int
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s failed: %s", e.Provider, e.Reason)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError builds a ProviderError with a normalized reason.
func NewProviderError(provider, reason string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Reason: reason, Cause: cause}
}

// IsProviderError reports whether err carries a ProviderError.
func IsProviderError(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr)
}

// ConfigurationError reports an unsupported or misconfigured provider selection.
type ConfigurationError struct {
	Modality Modality
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s provider %q misconfigured: %s", e.Modality, e.Provider, e.Reason)
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// SynthesisOptions carries per-request voice hints.
type SynthesisOptions struct {
	Gender  calls.VoiceGender
	VoiceID string
}

// SynthesisResult is the synthesized audio payload.
type SynthesisResult struct {
	Audio       []byte
	ContentType string
}

// TranscriptionOptions carries per-request language hints.
type TranscriptionOptions struct {
	LanguageHint string
}

// TranscriptionResult is the recognized text plus audio duration when the backend knows it.
type TranscriptionResult struct {
	Text            string
	DurationSeconds *float64
}

// Synthesizer is the text-to-speech capability.
// Adapters are pure request/response boundaries and never persist anything.
type Synthesizer interface {
	ProviderID() string
	Synthesize(ctx context.Context, text string, opts SynthesisOptions) (SynthesisResult, error)
}

// Transcriber is the speech-to-text capability.
type Transcriber interface {
	ProviderID() string
	Transcribe(ctx context.Context, audioURL string, opts TranscriptionOptions) (TranscriptionResult, error)
}

// NativeSpeaker is implemented by synthesizers that speak through telephony markup
// instead of returning audio.
type NativeSpeaker interface {
	NativeVoice(gender calls.VoiceGender) string
}

// StaticSynthesizer is a small utility synthesizer for tests.
type StaticSynthesizer struct {
	ID           string
	SynthesizeFn func(ctx context.Context, text string, opts SynthesisOptions) (SynthesisResult, error)
}

func (s StaticSynthesizer) ProviderID() string {
	return s.ID
}

func (s StaticSynthesizer) Synthesize(ctx context.Context, text string, opts SynthesisOptions) (SynthesisResult, error) {
	if s.SynthesizeFn != nil {
		return s.SynthesizeFn(ctx, text, opts)
	}
	return SynthesisResult{Audio: []byte(text), ContentType: "audio/mpeg"}, nil
}

// StaticTranscriber is a small utility transcriber for tests.
type StaticTranscriber struct {
	ID           string
	TranscribeFn func(ctx context.Context, audioURL string, opts TranscriptionOptions) (TranscriptionResult, error)
}

func (s StaticTranscriber) ProviderID() string {
	return s.ID
}

func (s StaticTranscriber) Transcribe(ctx context.Context, audioURL string, opts TranscriptionOptions) (TranscriptionResult, error) {
	if s.TranscribeFn != nil {
		return s.TranscribeFn(ctx, audioURL, opts)
	}
	return TranscriptionResult{}, nil
}

// Seconds returns a pointer for TranscriptionResult.DurationSeconds.
func Seconds(v float64) *float64 {
	return &v
}

// DialRequest asks the telephony platform to originate one outbound call.
type DialRequest struct {
	To        string
	AnswerURL string
	HangupURL string
}

// DialResult carries the platform's identifier for an accepted call.
type DialResult struct {
	ProviderCallID string
}

// Dialer is the telephony origination capability.
type Dialer interface {
	ProviderID() string
	Dial(ctx context.Context, req DialRequest) (DialResult, error)
}

// StaticDialer is a small utility dialer for tests.
type StaticDialer struct {
	ID     string
	DialFn func(ctx context.Context, req DialRequest) (DialResult, error)
}

func (d StaticDialer) ProviderID() string {
	return d.ID
}

func (d StaticDialer) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	if d.DialFn != nil {
		return d.DialFn(ctx, req)
	}
	return DialResult{ProviderCallID: "static-" + req.To}, nil
}
