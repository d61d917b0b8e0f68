// Package plivo exposes the carrier's built-in text-to-speech. Prompts are spoken
// by the telephony platform from markup, so no audio is ever returned.
package plivo

import (
	"context"
	"errors"

	"github.com/tiger/discharge-followup/api/calls"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
)

const (
	ProviderID = "plivo"

	VoiceMan   = "MAN"
	VoiceWoman = "WOMAN"
)

var errNativeOnly = errors.New("plivo speech is rendered by the carrier and has no audio payload")

type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) ProviderID() string {
	return ProviderID
}

// Synthesize always fails; callers check for contracts.NativeSpeaker first.
func (a *Adapter) Synthesize(ctx context.Context, text string, opts contracts.SynthesisOptions) (contracts.SynthesisResult, error) {
	return contracts.SynthesisResult{}, contracts.NewProviderError(ProviderID, contracts.ReasonClientError, errNativeOnly)
}

func (a *Adapter) NativeVoice(gender calls.VoiceGender) string {
	if gender == calls.GenderFemale {
		return VoiceWoman
	}
	return VoiceMan
}
