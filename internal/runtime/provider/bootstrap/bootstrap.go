package bootstrap

import (
	"fmt"

	"github.com/tiger/discharge-followup/api/calls"
	providerconfig "github.com/tiger/discharge-followup/internal/runtime/provider/config"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
	"github.com/tiger/discharge-followup/internal/runtime/provider/registry"
	sttazure "github.com/tiger/discharge-followup/providers/stt/azure"
	sttdeepgram "github.com/tiger/discharge-followup/providers/stt/deepgram"
	sttgoogle "github.com/tiger/discharge-followup/providers/stt/google"
	sttwhisper "github.com/tiger/discharge-followup/providers/stt/whisper"
	ttsazure "github.com/tiger/discharge-followup/providers/tts/azure"
	ttselevenlabs "github.com/tiger/discharge-followup/providers/tts/elevenlabs"
	ttsgoogle "github.com/tiger/discharge-followup/providers/tts/google"
	ttsplivo "github.com/tiger/discharge-followup/providers/tts/plivo"
	ttspolly "github.com/tiger/discharge-followup/providers/tts/polly"
)

// Options selects the fallback providers used when settings leave a choice empty.
type Options struct {
	DefaultTTS string
	DefaultSTT string
}

// BuildProviders wires every supported adapter from the environment. Adapter configs
// are read once; per-call settings are layered on inside each factory.
func BuildProviders(env providerconfig.Env, opts Options) (*registry.Registry, error) {
	if opts.DefaultTTS == "" {
		opts.DefaultTTS = ttsplivo.ProviderID
	}
	if opts.DefaultSTT == "" {
		opts.DefaultSTT = sttdeepgram.ProviderID
	}

	elevenCfg := ttselevenlabs.ConfigFromEnv(env)
	azureTTSCfg := ttsazure.ConfigFromEnv(env)
	googleTTSCfg := ttsgoogle.ConfigFromEnv(env)
	pollyCfg := ttspolly.ConfigFromEnv(env)
	deepgramCfg := sttdeepgram.ConfigFromEnv(env)
	googleSTTCfg := sttgoogle.ConfigFromEnv(env)
	whisperCfg := sttwhisper.ConfigFromEnv(env)
	azureSTTCfg := sttazure.ConfigFromEnv(env)

	// Polly resolves AWS credentials lazily and is safe to share.
	polly, err := ttspolly.NewAdapter(pollyCfg)
	if err != nil {
		return nil, err
	}
	plivo := ttsplivo.NewAdapter()

	return registry.New(registry.Options{
		Synthesizers: map[string]registry.SynthesizerFactory{
			ttselevenlabs.ProviderID: func(s calls.ProviderSettings) (contracts.Synthesizer, error) {
				return ttselevenlabs.NewAdapter(elevenCfg.WithSettings(s))
			},
			ttsazure.ProviderID: func(s calls.ProviderSettings) (contracts.Synthesizer, error) {
				return ttsazure.NewAdapter(azureTTSCfg.WithSettings(s))
			},
			ttsgoogle.ProviderID: func(s calls.ProviderSettings) (contracts.Synthesizer, error) {
				return ttsgoogle.NewAdapter(googleTTSCfg.WithSettings(s))
			},
			ttspolly.ProviderID: func(calls.ProviderSettings) (contracts.Synthesizer, error) {
				return polly, nil
			},
			ttsplivo.ProviderID: func(calls.ProviderSettings) (contracts.Synthesizer, error) {
				return plivo, nil
			},
		},
		Transcribers: map[string]registry.TranscriberFactory{
			sttdeepgram.ProviderID: func(calls.ProviderSettings) (contracts.Transcriber, error) {
				return sttdeepgram.NewAdapter(deepgramCfg)
			},
			sttgoogle.ProviderID: func(s calls.ProviderSettings) (contracts.Transcriber, error) {
				return sttgoogle.NewAdapter(googleSTTCfg.WithSettings(s))
			},
			sttwhisper.ProviderID: func(calls.ProviderSettings) (contracts.Transcriber, error) {
				return sttwhisper.NewAdapter(whisperCfg)
			},
			sttazure.ProviderID: func(calls.ProviderSettings) (contracts.Transcriber, error) {
				return sttazure.NewAdapter(azureSTTCfg)
			},
		},
		DefaultTTS: opts.DefaultTTS,
		DefaultSTT: opts.DefaultSTT,
	})
}

// Summary returns deterministic provider lists by modality.
func Summary(reg *registry.Registry) (string, error) {
	stt, err := reg.ProviderIDs(contracts.ModalitySTT)
	if err != nil {
		return "", err
	}
	tts, err := reg.ProviderIDs(contracts.ModalityTTS)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("providers initialized: stt=%v tts=%v", stt, tts), nil
}
