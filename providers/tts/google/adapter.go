package google

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/tiger/discharge-followup/api/calls"
	providerconfig "github.com/tiger/discharge-followup/internal/runtime/provider/config"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
	"github.com/tiger/discharge-followup/internal/runtime/provider/voice"
	"github.com/tiger/discharge-followup/providers/common/httpadapter"
)

const ProviderID = "google"

type Config struct {
	APIKey    string
	Endpoint  string
	Language  string
	VoiceName string
	Timeout   time.Duration
}

type Adapter struct {
	cfg    Config
	client *httpadapter.Client
}

func ConfigFromEnv(env providerconfig.Env) Config {
	return Config{
		APIKey:    env.Value("GOOGLE_API_KEY", ""),
		Endpoint:  env.Value("GOOGLE_TTS_ENDPOINT", "https://texttospeech.googleapis.com/v1/text:synthesize"),
		Language:  env.Value("GOOGLE_TTS_LANGUAGE", "en-US"),
		VoiceName: env.Value("GOOGLE_TTS_VOICE", ""),
		Timeout:   env.Duration("GOOGLE_TTS_TIMEOUT", 15*time.Second),
	}
}

// WithSettings applies the language and voice chosen by the operator.
func (c Config) WithSettings(s calls.ProviderSettings) Config {
	if v := strings.TrimSpace(s.GoogleLanguage); v != "" {
		c.Language = v
	}
	if v := strings.TrimSpace(s.GoogleVoiceName); v != "" {
		c.VoiceName = v
	}
	return c
}

func NewAdapter(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "en-US"
	}
	client, err := httpadapter.New(httpadapter.Config{
		ProviderID:       ProviderID,
		Endpoint:         cfg.Endpoint,
		APIKey:           cfg.APIKey,
		QueryAPIKeyParam: "key",
		Timeout:          cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, client: client}, nil
}

func (a *Adapter) ProviderID() string {
	return ProviderID
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

func (a *Adapter) Synthesize(ctx context.Context, text string, opts contracts.SynthesisOptions) (contracts.SynthesisResult, error) {
	voiceParams := map[string]any{
		"languageCode": a.cfg.Language,
		"ssmlGender":   ssmlGender(opts.Gender),
	}
	if name := (voice.Selection{Override: a.cfg.VoiceName, Requested: opts.VoiceID}).Resolve(opts.Gender); name != "" {
		voiceParams["name"] = name
	}

	resp, err := a.client.PostJSON(ctx, httpadapter.Request{}, map[string]any{
		"input":       map[string]any{"text": text},
		"voice":       voiceParams,
		"audioConfig": map[string]any{"audioEncoding": "MP3"},
	})
	if err != nil {
		return contracts.SynthesisResult{}, err
	}
	var parsed synthesizeResponse
	if err := a.client.DecodeJSON(resp, &parsed); err != nil {
		return contracts.SynthesisResult{}, err
	}
	if parsed.AudioContent == "" {
		return contracts.SynthesisResult{}, contracts.NewProviderError(ProviderID, contracts.ReasonEmptyAudio, nil)
	}
	audio, err := base64.StdEncoding.DecodeString(parsed.AudioContent)
	if err != nil {
		return contracts.SynthesisResult{}, contracts.NewProviderError(ProviderID, contracts.ReasonParse, err)
	}
	return contracts.SynthesisResult{Audio: audio, ContentType: "audio/mpeg"}, nil
}

func ssmlGender(g calls.VoiceGender) string {
	if g == calls.GenderFemale {
		return "FEMALE"
	}
	return "MALE"
}
