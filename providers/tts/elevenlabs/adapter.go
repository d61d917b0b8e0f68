package elevenlabs

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/tiger/discharge-followup/api/calls"
	providerconfig "github.com/tiger/discharge-followup/internal/runtime/provider/config"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
	"github.com/tiger/discharge-followup/internal/runtime/provider/voice"
	"github.com/tiger/discharge-followup/providers/common/httpadapter"
)

const ProviderID = "elevenlabs"

type Config struct {
	APIKey        string
	BaseURL       string
	ModelID       string
	MaleVoiceID   string
	FemaleVoiceID string
	Timeout       time.Duration
}

type Adapter struct {
	cfg    Config
	client *httpadapter.Client
}

func ConfigFromEnv(env providerconfig.Env) Config {
	return Config{
		APIKey:        env.Value("ELEVENLABS_API_KEY", ""),
		BaseURL:       env.Value("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io/v1"),
		ModelID:       env.Value("ELEVENLABS_MODEL", "eleven_multilingual_v2"),
		MaleVoiceID:   env.Value("ELEVENLABS_VOICE_MALE_ID", ""),
		FemaleVoiceID: env.Value("ELEVENLABS_VOICE_FEMALE_ID", ""),
		Timeout:       env.Duration("ELEVENLABS_TIMEOUT", 20*time.Second),
	}
}

// WithSettings applies per-gender voice ids stored in settings over the env defaults.
func (c Config) WithSettings(s calls.ProviderSettings) Config {
	if v := strings.TrimSpace(s.ElevenMaleVoice); v != "" {
		c.MaleVoiceID = v
	}
	if v := strings.TrimSpace(s.ElevenFemaleVoice); v != "" {
		c.FemaleVoiceID = v
	}
	return c
}

func NewAdapter(cfg Config) (*Adapter, error) {
	client, err := httpadapter.New(httpadapter.Config{
		ProviderID:   ProviderID,
		Endpoint:     cfg.BaseURL,
		APIKey:       cfg.APIKey,
		APIKeyHeader: "xi-api-key",
		Timeout:      cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, client: client}, nil
}

func (a *Adapter) ProviderID() string {
	return ProviderID
}

func (a *Adapter) Synthesize(ctx context.Context, text string, opts contracts.SynthesisOptions) (contracts.SynthesisResult, error) {
	voiceID := voice.Selection{
		Requested: opts.VoiceID,
		Male:      a.cfg.MaleVoiceID,
		Female:    a.cfg.FemaleVoiceID,
	}.Resolve(opts.Gender)
	if voiceID == "" {
		return contracts.SynthesisResult{}, contracts.NewProviderError(ProviderID, contracts.ReasonMissingConfig, errors.New("voice id not provided"))
	}

	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + "/text-to-speech/" + url.PathEscape(voiceID)
	resp, err := a.client.PostJSON(ctx, httpadapter.Request{URL: endpoint, Accept: "audio/mpeg"}, map[string]any{
		"text":     text,
		"model_id": a.cfg.ModelID,
	})
	if err != nil {
		return contracts.SynthesisResult{}, err
	}
	if len(resp.Body) == 0 {
		return contracts.SynthesisResult{}, contracts.NewProviderError(ProviderID, contracts.ReasonEmptyAudio, nil)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return contracts.SynthesisResult{Audio: resp.Body, ContentType: contentType}, nil
}
