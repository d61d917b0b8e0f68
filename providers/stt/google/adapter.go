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
	"github.com/tiger/discharge-followup/providers/common/recording"
)

const ProviderID = "google"

// Telephony recordings are narrowband.
const recordingSampleRateHz = 8000

type Config struct {
	APIKey   string
	Endpoint string
	Language string
	Timeout  time.Duration
}

type Adapter struct {
	cfg        Config
	client     *httpadapter.Client
	recordings *httpadapter.Client
}

func ConfigFromEnv(env providerconfig.Env) Config {
	return Config{
		APIKey:   env.Value("GOOGLE_API_KEY", ""),
		Endpoint: env.Value("GOOGLE_STT_ENDPOINT", "https://speech.googleapis.com/v1/speech:recognize"),
		Timeout:  env.Duration("GOOGLE_STT_TIMEOUT", 60*time.Second),
	}
}

// WithSettings pins the recognition language to the operator's choice.
func (c Config) WithSettings(s calls.ProviderSettings) Config {
	if v := strings.TrimSpace(s.GoogleLanguage); v != "" {
		c.Language = v
	}
	return c
}

func NewAdapter(cfg Config) (*Adapter, error) {
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
	// Separate client so the API key is never appended to recording URLs.
	recordings, err := httpadapter.New(httpadapter.Config{ProviderID: ProviderID, Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, client: client, recordings: recordings}, nil
}

func (a *Adapter) ProviderID() string {
	return ProviderID
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"results"`
}

func (a *Adapter) Transcribe(ctx context.Context, audioURL string, opts contracts.TranscriptionOptions) (contracts.TranscriptionResult, error) {
	audio, err := recording.Fetch(ctx, a.recordings, audioURL)
	if err != nil {
		return contracts.TranscriptionResult{}, err
	}

	language := a.cfg.Language
	if language == "" {
		language = voice.LocaleForLanguage(opts.LanguageHint)
	}
	resp, err := a.client.PostJSON(ctx, httpadapter.Request{}, map[string]any{
		"config": map[string]any{
			"encoding":                   "MP3",
			"sampleRateHertz":            recordingSampleRateHz,
			"languageCode":               language,
			"enableAutomaticPunctuation": true,
		},
		"audio": map[string]any{"content": base64.StdEncoding.EncodeToString(audio.Bytes)},
	})
	if err != nil {
		return contracts.TranscriptionResult{}, err
	}
	var parsed recognizeResponse
	if err := a.client.DecodeJSON(resp, &parsed); err != nil {
		return contracts.TranscriptionResult{}, err
	}

	parts := make([]string, 0, len(parsed.Results))
	for _, result := range parsed.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(result.Alternatives[0].Transcript); text != "" {
			parts = append(parts, text)
		}
	}
	return contracts.TranscriptionResult{
		Text:            strings.Join(parts, " "),
		DurationSeconds: recording.Duration(audio),
	}, nil
}
