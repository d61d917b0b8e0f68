package deepgram

import (
	"context"
	"net/url"
	"strings"
	"time"

	providerconfig "github.com/tiger/discharge-followup/internal/runtime/provider/config"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
	"github.com/tiger/discharge-followup/internal/runtime/provider/voice"
	"github.com/tiger/discharge-followup/providers/common/httpadapter"
)

const ProviderID = "deepgram"

type Config struct {
	APIKey   string
	Endpoint string
	Model    string
	Timeout  time.Duration
}

type Adapter struct {
	cfg    Config
	client *httpadapter.Client
}

func ConfigFromEnv(env providerconfig.Env) Config {
	return Config{
		APIKey:   env.Value("DEEPGRAM_API_KEY", ""),
		Endpoint: env.Value("DEEPGRAM_ENDPOINT", "https://api.deepgram.com/v1/listen"),
		Model:    env.Value("DEEPGRAM_MODEL", "nova-2"),
		Timeout:  env.Duration("DEEPGRAM_TIMEOUT", 60*time.Second),
	}
}

func NewAdapter(cfg Config) (*Adapter, error) {
	client, err := httpadapter.New(httpadapter.Config{
		ProviderID:   ProviderID,
		Endpoint:     cfg.Endpoint,
		APIKey:       cfg.APIKey,
		APIKeyHeader: "Authorization",
		APIKeyPrefix: "Token ",
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

type listenResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe asks Deepgram to pull the recording by URL; the audio never passes
// through this process.
func (a *Adapter) Transcribe(ctx context.Context, audioURL string, opts contracts.TranscriptionOptions) (contracts.TranscriptionResult, error) {
	language := opts.LanguageHint
	if language == "" {
		language = voice.LanguageEnglish
	}
	query := url.Values{"language": {language}, "smart_format": {"true"}}
	if a.cfg.Model != "" {
		query.Set("model", a.cfg.Model)
	}
	resp, err := a.client.PostJSON(ctx, httpadapter.Request{Query: query}, map[string]string{"url": audioURL})
	if err != nil {
		return contracts.TranscriptionResult{}, err
	}
	var parsed listenResponse
	if err := a.client.DecodeJSON(resp, &parsed); err != nil {
		return contracts.TranscriptionResult{}, err
	}

	out := contracts.TranscriptionResult{}
	if len(parsed.Results.Channels) > 0 && len(parsed.Results.Channels[0].Alternatives) > 0 {
		out.Text = strings.TrimSpace(parsed.Results.Channels[0].Alternatives[0].Transcript)
	}
	if parsed.Metadata.Duration > 0 {
		out.DurationSeconds = contracts.Seconds(parsed.Metadata.Duration)
	}
	return out, nil
}
