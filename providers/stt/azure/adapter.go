package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/url"
	"strings"
	"time"

	providerconfig "github.com/tiger/discharge-followup/internal/runtime/provider/config"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
	"github.com/tiger/discharge-followup/internal/runtime/provider/voice"
	"github.com/tiger/discharge-followup/providers/common/httpadapter"
	"github.com/tiger/discharge-followup/providers/common/recording"
)

const (
	ProviderID = "azure"

	apiVersion = "2024-11-15"
)

type Config struct {
	APIKey   string
	Region   string
	Endpoint string
	Timeout  time.Duration
}

type Adapter struct {
	cfg        Config
	client     *httpadapter.Client
	recordings *httpadapter.Client
}

func ConfigFromEnv(env providerconfig.Env) Config {
	region := env.Value("AZURE_SPEECH_REGION", "eastus")
	return Config{
		APIKey:   env.Value("AZURE_SPEECH_KEY", ""),
		Region:   region,
		Endpoint: env.Value("AZURE_STT_ENDPOINT", fmt.Sprintf("https://%s.api.cognitive.microsoft.com/speechtotext/transcriptions:transcribe", region)),
		Timeout:  env.Duration("AZURE_STT_TIMEOUT", 90*time.Second),
	}
}

func NewAdapter(cfg Config) (*Adapter, error) {
	client, err := httpadapter.New(httpadapter.Config{
		ProviderID:   ProviderID,
		Endpoint:     cfg.Endpoint,
		APIKey:       cfg.APIKey,
		APIKeyHeader: "Ocp-Apim-Subscription-Key",
		Timeout:      cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	recordings, err := httpadapter.New(httpadapter.Config{ProviderID: ProviderID, Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, client: client, recordings: recordings}, nil
}

func (a *Adapter) ProviderID() string {
	return ProviderID
}

type transcribeResponse struct {
	DurationMilliseconds int64 `json:"durationMilliseconds"`
	CombinedPhrases      []struct {
		Text string `json:"text"`
	} `json:"combinedPhrases"`
}

func (a *Adapter) Transcribe(ctx context.Context, audioURL string, opts contracts.TranscriptionOptions) (contracts.TranscriptionResult, error) {
	audio, err := recording.Fetch(ctx, a.recordings, audioURL)
	if err != nil {
		return contracts.TranscriptionResult{}, err
	}

	body, contentType, err := buildForm(audio, voice.LocaleForLanguage(opts.LanguageHint))
	if err != nil {
		return contracts.TranscriptionResult{}, contracts.NewProviderError(ProviderID, contracts.ReasonClientError, err)
	}
	resp, err := a.client.Do(ctx, httpadapter.Request{
		Query:       url.Values{"api-version": {apiVersion}},
		Body:        body,
		ContentType: contentType,
		Accept:      "application/json",
	})
	if err != nil {
		return contracts.TranscriptionResult{}, err
	}
	var parsed transcribeResponse
	if err := a.client.DecodeJSON(resp, &parsed); err != nil {
		return contracts.TranscriptionResult{}, err
	}

	parts := make([]string, 0, len(parsed.CombinedPhrases))
	for _, phrase := range parsed.CombinedPhrases {
		if text := strings.TrimSpace(phrase.Text); text != "" {
			parts = append(parts, text)
		}
	}
	out := contracts.TranscriptionResult{Text: strings.Join(parts, " ")}
	if parsed.DurationMilliseconds > 0 {
		out.DurationSeconds = contracts.Seconds(float64(parsed.DurationMilliseconds) / 1000)
	} else {
		out.DurationSeconds = recording.Duration(audio)
	}
	return out, nil
}

func buildForm(audio recording.Audio, locale string) ([]byte, string, error) {
	definition, err := json.Marshal(map[string]any{"locales": []string{locale}})
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("definition", string(definition)); err != nil {
		return nil, "", err
	}
	part, err := form.CreateFormFile("audio", "recording.mp3")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio.Bytes); err != nil {
		return nil, "", err
	}
	if err := form.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), form.FormDataContentType(), nil
}
