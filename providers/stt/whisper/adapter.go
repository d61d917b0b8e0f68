package whisper

import (
	"bytes"
	"context"
	"mime/multipart"
	"strings"
	"time"

	providerconfig "github.com/tiger/discharge-followup/internal/runtime/provider/config"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
	"github.com/tiger/discharge-followup/providers/common/httpadapter"
	"github.com/tiger/discharge-followup/providers/common/recording"
)

const ProviderID = "whisper"

type Config struct {
	APIKey   string
	Endpoint string
	Model    string
	Timeout  time.Duration
}

type Adapter struct {
	cfg        Config
	client     *httpadapter.Client
	recordings *httpadapter.Client
}

func ConfigFromEnv(env providerconfig.Env) Config {
	return Config{
		APIKey:   env.Value("OPENAI_API_KEY", ""),
		Endpoint: env.Value("WHISPER_ENDPOINT", "https://api.openai.com/v1/audio/transcriptions"),
		Model:    env.Value("WHISPER_MODEL", "whisper-1"),
		Timeout:  env.Duration("WHISPER_TIMEOUT", 90*time.Second),
	}
}

func NewAdapter(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "whisper-1"
	}
	client, err := httpadapter.New(httpadapter.Config{
		ProviderID:   ProviderID,
		Endpoint:     cfg.Endpoint,
		APIKey:       cfg.APIKey,
		APIKeyHeader: "Authorization",
		APIKeyPrefix: "Bearer ",
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

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

func (a *Adapter) Transcribe(ctx context.Context, audioURL string, opts contracts.TranscriptionOptions) (contracts.TranscriptionResult, error) {
	audio, err := recording.Fetch(ctx, a.recordings, audioURL)
	if err != nil {
		return contracts.TranscriptionResult{}, err
	}

	body, contentType, err := a.buildForm(audio, opts.LanguageHint)
	if err != nil {
		return contracts.TranscriptionResult{}, contracts.NewProviderError(ProviderID, contracts.ReasonClientError, err)
	}
	resp, err := a.client.Do(ctx, httpadapter.Request{Body: body, ContentType: contentType, Accept: "application/json"})
	if err != nil {
		return contracts.TranscriptionResult{}, err
	}
	var parsed transcriptionResponse
	if err := a.client.DecodeJSON(resp, &parsed); err != nil {
		return contracts.TranscriptionResult{}, err
	}

	out := contracts.TranscriptionResult{Text: strings.TrimSpace(parsed.Text)}
	if parsed.Duration > 0 {
		out.DurationSeconds = contracts.Seconds(parsed.Duration)
	} else {
		out.DurationSeconds = recording.Duration(audio)
	}
	return out, nil
}

func (a *Adapter) buildForm(audio recording.Audio, language string) ([]byte, string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	fields := map[string]string{
		"model":           a.cfg.Model,
		"response_format": "verbose_json",
	}
	if language != "" {
		fields["language"] = language
	}
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}
	part, err := form.CreateFormFile("file", "recording.mp3")
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
