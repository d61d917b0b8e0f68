package azure

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/tiger/discharge-followup/api/calls"
	providerconfig "github.com/tiger/discharge-followup/internal/runtime/provider/config"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
	"github.com/tiger/discharge-followup/internal/runtime/provider/voice"
	"github.com/tiger/discharge-followup/providers/common/httpadapter"
)

const (
	ProviderID = "azure"

	DefaultMaleVoice   = "en-US-GuyNeural"
	DefaultFemaleVoice = "en-US-JennyNeural"

	outputFormat = "audio-16khz-128kbitrate-mono-mp3"
)

type Config struct {
	APIKey        string
	Region        string
	Endpoint      string
	VoiceOverride string
	Timeout       time.Duration
}

type Adapter struct {
	cfg    Config
	client *httpadapter.Client
}

func ConfigFromEnv(env providerconfig.Env) Config {
	region := env.Value("AZURE_SPEECH_REGION", "eastus")
	return Config{
		APIKey:   env.Value("AZURE_SPEECH_KEY", ""),
		Region:   region,
		Endpoint: env.Value("AZURE_TTS_ENDPOINT", fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region)),
		Timeout:  env.Duration("AZURE_TTS_TIMEOUT", 15*time.Second),
	}
}

// WithSettings applies the admin-selected voice name, which wins over gender defaults.
func (c Config) WithSettings(s calls.ProviderSettings) Config {
	if v := strings.TrimSpace(s.AzureVoiceName); v != "" {
		c.VoiceOverride = v
	}
	return c
}

func NewAdapter(cfg Config) (*Adapter, error) {
	client, err := httpadapter.New(httpadapter.Config{
		ProviderID:   ProviderID,
		Endpoint:     cfg.Endpoint,
		APIKey:       cfg.APIKey,
		APIKeyHeader: "Ocp-Apim-Subscription-Key",
		StaticHeaders: map[string]string{
			"X-Microsoft-OutputFormat": outputFormat,
			"User-Agent":               "discharge-followup",
		},
		Timeout: cfg.Timeout,
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
	voiceName := voice.Selection{
		Override:      a.cfg.VoiceOverride,
		Requested:     opts.VoiceID,
		DefaultMale:   DefaultMaleVoice,
		DefaultFemale: DefaultFemaleVoice,
	}.Resolve(opts.Gender)

	ssml, err := BuildSSML(text, voiceName)
	if err != nil {
		return contracts.SynthesisResult{}, contracts.NewProviderError(ProviderID, contracts.ReasonClientError, err)
	}
	resp, err := a.client.Do(ctx, httpadapter.Request{
		Body:        ssml,
		ContentType: "application/ssml+xml",
	})
	if err != nil {
		return contracts.SynthesisResult{}, err
	}
	if len(resp.Body) == 0 {
		return contracts.SynthesisResult{}, contracts.NewProviderError(ProviderID, contracts.ReasonEmptyAudio, nil)
	}
	return contracts.SynthesisResult{Audio: resp.Body, ContentType: SniffContentType(resp.Body)}, nil
}

// BuildSSML wraps text in a single-voice SSML document. The locale is the voice
// name's first two dash-separated segments.
func BuildSSML(text string, voiceName string) ([]byte, error) {
	var escaped bytes.Buffer
	if err := xml.EscapeText(&escaped, []byte(text)); err != nil {
		return nil, err
	}
	var name bytes.Buffer
	if err := xml.EscapeText(&name, []byte(voiceName)); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<speak version="1.0" xml:lang="%s"><voice name="%s">%s</voice></speak>`,
		localeOf(voiceName), name.String(), escaped.String())
	return buf.Bytes(), nil
}

func localeOf(voiceName string) string {
	parts := strings.Split(voiceName, "-")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "en-US"
	}
	return parts[0] + "-" + parts[1]
}

// SniffContentType distinguishes WAV (RIFF) from MP3 payloads.
func SniffContentType(audio []byte) string {
	if bytes.HasPrefix(audio, []byte("RIFF")) {
		return "audio/wav"
	}
	return "audio/mpeg"
}
