package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	providerconfig "github.com/tiger/discharge-followup/internal/runtime/provider/config"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
	"github.com/tiger/discharge-followup/internal/runtime/provider/voice"
	"github.com/tiger/discharge-followup/providers/common/httpadapter"
)

const (
	ProviderID = "polly"

	DefaultMaleVoice   = "Matthew"
	DefaultFemaleVoice = "Joanna"
)

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type Config struct {
	Region      string
	MaleVoice   string
	FemaleVoice string
	Engine      string
	Timeout     time.Duration
}

type Adapter struct {
	mu     sync.Mutex
	client synthClient
	cfg    Config
}

func ConfigFromEnv(env providerconfig.Env) Config {
	return Config{
		Region:      env.Value("POLLY_REGION", env.Value("AWS_REGION", "us-east-1")),
		MaleVoice:   env.Value("POLLY_VOICE_MALE", DefaultMaleVoice),
		FemaleVoice: env.Value("POLLY_VOICE_FEMALE", DefaultFemaleVoice),
		Engine:      env.Value("POLLY_ENGINE", "neural"),
		Timeout:     env.Duration("POLLY_TIMEOUT", 15*time.Second),
	}
}

func NewAdapter(cfg Config) (*Adapter, error) {
	return NewAdapterWithClient(cfg, nil)
}

// NewAdapterWithClient injects a Polly client; nil loads the default AWS config lazily.
func NewAdapterWithClient(cfg Config, client synthClient) (*Adapter, error) {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Adapter{client: client, cfg: cfg}, nil
}

func (a *Adapter) ProviderID() string {
	return ProviderID
}

func (a *Adapter) Synthesize(ctx context.Context, text string, opts contracts.SynthesisOptions) (contracts.SynthesisResult, error) {
	client, err := a.resolveClient(ctx)
	if err != nil {
		return contracts.SynthesisResult{}, contracts.NewProviderError(ProviderID, contracts.ReasonMissingConfig, err)
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(a.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}
	voiceID := voice.Selection{
		Requested:     opts.VoiceID,
		Male:          a.cfg.MaleVoice,
		Female:        a.cfg.FemaleVoice,
		DefaultMale:   DefaultMaleVoice,
		DefaultFemale: DefaultFemaleVoice,
	}.Resolve(opts.Gender)

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	output, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(voiceID),
	})
	if err != nil {
		return contracts.SynthesisResult{}, normalizePollyError(err)
	}
	if output == nil || output.AudioStream == nil {
		return contracts.SynthesisResult{}, contracts.NewProviderError(ProviderID, contracts.ReasonEmptyAudio, nil)
	}
	defer output.AudioStream.Close()
	audio, err := io.ReadAll(output.AudioStream)
	if err != nil {
		return contracts.SynthesisResult{}, normalizePollyError(err)
	}
	if len(audio) == 0 {
		return contracts.SynthesisResult{}, contracts.NewProviderError(ProviderID, contracts.ReasonEmptyAudio, nil)
	}
	contentType := "audio/mpeg"
	if output.ContentType != nil && *output.ContentType != "" {
		contentType = *output.ContentType
	}
	return contracts.SynthesisResult{Audio: audio, ContentType: contentType}, nil
}

// normalizePollyError classifies service faults by error code. Anything the SDK
// returns without an API error code is a transport failure.
func normalizePollyError(err error) *contracts.ProviderError {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return httpadapter.NormalizeNetworkError(ProviderID, err)
	}
	switch apiErr.ErrorCode() {
	case "TooManyRequestsException", "ThrottlingException":
		return contracts.NewProviderError(ProviderID, contracts.ReasonOverload, err)
	case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException",
		"MarksNotSupportedForFormatException", "InvalidSampleRateException", "EngineNotSupportedException":
		return contracts.NewProviderError(ProviderID, contracts.ReasonClientError, err)
	case "UnrecognizedClientException", "AccessDeniedException", "InvalidSignatureException":
		return contracts.NewProviderError(ProviderID, contracts.ReasonAuthBlock, err)
	default:
		return contracts.NewProviderError(ProviderID, contracts.ReasonServerError, err)
	}
}

func (a *Adapter) resolveClient(ctx context.Context) (synthClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return a.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	a.client = polly.NewFromConfig(awsCfg)
	return a.client, nil
}
