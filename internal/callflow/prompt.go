package callflow

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tiger/discharge-followup/api/calls"
	"github.com/tiger/discharge-followup/internal/logger"
	"github.com/tiger/discharge-followup/internal/promptcache"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
	"github.com/tiger/discharge-followup/transports/telephony/plivo"
)

// PromptText is the greeting spoken to the patient.
func PromptText(patientName string) string {
	name := strings.TrimSpace(patientName)
	if name == "" {
		name = "Patient"
	}
	return fmt.Sprintf("Hello %s, this is the hospital calling to check how you are feeling after discharge. Please speak after the beep.", name)
}

// Instructions renders the answer markup for a call: the prompt followed by a
// recording whose action posts back to the webhook. It never changes call state and
// may be requested any number of times. When synthesis is unavailable the prompt
// is spoken by the carrier instead.
func (c *Coordinator) Instructions(ctx context.Context, callID string) (string, error) {
	call, err := c.deps.Store.Call(ctx, callID)
	if err != nil {
		return "", err
	}
	patient, err := c.deps.Store.Patient(ctx, call.PatientID)
	if err != nil {
		return "", err
	}
	settings, err := c.deps.Settings.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}

	answer := plivo.Answer{
		RecordAction: c.callbackURL(webhookPath, callID),
		MaxLength:    c.MaxRecordSeconds,
		FinishOnKey:  "#",
	}
	text := PromptText(patient.Name)
	synth, err := c.deps.Providers.Synthesizer(settings)
	switch {
	case err != nil:
		logger.Base().Warn("tts provider unavailable, using carrier voice", zap.String("call_id", callID), zap.Error(err))
		answer.SpeakText, answer.SpeakVoice = text, c.nativeVoice(nil, settings.Gender())
	case isNative(synth):
		answer.SpeakText, answer.SpeakVoice = text, c.nativeVoice(synth, settings.Gender())
	default:
		if _, err := c.PromptAudio(ctx, callID); err != nil {
			logger.Base().Warn("prompt synthesis failed, using carrier voice",
				zap.String("call_id", callID),
				zap.String("provider", synth.ProviderID()),
				zap.Error(err))
			answer.SpeakText, answer.SpeakVoice = text, c.nativeVoice(nil, settings.Gender())
		} else {
			answer.PlayURL = c.callbackURL(playPath, callID)
		}
	}
	return answer.Render()
}

// PromptAudio returns the call's synthesized prompt from the cache, synthesizing and
// recording its cost on a miss.
func (c *Coordinator) PromptAudio(ctx context.Context, callID string) (promptcache.Entry, error) {
	if entry, ok := c.deps.Cache.Get(callID); ok {
		return entry, nil
	}
	call, err := c.deps.Store.Call(ctx, callID)
	if err != nil {
		return promptcache.Entry{}, err
	}
	return c.deps.Cache.GetOrLoad(ctx, callID, func(ctx context.Context) ([]byte, string, error) {
		return c.synthesizePrompt(ctx, call)
	})
}

func (c *Coordinator) synthesizePrompt(ctx context.Context, call calls.Call) ([]byte, string, error) {
	patient, err := c.deps.Store.Patient(ctx, call.PatientID)
	if err != nil {
		return nil, "", err
	}
	settings, err := c.deps.Settings.Load(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("load settings: %w", err)
	}
	synth, err := c.deps.Providers.Synthesizer(settings)
	if err != nil {
		return nil, "", err
	}
	if isNative(synth) {
		return nil, "", ErrNativeSpeech
	}

	text := PromptText(patient.Name)
	res, err := synth.Synthesize(ctx, text, contracts.SynthesisOptions{Gender: settings.Gender()})
	if err != nil {
		return nil, "", fmt.Errorf("synthesize prompt for call %s: %w", call.ID, err)
	}
	if len(res.Audio) == 0 {
		return nil, "", contracts.NewProviderError(synth.ProviderID(), contracts.ReasonEmptyAudio, nil)
	}
	contentType := res.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	units := decimal.NewFromInt(int64(utf8.RuneCountInString(text)))
	c.recordCost(ctx, call.ID, calls.CategoryTTS, synth.ProviderID(), units)
	logger.Base().Info("prompt synthesized",
		zap.String("call_id", call.ID),
		zap.String("provider", synth.ProviderID()),
		zap.Int("characters", utf8.RuneCountInString(text)),
		zap.Int("audio_bytes", len(res.Audio)))
	return res.Audio, contentType, nil
}

// recordCost appends a priced cost item. Failures are logged for reconciliation and
// never fail the operation that consumed the provider.
func (c *Coordinator) recordCost(ctx context.Context, callID string, category calls.CostCategory, provider string, units decimal.Decimal) {
	item, recorded, err := c.deps.Ledger.RecordPriced(ctx, callID, category, provider, units)
	if err != nil {
		logger.Base().Error("cost item not recorded",
			zap.String("call_id", callID),
			zap.String("category", string(category)),
			zap.String("provider", provider),
			zap.String("units", units.String()),
			zap.Error(err))
		return
	}
	if recorded {
		logger.Base().Debug("cost item recorded",
			zap.String("call_id", callID),
			zap.String("cost_item_id", item.ID),
			zap.String("total_cost", item.TotalCost.String()))
	}
}

func isNative(synth contracts.Synthesizer) bool {
	_, ok := synth.(contracts.NativeSpeaker)
	return ok
}

func (c *Coordinator) nativeVoice(synth contracts.Synthesizer, gender calls.VoiceGender) string {
	if speaker, ok := synth.(contracts.NativeSpeaker); ok {
		return speaker.NativeVoice(gender)
	}
	if c.deps.Native != nil {
		return c.deps.Native.NativeVoice(gender)
	}
	return ""
}
