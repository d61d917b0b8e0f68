package callflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tiger/discharge-followup/api/calls"
	"github.com/tiger/discharge-followup/internal/logger"
	"github.com/tiger/discharge-followup/internal/runtime/executionpool"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
	"github.com/tiger/discharge-followup/internal/runtime/provider/voice"
	"github.com/tiger/discharge-followup/internal/webhook"
)

var secondsPerMinute = decimal.NewFromInt(60)

// HandleWebhook applies one telephony notification. Deliveries may repeat and
// arrive in any order: status only moves forward, and each distinct recording of a
// call is transcribed once. An event that matches no call is logged and reported as
// unattributed with a nil error.
func (c *Coordinator) HandleWebhook(ctx context.Context, ev webhook.Event) (webhook.Result, error) {
	call, err := c.resolve(ctx, ev)
	if errors.Is(err, webhook.ErrUnattributedEvent) {
		logger.Base().Warn("webhook dropped",
			zap.String("provider_call_id", ev.ProviderCallID),
			zap.String("call_id", ev.CallID),
			zap.String("status", ev.Status),
			zap.Error(err))
		return webhook.Result{Attributed: false}, nil
	}
	if err != nil {
		return webhook.Result{}, err
	}

	result := webhook.Result{CallID: call.ID, Attributed: true}
	target, hasTarget := ev.TargetStatus()
	updated, err := c.update(ctx, call.ID, func(cur *calls.Call) error {
		before := cur.Status
		if ev.RecordingURL != "" && cur.RecordingURL != ev.RecordingURL {
			cur.RecordingURL = ev.RecordingURL
			result.RecordingStored = true
			cur.Advance(calls.StatusInProgress)
		}
		if hasTarget && cur.Advance(target) && cur.Status.Terminal() {
			c.stampEnd(cur)
		}
		result.StatusChanged = cur.Status != before
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("apply webhook to call %s: %w", call.ID, err)
	}
	result.Status = updated.Status

	if ev.RecordingURL != "" {
		queued, err := c.queueTranscription(ctx, call.ID, ev.RecordingURL)
		if err != nil {
			return result, err
		}
		result.TranscriptionQueued = queued
	}

	logger.Base().Info("webhook applied",
		zap.String("call_id", call.ID),
		zap.String("event_status", ev.Status),
		zap.String("status", string(result.Status)),
		zap.Bool("status_changed", result.StatusChanged),
		zap.Bool("recording_stored", result.RecordingStored),
		zap.Bool("transcription_queued", result.TranscriptionQueued))
	return result, nil
}

// resolve finds the call by provider id first, then by the id in the callback URL.
func (c *Coordinator) resolve(ctx context.Context, ev webhook.Event) (calls.Call, error) {
	if ev.ProviderCallID != "" {
		call, err := c.deps.Store.CallByProviderID(ctx, ev.ProviderCallID)
		if err == nil {
			return call, nil
		}
		if !errors.Is(err, calls.ErrNotFound) {
			return calls.Call{}, err
		}
	}
	if ev.CallID != "" {
		call, err := c.deps.Store.Call(ctx, ev.CallID)
		if err == nil {
			return call, nil
		}
		if !errors.Is(err, calls.ErrNotFound) {
			return calls.Call{}, err
		}
	}
	return calls.Call{}, webhook.ErrUnattributedEvent
}

// queueTranscription claims the (call, recording) dedupe key and schedules the job.
// A job the pool refuses gives the claim back so a redelivery can retry.
func (c *Coordinator) queueTranscription(ctx context.Context, callID, recordingURL string) (bool, error) {
	claimed, err := c.deps.Dedupe.Claim(ctx, callID, recordingURL)
	if err != nil {
		return false, fmt.Errorf("claim transcription for call %s: %w", callID, err)
	}
	if !claimed {
		return false, nil
	}
	err = c.deps.Jobs.Submit(executionpool.Task{
		ID:             "transcribe:" + callID + ":" + recordingURL,
		FairnessKey:    callID,
		MaxOutstanding: c.MaxJobsPerCall,
		Run: func(ctx context.Context) error {
			return c.Transcribe(ctx, callID, recordingURL)
		},
	})
	if err != nil {
		logger.Base().Warn("transcription not queued", zap.String("call_id", callID), zap.Error(err))
		if releaseErr := c.deps.Dedupe.Release(ctx, callID, recordingURL); releaseErr != nil {
			logger.Base().Error("dedupe claim not released", zap.String("call_id", callID), zap.Error(releaseErr))
		}
		return false, nil
	}
	return true, nil
}

// errSuperseded aborts a transcript write for a recording the call no longer points at.
var errSuperseded = errors.New("recording superseded")

// Transcribe converts a recorded reply to text. Failures land in the transcript
// status and leave the call status alone. Only the call's current recording owns
// the transcript: a job for an older recording is skipped, or its result dropped
// when a newer recording arrived mid-flight. Cost is recorded for every non-empty
// transcript with a known duration. A job cancelled before the provider answers
// gives its dedupe claim back.
func (c *Coordinator) Transcribe(ctx context.Context, callID, recordingURL string) error {
	if err := ctx.Err(); err != nil {
		return c.abandonTranscription(ctx, callID, recordingURL, err)
	}
	if _, err := c.update(ctx, callID, func(cur *calls.Call) error {
		if superseded(cur, recordingURL) {
			return errSuperseded
		}
		cur.TranscriptStatus = calls.TranscriptPending
		return nil
	}); err != nil {
		if errors.Is(err, errSuperseded) {
			logger.Base().Info("transcription skipped for superseded recording",
				zap.String("call_id", callID),
				zap.String("recording_url", recordingURL))
			return nil
		}
		return c.abandonTranscription(ctx, callID, recordingURL, err)
	}

	text, provider, duration, err := c.transcribe(ctx, recordingURL)
	if err != nil && ctx.Err() != nil {
		return c.abandonTranscription(ctx, callID, recordingURL, err)
	}
	// The provider has answered; record the outcome even if shutdown is underway.
	ctx = context.WithoutCancel(ctx)
	if err == nil && text == "" {
		err = ErrEmptyTranscript
	}
	if err != nil {
		logger.Base().Warn("transcription failed",
			zap.String("call_id", callID),
			zap.String("provider", provider),
			zap.Error(err))
		if _, markErr := c.update(ctx, callID, func(cur *calls.Call) error {
			if superseded(cur, recordingURL) {
				return errSuperseded
			}
			cur.TranscriptStatus = calls.TranscriptFailed
			return nil
		}); markErr != nil && !errors.Is(markErr, errSuperseded) {
			return errors.Join(err, markErr)
		}
		return fmt.Errorf("transcribe call %s: %w", callID, err)
	}

	stored := true
	if _, err := c.update(ctx, callID, func(cur *calls.Call) error {
		if superseded(cur, recordingURL) {
			return errSuperseded
		}
		cur.Transcript = text
		cur.TranscriptStatus = calls.TranscriptCompleted
		return nil
	}); err != nil {
		if !errors.Is(err, errSuperseded) {
			return fmt.Errorf("store transcript for call %s: %w", callID, err)
		}
		stored = false
	}
	if duration != nil && *duration > 0 {
		minutes := decimal.NewFromFloat(*duration).Div(secondsPerMinute)
		c.recordCost(ctx, callID, calls.CategorySTT, provider, minutes)
	}
	logger.Base().Info("transcription completed",
		zap.String("call_id", callID),
		zap.String("provider", provider),
		zap.Bool("stored", stored),
		zap.Int("characters", utf8.RuneCountInString(text)))
	return nil
}

// superseded reports whether the call has moved on to another recording. A call
// with no stored recording accepts any.
func superseded(cur *calls.Call, recordingURL string) bool {
	return cur.RecordingURL != "" && cur.RecordingURL != recordingURL
}

// abandonTranscription undoes a job that never got a provider answer: the pending
// mark is cleared and the dedupe claim released, so a redelivered webhook or
// Recover can queue the recording again.
func (c *Coordinator) abandonTranscription(ctx context.Context, callID, recordingURL string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	_, resetErr := c.update(ctx, callID, func(cur *calls.Call) error {
		if cur.TranscriptStatus == calls.TranscriptPending && !superseded(cur, recordingURL) {
			cur.TranscriptStatus = calls.TranscriptNone
		}
		return nil
	})
	if errors.Is(resetErr, calls.ErrNotFound) {
		resetErr = nil
	}
	releaseErr := c.deps.Dedupe.Release(ctx, callID, recordingURL)
	logger.Base().Warn("transcription abandoned",
		zap.String("call_id", callID),
		zap.String("recording_url", recordingURL),
		zap.Error(cause))
	if err := errors.Join(resetErr, releaseErr); err != nil {
		return fmt.Errorf("abandon transcription for call %s: %w", callID, errors.Join(cause, err))
	}
	return fmt.Errorf("transcription for call %s abandoned: %w", callID, cause)
}

func (c *Coordinator) transcribe(ctx context.Context, recordingURL string) (string, string, *float64, error) {
	settings, err := c.deps.Settings.Load(ctx)
	if err != nil {
		return "", "", nil, fmt.Errorf("load settings: %w", err)
	}
	stt, err := c.deps.Providers.Transcriber(settings)
	if err != nil {
		return "", settings.STTProvider, nil, err
	}
	res, err := stt.Transcribe(ctx, recordingURL, contracts.TranscriptionOptions{
		LanguageHint: voice.LanguageForVoice(settings.AzureVoiceName),
	})
	if err != nil {
		return "", stt.ProviderID(), nil, err
	}
	return strings.TrimSpace(res.Text), stt.ProviderID(), res.DurationSeconds, nil
}
