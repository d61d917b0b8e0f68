// Package callflow owns the outbound follow-up call lifecycle: creating and dialing
// calls, serving the prompt to the telephony platform, reconciling webhook
// notifications and transcribing recorded replies.
package callflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tiger/discharge-followup/api/calls"
	"github.com/tiger/discharge-followup/internal/ledger"
	"github.com/tiger/discharge-followup/internal/logger"
	"github.com/tiger/discharge-followup/internal/promptcache"
	"github.com/tiger/discharge-followup/internal/runtime/executionpool"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
	"github.com/tiger/discharge-followup/internal/webhook"
)

const (
	answerPath  = "/api/plivo/answer"
	playPath    = "/api/tts/play"
	webhookPath = "/api/webhook/plivo"

	defaultMaxRecordSeconds = 60
	defaultMaxJobsPerCall   = 4
)

var (
	// ErrInvalidState reports an operation the call's current status does not allow.
	ErrInvalidState = errors.New("call is not in a valid state for this operation")
	// ErrNativeSpeech reports that the selected voice is rendered by the telephony
	// platform and there is no audio to serve.
	ErrNativeSpeech = errors.New("selected tts provider speaks natively and produces no audio")
	// ErrEmptyTranscript reports a transcription that returned no text.
	ErrEmptyTranscript = errors.New("transcription returned no text")
)

// Store is the persistence the coordinator needs. UpdateCall must apply fn atomically
// with respect to other updates of the same call.
type Store interface {
	Patient(ctx context.Context, id string) (calls.Patient, error)
	InsertCall(ctx context.Context, c calls.Call) error
	Call(ctx context.Context, id string) (calls.Call, error)
	CallByProviderID(ctx context.Context, providerCallID string) (calls.Call, error)
	ListCalls(ctx context.Context) ([]calls.Call, error)
	UpdateCall(ctx context.Context, id string, fn func(*calls.Call) error) (calls.Call, error)
}

// SettingsSource returns the current provider settings. It is read on every use.
type SettingsSource interface {
	Load(ctx context.Context) (calls.ProviderSettings, error)
}

// Providers resolves adapters for the current settings.
type Providers interface {
	Synthesizer(settings calls.ProviderSettings) (contracts.Synthesizer, error)
	Transcriber(settings calls.ProviderSettings) (contracts.Transcriber, error)
}

// JobRunner runs transcription in the background.
type JobRunner interface {
	Submit(task executionpool.Task) error
	Idle(ctx context.Context) error
	Drain(ctx context.Context) error
}

// Feed receives a snapshot of every stored call change.
type Feed interface {
	Publish(call calls.Call)
}

// Deps wires the coordinator's collaborators. Native is the carrier voice used when
// synthesis is unavailable; Feed and Native may be nil.
type Deps struct {
	Store     Store
	Ledger    *ledger.Ledger
	Providers Providers
	Settings  SettingsSource
	Cache     *promptcache.Cache
	Dialer    contracts.Dialer
	Jobs      JobRunner
	Dedupe    webhook.DedupeLedger
	Native    contracts.NativeSpeaker
	Feed      Feed
}

// Coordinator drives calls through the lifecycle. All methods are safe for
// concurrent use.
type Coordinator struct {
	deps Deps

	// dialing holds the ids of calls with a Dial in flight.
	dialing sync.Map

	PublicURL        string
	MaxRecordSeconds int
	MaxJobsPerCall   int
	Now              func() time.Time
}

// New validates deps and returns a coordinator that builds callback URLs under publicURL.
func New(publicURL string, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("callflow store is required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("callflow ledger is required")
	case deps.Providers == nil:
		return nil, fmt.Errorf("callflow providers are required")
	case deps.Settings == nil:
		return nil, fmt.Errorf("callflow settings are required")
	case deps.Cache == nil:
		return nil, fmt.Errorf("callflow prompt cache is required")
	case deps.Dialer == nil:
		return nil, fmt.Errorf("callflow dialer is required")
	case deps.Jobs == nil:
		return nil, fmt.Errorf("callflow job runner is required")
	case deps.Dedupe == nil:
		return nil, fmt.Errorf("callflow dedupe ledger is required")
	}
	base := strings.TrimRight(strings.TrimSpace(publicURL), "/")
	if base == "" {
		return nil, fmt.Errorf("public url is required")
	}
	return &Coordinator{
		deps:             deps,
		PublicURL:        base,
		MaxRecordSeconds: defaultMaxRecordSeconds,
		MaxJobsPerCall:   defaultMaxJobsPerCall,
		Now:              time.Now,
	}, nil
}

// CallSummary is a call with its cost items and their sum.
type CallSummary struct {
	calls.Call
	CostItems []calls.CostItem `json:"costItems"`
	TotalCost decimal.Decimal  `json:"totalCost"`
}

// Create records a new call for an existing patient in the initiated state.
func (c *Coordinator) Create(ctx context.Context, patientID string) (calls.Call, error) {
	if _, err := c.deps.Store.Patient(ctx, patientID); err != nil {
		return calls.Call{}, err
	}
	call := calls.Call{
		ID:                uuid.NewString(),
		PatientID:         patientID,
		TelephonyProvider: c.deps.Dialer.ProviderID(),
		Status:            calls.StatusInitiated,
		TranscriptStatus:  calls.TranscriptNone,
		CreatedAt:         c.now(),
	}
	if err := c.deps.Store.InsertCall(ctx, call); err != nil {
		return calls.Call{}, fmt.Errorf("create call: %w", err)
	}
	c.publish(call)
	return call, nil
}

// Dial asks the telephony platform to ring the patient. A rejected dial marks the
// call failed and is never retried here. A call is dialed at most once: a second
// Dial, concurrent or later, fails with ErrInvalidState.
func (c *Coordinator) Dial(ctx context.Context, callID string) (calls.Call, error) {
	if _, busy := c.dialing.LoadOrStore(callID, struct{}{}); busy {
		return calls.Call{}, fmt.Errorf("dial call %s already in progress: %w", callID, ErrInvalidState)
	}
	defer c.dialing.Delete(callID)

	call, err := c.deps.Store.Call(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if call.Status != calls.StatusInitiated || call.ProviderCallID != "" {
		return call, fmt.Errorf("dial call %s in status %s: %w", callID, call.Status, ErrInvalidState)
	}
	patient, err := c.deps.Store.Patient(ctx, call.PatientID)
	if err != nil {
		return call, err
	}

	res, dialErr := c.deps.Dialer.Dial(ctx, contracts.DialRequest{
		To:        patient.Phone,
		AnswerURL: c.callbackURL(answerPath, callID),
		HangupURL: c.callbackURL(webhookPath, callID),
	})
	if dialErr != nil {
		logger.Base().Warn("dial failed",
			zap.String("call_id", callID),
			zap.String("provider", c.deps.Dialer.ProviderID()),
			zap.Error(dialErr))
		failed, err := c.update(ctx, callID, func(cur *calls.Call) error {
			if cur.Advance(calls.StatusFailed) {
				c.stampEnd(cur)
			}
			return nil
		})
		if err != nil {
			return call, errors.Join(fmt.Errorf("dial call %s: %w", callID, dialErr), err)
		}
		return failed, fmt.Errorf("dial call %s: %w", callID, dialErr)
	}

	updated, err := c.update(ctx, callID, func(cur *calls.Call) error {
		cur.ProviderCallID = res.ProviderCallID
		cur.Advance(calls.StatusRinging)
		return nil
	})
	if err != nil {
		return call, fmt.Errorf("store dialed call %s: %w", callID, err)
	}
	logger.Base().Info("call dialed",
		zap.String("call_id", callID),
		zap.String("provider_call_id", res.ProviderCallID),
		zap.String("status", string(updated.Status)))
	return updated, nil
}

// Initiate creates and dials a call. The created call is returned even when dialing
// fails so the caller can report its id.
func (c *Coordinator) Initiate(ctx context.Context, patientID string) (calls.Call, error) {
	call, err := c.Create(ctx, patientID)
	if err != nil {
		return calls.Call{}, err
	}
	return c.Dial(ctx, call.ID)
}

// Call returns one call with its costs.
func (c *Coordinator) Call(ctx context.Context, callID string) (CallSummary, error) {
	call, err := c.deps.Store.Call(ctx, callID)
	if err != nil {
		return CallSummary{}, err
	}
	return c.summarize(ctx, call)
}

// ListCalls returns all calls, newest first, with their costs.
func (c *Coordinator) ListCalls(ctx context.Context) ([]CallSummary, error) {
	list, err := c.deps.Store.ListCalls(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CallSummary, 0, len(list))
	for _, call := range list {
		summary, err := c.summarize(ctx, call)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

func (c *Coordinator) summarize(ctx context.Context, call calls.Call) (CallSummary, error) {
	items, err := c.deps.Ledger.Items(ctx, call.ID)
	if err != nil {
		return CallSummary{}, fmt.Errorf("cost items for call %s: %w", call.ID, err)
	}
	return CallSummary{Call: call, CostItems: items, TotalCost: ledger.Sum(items)}, nil
}

// Recover re-queues transcription for calls whose latest recording has no finished
// transcript. Queued jobs live only in memory, so run it at startup before
// webhooks are accepted. It returns the number of jobs queued.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	list, err := c.deps.Store.ListCalls(ctx)
	if err != nil {
		return 0, fmt.Errorf("list calls for recovery: %w", err)
	}
	queued := 0
	for _, call := range list {
		if call.RecordingURL == "" {
			continue
		}
		if call.TranscriptStatus != calls.TranscriptNone && call.TranscriptStatus != calls.TranscriptPending {
			continue
		}
		if err := c.deps.Dedupe.Release(ctx, call.ID, call.RecordingURL); err != nil {
			return queued, fmt.Errorf("release claim for call %s: %w", call.ID, err)
		}
		ok, err := c.queueTranscription(ctx, call.ID, call.RecordingURL)
		if err != nil {
			return queued, err
		}
		if ok {
			queued++
		}
	}
	if queued > 0 {
		logger.Base().Info("transcriptions recovered", zap.Int("queued", queued))
	}
	return queued, nil
}

// WaitIdle blocks until no transcription job is queued or running.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	return c.deps.Jobs.Idle(ctx)
}

// Drain stops accepting transcription jobs and waits for the running ones.
func (c *Coordinator) Drain(ctx context.Context) error {
	return c.deps.Jobs.Drain(ctx)
}

// update applies fn through the store and publishes the stored result.
func (c *Coordinator) update(ctx context.Context, callID string, fn func(*calls.Call) error) (calls.Call, error) {
	updated, err := c.deps.Store.UpdateCall(ctx, callID, fn)
	if err != nil {
		return updated, err
	}
	c.publish(updated)
	return updated, nil
}

func (c *Coordinator) publish(call calls.Call) {
	if c.deps.Feed != nil {
		c.deps.Feed.Publish(call)
	}
}

func (c *Coordinator) callbackURL(path, callID string) string {
	return c.PublicURL + path + "?callId=" + url.QueryEscape(callID)
}

func (c *Coordinator) now() time.Time {
	return c.Now().UTC()
}

func (c *Coordinator) stampEnd(call *calls.Call) {
	if call.CompletedAt == nil {
		ended := c.now()
		call.CompletedAt = &ended
	}
}
