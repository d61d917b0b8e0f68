// Package webhook normalizes inbound telephony notifications and defines the
// dedupe ledger that keeps transcription triggering idempotent.
package webhook

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/tiger/discharge-followup/api/calls"
)

// ErrUnattributedEvent reports an event that matches no call by any resolution path.
// It is logged and acknowledged, never returned to the telephony platform.
var ErrUnattributedEvent = errors.New("webhook event cannot be attributed to a call")

// Event is one normalized telephony notification.
type Event struct {
	ProviderCallID string
	Status         string
	RecordingURL   string
	// CallID is the fallback address carried in the callback URL query.
	CallID string
}

// Parse reads the form body and query of a webhook request. Each field accepts the
// alternate names different callback kinds use.
func Parse(form url.Values, query url.Values) Event {
	return Event{
		ProviderCallID: firstNonEmpty(form, "CallUUID", "request_uuid", "RequestUUID"),
		Status:         strings.ToLower(firstNonEmpty(form, "CallStatus", "Event")),
		RecordingURL:   firstNonEmpty(form, "RecordingUrl", "RecordUrl"),
		CallID:         strings.TrimSpace(query.Get("callId")),
	}
}

func firstNonEmpty(values url.Values, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(values.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

// Terminates reports whether the event says the call has ended normally.
func (e Event) Terminates() bool {
	return e.Status == "completed" || e.Status == "hangup"
}

// TargetStatus maps the provider status vocabulary onto the call lifecycle.
// ok is false for statuses that carry no lifecycle meaning (e.g. "startapp").
func (e Event) TargetStatus() (status calls.Status, ok bool) {
	switch e.Status {
	case "ringing":
		return calls.StatusRinging, true
	case "in-progress", "answered":
		return calls.StatusInProgress, true
	case "completed", "hangup":
		return calls.StatusCompleted, true
	case "busy", "no-answer", "failed", "cancel", "timeout":
		return calls.StatusFailed, true
	default:
		return "", false
	}
}

// Result summarizes what handling an event changed.
type Result struct {
	CallID              string       `json:"callId,omitempty"`
	Attributed          bool         `json:"attributed"`
	Status              calls.Status `json:"status,omitempty"`
	StatusChanged       bool         `json:"statusChanged"`
	RecordingStored     bool         `json:"recordingStored"`
	TranscriptionQueued bool         `json:"transcriptionQueued"`
}

// DedupeLedger records (call, recording location) pairs that already triggered
// transcription. Claim returns true only for the first claim of a pair.
type DedupeLedger interface {
	Claim(ctx context.Context, callID, recordingURL string) (bool, error)
	Release(ctx context.Context, callID, recordingURL string) error
}

// MemoryLedger is a process-local DedupeLedger.
type MemoryLedger struct {
	mu     sync.Mutex
	claims map[[2]string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{claims: make(map[[2]string]struct{})}
}

func (l *MemoryLedger) Claim(ctx context.Context, callID, recordingURL string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := [2]string{callID, recordingURL}
	if _, exists := l.claims[key]; exists {
		return false, nil
	}
	l.claims[key] = struct{}{}
	return true, nil
}

func (l *MemoryLedger) Release(ctx context.Context, callID, recordingURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claims, [2]string{callID, recordingURL})
	return nil
}
