package calls

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound reports a referenced patient or call that does not exist.
var ErrNotFound = errors.New("not found")

// Status is the call lifecycle state.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Validate enforces supported status values.
func (s Status) Validate() error {
	switch s {
	case StatusInitiated, StatusRinging, StatusInProgress, StatusCompleted, StatusFailed:
		return nil
	default:
		return fmt.Errorf("unsupported call status: %q", s)
	}
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusInitiated:
		return 0
	case StatusRinging:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted:
		return 3
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving from s to next is forward progress.
// Failed is only reachable before the call is answered.
func (s Status) CanAdvanceTo(next Status) bool {
	if s.Terminal() || next.Validate() != nil {
		return false
	}
	if next == StatusFailed {
		return s == StatusInitiated || s == StatusRinging
	}
	return next.rank() > s.rank()
}

// TranscriptStatus tracks transcription independently from the call status.
type TranscriptStatus string

const (
	TranscriptNone      TranscriptStatus = "none"
	TranscriptPending   TranscriptStatus = "pending"
	TranscriptCompleted TranscriptStatus = "completed"
	TranscriptFailed    TranscriptStatus = "failed"
)

// Call is one outbound telephony interaction with a patient.
type Call struct {
	ID                string           `json:"id"`
	PatientID         string           `json:"patientId"`
	TelephonyProvider string           `json:"telephonyProvider"`
	ProviderCallID    string           `json:"telephonyCallId,omitempty"`
	Status            Status           `json:"status"`
	RecordingURL      string           `json:"recordingUrl,omitempty"`
	Transcript        string           `json:"transcript,omitempty"`
	TranscriptStatus  TranscriptStatus `json:"transcriptStatus"`
	CreatedAt         time.Time        `json:"createdAt"`
	CompletedAt       *time.Time       `json:"endedAt,omitempty"`
}

// Advance moves the call to next when that is forward progress and reports whether it did.
func (c *Call) Advance(next Status) bool {
	if !c.Status.CanAdvanceTo(next) {
		return false
	}
	c.Status = next
	return true
}

// CostCategory classifies the speech operation a cost item paid for.
type CostCategory string

const (
	CategoryTTS CostCategory = "tts"
	CategorySTT CostCategory = "stt"
)

// Validate enforces supported categories.
func (c CostCategory) Validate() error {
	switch c {
	case CategoryTTS, CategorySTT:
		return nil
	default:
		return fmt.Errorf("unsupported cost category: %q", c)
	}
}

// CostItem is an immutable billing record for one paid provider invocation.
type CostItem struct {
	ID        string          `json:"id"`
	CallID    string          `json:"callId"`
	Category  CostCategory    `json:"category"`
	Provider  string          `json:"provider"`
	Units     decimal.Decimal `json:"units"`
	UnitCost  decimal.Decimal `json:"unitCost"`
	TotalCost decimal.Decimal `json:"totalCost"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Patient is the subset of the patient directory the coordinator reads.
type Patient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	MRN       string    `json:"mrn,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate enforces fields required to dial a patient.
func (p Patient) Validate() error {
	if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Phone) == "" {
		return fmt.Errorf("name and phone are required")
	}
	return nil
}

// VoiceGender selects the prompt voice family.
type VoiceGender string

const (
	GenderMale   VoiceGender = "male"
	GenderFemale VoiceGender = "female"
)

// ProviderSettings is the process-wide speech provider configuration snapshot.
type ProviderSettings struct {
	VoiceGender       VoiceGender `json:"voiceGender"`
	TTSProvider       string      `json:"ttsProvider,omitempty"`
	STTProvider       string      `json:"sttProvider,omitempty"`
	ElevenMaleVoice   string      `json:"elevenMaleVoice,omitempty"`
	ElevenFemaleVoice string      `json:"elevenFemaleVoice,omitempty"`
	AzureVoiceName    string      `json:"azureVoiceName,omitempty"`
	GoogleLanguage    string      `json:"googleLanguage,omitempty"`
	GoogleVoiceName   string      `json:"googleVoiceName,omitempty"`
	UpdatedAt         time.Time   `json:"updatedAt,omitzero"`
}

// Gender returns the configured gender, defaulting to male.
func (s ProviderSettings) Gender() VoiceGender {
	if s.VoiceGender == GenderFemale {
		return GenderFemale
	}
	return GenderMale
}
