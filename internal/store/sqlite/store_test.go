package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tiger/discharge-followup/api/calls"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "followup.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedCall(t *testing.T, s *Store, id string) calls.Call {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	patient := calls.Patient{ID: "patient-" + id, Name: "Asha", Phone: "+15551234567", CreatedAt: now}
	if err := s.InsertPatient(ctx, patient); err != nil {
		t.Fatalf("insert patient: %v", err)
	}
	c := calls.Call{
		ID:                id,
		PatientID:         patient.ID,
		TelephonyProvider: "plivo",
		Status:            calls.StatusInitiated,
		TranscriptStatus:  calls.TranscriptNone,
		CreatedAt:         now,
	}
	if err := s.InsertCall(ctx, c); err != nil {
		t.Fatalf("insert call: %v", err)
	}
	return c
}

func TestOpenCreatesNestedDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "followup.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("expected path %s, got %s", path, s.Path())
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestPatientRoundTripAndNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedCall(t, s, "call-1")
	p, err := s.Patient(ctx, "patient-call-1")
	if err != nil || p.Name != "Asha" || p.Phone != "+15551234567" {
		t.Fatalf("unexpected patient %+v err=%v", p, err)
	}
	if _, err := s.Patient(ctx, "missing"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	list, err := s.ListPatients(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("unexpected patients %v err=%v", list, err)
	}
}

func TestUpdateCallPersistsAndResolvesProviderID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCall(t, s, "call-1")

	ended := time.Date(2026, 2, 1, 8, 5, 0, 0, time.UTC)
	updated, err := s.UpdateCall(ctx, "call-1", func(c *calls.Call) error {
		c.ProviderCallID = "abc123"
		c.Advance(calls.StatusRinging)
		c.RecordingURL = "https://rec/1"
		c.CompletedAt = &ended
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Status != calls.StatusRinging {
		t.Fatalf("unexpected status %s", updated.Status)
	}

	byProvider, err := s.CallByProviderID(ctx, "abc123")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if byProvider.ID != "call-1" || byProvider.RecordingURL != "https://rec/1" || byProvider.CompletedAt == nil || !byProvider.CompletedAt.Equal(ended) {
		t.Fatalf("unexpected call %+v", byProvider)
	}
	if _, err := s.CallByProviderID(ctx, "zzz"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.UpdateCall(ctx, "missing", func(*calls.Call) error { return nil }); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateCallAbortsOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCall(t, s, "call-1")

	abort := errors.New("abort")
	_, err := s.UpdateCall(ctx, "call-1", func(c *calls.Call) error {
		c.Status = calls.StatusCompleted
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	c, err := s.Call(ctx, "call-1")
	if err != nil || c.Status != calls.StatusInitiated {
		t.Fatalf("expected unchanged call, got %+v err=%v", c, err)
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCall(t, s, "call-1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateCall(ctx, "call-1", func(c *calls.Call) error {
				c.Transcript += "x"
				return nil
			})
			if err != nil {
				t.Errorf("update failed: %v", err)
			}
		}()
	}
	wg.Wait()

	c, err := s.Call(ctx, "call-1")
	if err != nil || len(c.Transcript) != 10 {
		t.Fatalf("expected 10 serialized appends, got %q err=%v", c.Transcript, err)
	}
}

func TestCostItemsKeepDecimalPrecision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedCall(t, s, "call-1")

	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	for i, total := range []string{"0.036", "0.009"} {
		item := calls.CostItem{
			ID:        []string{"a", "b"}[i],
			CallID:    "call-1",
			Category:  calls.CategoryTTS,
			Provider:  "elevenlabs",
			Units:     decimal.NewFromInt(120),
			UnitCost:  decimal.RequireFromString("0.0003"),
			TotalCost: decimal.RequireFromString(total),
			CreatedAt: now,
		}
		if err := s.InsertCostItem(ctx, item); err != nil {
			t.Fatalf("insert cost item: %v", err)
		}
	}
	items, err := s.CostItems(ctx, "call-1")
	if err != nil || len(items) != 2 {
		t.Fatalf("unexpected items %v err=%v", items, err)
	}
	if items[0].ID != "a" || !items[0].TotalCost.Equal(decimal.RequireFromString("0.036")) || !items[0].UnitCost.Equal(decimal.RequireFromString("0.0003")) {
		t.Fatalf("unexpected first item %+v", items[0])
	}
}

func TestSettingsDefaultAndReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.Settings(ctx)
	if err != nil || empty.TTSProvider != "" {
		t.Fatalf("expected zero settings, got %+v err=%v", empty, err)
	}
	want := calls.ProviderSettings{VoiceGender: calls.GenderFemale, TTSProvider: "azure", AzureVoiceName: "hi-IN-SwaraNeural"}
	if err := s.SaveSettings(ctx, want); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	want.STTProvider = "google"
	if err := s.SaveSettings(ctx, want); err != nil {
		t.Fatalf("replace settings: %v", err)
	}
	got, err := s.Settings(ctx)
	if err != nil || got.STTProvider != "google" || got.AzureVoiceName != "hi-IN-SwaraNeural" || got.Gender() != calls.GenderFemale {
		t.Fatalf("unexpected settings %+v err=%v", got, err)
	}
}

func TestClaimIsFirstWriterWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Claim(ctx, "call-1", "https://rec/1")
	if err != nil || !first {
		t.Fatalf("expected first claim, got %v err=%v", first, err)
	}
	second, err := s.Claim(ctx, "call-1", "https://rec/1")
	if err != nil || second {
		t.Fatalf("expected duplicate claim to be ignored, got %v err=%v", second, err)
	}
	if err := s.Release(ctx, "call-1", "https://rec/1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := s.Claim(ctx, "call-1", "https://rec/1")
	if err != nil || !again {
		t.Fatalf("expected claim after release, got %v err=%v", again, err)
	}
}
