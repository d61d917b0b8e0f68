package calls

import "testing"

func TestStatusCanAdvanceTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusInitiated, StatusRinging, true},
		{StatusInitiated, StatusInProgress, true},
		{StatusInitiated, StatusCompleted, true},
		{StatusInitiated, StatusFailed, true},
		{StatusRinging, StatusFailed, true},
		{StatusRinging, StatusInitiated, false},
		{StatusInProgress, StatusRinging, false},
		{StatusInProgress, StatusFailed, false},
		{StatusInProgress, StatusInProgress, false},
		{StatusCompleted, StatusRinging, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusRinging, Status("bogus"), false},
	}
	for _, tc := range tests {
		if got := tc.from.CanAdvanceTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestCallAdvanceNeverRegresses(t *testing.T) {
	t.Parallel()

	call := Call{Status: StatusInitiated}
	if !call.Advance(StatusInProgress) {
		t.Fatalf("expected advance to in_progress")
	}
	if call.Advance(StatusRinging) {
		t.Fatalf("late ringing must not regress status")
	}
	if !call.Advance(StatusCompleted) || call.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", call.Status)
	}
	if call.Advance(StatusFailed) {
		t.Fatalf("completed call must not become failed")
	}
}

func TestProviderSettingsGender(t *testing.T) {
	t.Parallel()

	if got := (ProviderSettings{}).Gender(); got != GenderMale {
		t.Fatalf("expected male default, got %q", got)
	}
	if got := (ProviderSettings{VoiceGender: GenderFemale}).Gender(); got != GenderFemale {
		t.Fatalf("expected female, got %q", got)
	}
}

func TestPatientValidate(t *testing.T) {
	t.Parallel()

	if err := (Patient{Name: "Asha", Phone: "+15551234567"}).Validate(); err != nil {
		t.Fatalf("expected valid patient, got %v", err)
	}
	if err := (Patient{Name: "Asha"}).Validate(); err == nil {
		t.Fatalf("expected missing phone to fail")
	}
}
