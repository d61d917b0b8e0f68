package voice

import (
	"testing"

	"github.com/tiger/discharge-followup/api/calls"
)

func TestSelectionPrecedence(t *testing.T) {
	t.Parallel()

	base := Selection{DefaultMale: "en-US-GuyNeural", DefaultFemale: "en-US-JennyNeural"}
	tests := []struct {
		name   string
		sel    Selection
		gender calls.VoiceGender
		want   string
	}{
		{name: "hardcoded male", sel: base, gender: calls.GenderMale, want: "en-US-GuyNeural"},
		{name: "hardcoded female", sel: base, gender: calls.GenderFemale, want: "en-US-JennyNeural"},
		{name: "configured female", sel: withFields(base, "", "", "", "f-voice"), gender: calls.GenderFemale, want: "f-voice"},
		{name: "configured male ignored for female", sel: withFields(base, "", "", "m-voice", ""), gender: calls.GenderFemale, want: "en-US-JennyNeural"},
		{name: "requested beats configured", sel: withFields(base, "", "req", "m-voice", "f-voice"), gender: calls.GenderMale, want: "req"},
		{name: "override beats all", sel: withFields(base, "hi-IN-SwaraNeural", "req", "m", "f"), gender: calls.GenderFemale, want: "hi-IN-SwaraNeural"},
	}
	for _, tc := range tests {
		if got := tc.sel.Resolve(tc.gender); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func withFields(s Selection, override, requested, male, female string) Selection {
	s.Override = override
	s.Requested = requested
	s.Male = male
	s.Female = female
	return s
}

func TestLanguageForVoice(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"hi-IN-SwaraNeural":   LanguageHindi,
		"mr-IN-AarohiNeural":  LanguageMarathi,
		"en-US-JennyNeural":   LanguageEnglish,
		"ta-IN-PallaviNeural": LanguageEnglish,
		"":                    LanguageEnglish,
	}
	for name, want := range cases {
		if got := LanguageForVoice(name); got != want {
			t.Fatalf("%q: expected %q, got %q", name, want, got)
		}
	}
	if LocaleForLanguage(LanguageMarathi) != "mr-IN" || LocaleForLanguage("xx") != "en-US" {
		t.Fatalf("unexpected locale mapping")
	}
}
