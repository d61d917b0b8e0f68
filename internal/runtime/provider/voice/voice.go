// Package voice resolves TTS voice names and STT language hints from settings.
package voice

import (
	"strings"

	"github.com/tiger/discharge-followup/api/calls"
)

// Selection lists candidate voices for one synthesizer in precedence order.
type Selection struct {
	Override      string
	Requested     string
	Male          string
	Female        string
	DefaultMale   string
	DefaultFemale string
}

// Resolve picks override > requested > configured per-gender > hardcoded default.
func (s Selection) Resolve(gender calls.VoiceGender) string {
	if v := strings.TrimSpace(s.Override); v != "" {
		return v
	}
	if v := strings.TrimSpace(s.Requested); v != "" {
		return v
	}
	if gender == calls.GenderFemale {
		if v := strings.TrimSpace(s.Female); v != "" {
			return v
		}
		return s.DefaultFemale
	}
	if v := strings.TrimSpace(s.Male); v != "" {
		return v
	}
	return s.DefaultMale
}

// Language hints understood by transcription adapters.
const (
	LanguageEnglish = "en"
	LanguageHindi   = "hi"
	LanguageMarathi = "mr"
)

// LanguageForVoice derives an STT language hint from a voice name locale prefix.
func LanguageForVoice(voiceName string) string {
	name := strings.ToLower(strings.TrimSpace(voiceName))
	switch {
	case strings.HasPrefix(name, "hi-"):
		return LanguageHindi
	case strings.HasPrefix(name, "mr-"):
		return LanguageMarathi
	default:
		return LanguageEnglish
	}
}

// LocaleForLanguage maps a language hint to a BCP-47 locale.
func LocaleForLanguage(hint string) string {
	switch hint {
	case LanguageHindi:
		return "hi-IN"
	case LanguageMarathi:
		return "mr-IN"
	default:
		return "en-US"
	}
}
