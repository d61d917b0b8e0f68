package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tiger/discharge-followup/api/calls"
	providerconfig "github.com/tiger/discharge-followup/internal/runtime/provider/config"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
)

func TestConfigFromEnvAndSettings(t *testing.T) {
	t.Parallel()

	env := providerconfig.MapEnv(map[string]string{
		"ELEVENLABS_API_KEY_REF":   "env://VAULT_KEY",
		"VAULT_KEY":                "secret-key",
		"ELEVENLABS_VOICE_MALE_ID": "env-male",
	})
	cfg := ConfigFromEnv(env).WithSettings(calls.ProviderSettings{ElevenFemaleVoice: "db-female"})
	if cfg.APIKey != "secret-key" {
		t.Fatalf("expected API key from secret ref, got %q", cfg.APIKey)
	}
	if cfg.MaleVoiceID != "env-male" || cfg.FemaleVoiceID != "db-female" {
		t.Fatalf("unexpected voices %+v", cfg)
	}
}

func TestSynthesizeUsesGenderVoice(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/female-voice" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("xi-api-key"); got != "tts-key" {
			t.Errorf("expected xi-api-key header, got %q", got)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["text"] != "hello" {
			t.Errorf("unexpected body %+v", body)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	adapter, err := NewAdapter(Config{
		APIKey:        "tts-key",
		BaseURL:       srv.URL + "/v1",
		MaleVoiceID:   "male-voice",
		FemaleVoiceID: "female-voice",
		Timeout:       2 * time.Second,
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	out, err := adapter.Synthesize(context.Background(), "hello", contracts.SynthesisOptions{Gender: calls.GenderFemale})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out.Audio) != "mp3-bytes" || out.ContentType != "audio/mpeg" {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestSynthesizeWithoutVoiceFails(t *testing.T) {
	t.Parallel()

	adapter, err := NewAdapter(Config{BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	_, err = adapter.Synthesize(context.Background(), "hello", contracts.SynthesisOptions{Gender: calls.GenderMale})
	var providerErr *contracts.ProviderError
	if !errors.As(err, &providerErr) || providerErr.Reason != contracts.ReasonMissingConfig {
		t.Fatalf("expected missing voice error, got %v", err)
	}
}
