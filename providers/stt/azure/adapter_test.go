package azure

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	providerconfig "github.com/tiger/discharge-followup/internal/runtime/provider/config"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
)

func TestTranscribeCombinedPhrases(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/rec.mp3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("audio"))
	})
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api-version") != apiVersion {
			t.Errorf("missing api-version")
		}
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "az-key" {
			t.Errorf("missing subscription key")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if got := r.FormValue("definition"); got != `{"locales":["hi-IN"]}` {
			t.Errorf("unexpected definition %s", got)
		}
		_, _ = w.Write([]byte(`{"durationMilliseconds":7500,"combinedPhrases":[{"text":"Main theek"},{"text":"hoon"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter, err := NewAdapter(Config{APIKey: "az-key", Endpoint: srv.URL + "/transcribe"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	out, err := adapter.Transcribe(context.Background(), srv.URL+"/rec.mp3", contracts.TranscriptionOptions{LanguageHint: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "Main theek hoon" || out.DurationSeconds == nil || *out.DurationSeconds != 7.5 {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestConfigFromEnvRegion(t *testing.T) {
	t.Parallel()

	cfg := ConfigFromEnv(providerconfig.MapEnv(map[string]string{"AZURE_SPEECH_REGION": "westeurope"}))
	if cfg.Endpoint != "https://westeurope.api.cognitive.microsoft.com/speechtotext/transcriptions:transcribe" {
		t.Fatalf("unexpected endpoint %q", cfg.Endpoint)
	}
}
