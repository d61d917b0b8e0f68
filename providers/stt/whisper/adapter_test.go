package whisper

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
)

func TestTranscribeUploadsRecording(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/rec.mp3", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("openai key leaked to recording host")
		}
		_, _ = w.Write([]byte("recorded-audio"))
	})
	mux.HandleFunc("/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth %q", r.Header.Get("Authorization"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if r.FormValue("model") != "whisper-1" || r.FormValue("language") != "hi" || r.FormValue("response_format") != "verbose_json" {
			t.Errorf("unexpected form %+v", r.MultipartForm.Value)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file: %v", err)
			return
		}
		raw, _ := io.ReadAll(file)
		if string(raw) != "recorded-audio" {
			t.Errorf("unexpected upload %q", raw)
		}
		_, _ = w.Write([]byte(`{"text":" theek hoon ","duration":12}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter, err := NewAdapter(Config{APIKey: "sk-test", Endpoint: srv.URL + "/transcriptions"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	out, err := adapter.Transcribe(context.Background(), srv.URL+"/rec.mp3", contracts.TranscriptionOptions{LanguageHint: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "theek hoon" || out.DurationSeconds == nil || *out.DurationSeconds != 12 {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestTranscribeRecordingUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	adapter, err := NewAdapter(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	_, err = adapter.Transcribe(context.Background(), srv.URL+"/missing.mp3", contracts.TranscriptionOptions{})
	var providerErr *contracts.ProviderError
	if !errors.As(err, &providerErr) || providerErr.Provider != ProviderID || providerErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected recording fetch error, got %v", err)
	}
}
