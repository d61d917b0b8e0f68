// Package recording downloads telephony recordings and measures their duration.
package recording

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hajimehoshi/go-mp3"

	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
	"github.com/tiger/discharge-followup/providers/common/httpadapter"
)

// Audio is a downloaded recording.
type Audio struct {
	Bytes       []byte
	ContentType string
}

// Fetch downloads a recording through the provider's HTTP client so failures are
// attributed to that provider.
func Fetch(ctx context.Context, client *httpadapter.Client, audioURL string) (Audio, error) {
	if strings.TrimSpace(audioURL) == "" {
		return Audio{}, contracts.NewProviderError(client.ProviderID(), contracts.ReasonClientError, fmt.Errorf("recording url is empty"))
	}
	resp, err := client.Do(ctx, httpadapter.Request{Method: http.MethodGet, URL: audioURL, Headers: map[string]string{"Accept": "audio/*"}})
	if err != nil {
		return Audio{}, err
	}
	if len(resp.Body) == 0 {
		return Audio{}, contracts.NewProviderError(client.ProviderID(), contracts.ReasonEmptyAudio, fmt.Errorf("recording %s is empty", audioURL))
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return Audio{Bytes: resp.Body, ContentType: contentType}, nil
}

// MP3Duration decodes an MP3 stream and returns its length in seconds.
func MP3Duration(audio []byte) (float64, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(audio))
	if err != nil {
		return 0, fmt.Errorf("decode mp3: %w", err)
	}
	rate := dec.SampleRate()
	if rate <= 0 {
		return 0, fmt.Errorf("decode mp3: invalid sample rate %d", rate)
	}
	// Decoded output is 16-bit stereo PCM: 4 bytes per sample frame.
	return float64(dec.Length()) / float64(4*rate), nil
}

// Duration returns the MP3 duration, or nil when the audio cannot be measured.
func Duration(audio Audio) *float64 {
	seconds, err := MP3Duration(audio.Bytes)
	if err != nil || seconds <= 0 {
		return nil
	}
	return &seconds
}
