package callflow

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tiger/discharge-followup/api/calls"
	"github.com/tiger/discharge-followup/internal/ledger"
	"github.com/tiger/discharge-followup/internal/promptcache"
	"github.com/tiger/discharge-followup/internal/runtime/executionpool"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
	"github.com/tiger/discharge-followup/internal/runtime/provider/registry"
	"github.com/tiger/discharge-followup/internal/settings"
	"github.com/tiger/discharge-followup/internal/store/sqlite"
	plivotts "github.com/tiger/discharge-followup/providers/tts/plivo"
)

const testPublicURL = "https://followup.example"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t        *testing.T
	store    *sqlite.Store
	ledger   *ledger.Ledger
	settings *settings.Service
	clock    *clock
	coord    *Coordinator
	feed     *recordingFeed

	synthCalls atomic.Int32
	sttCalls   atomic.Int32

	mu          sync.Mutex
	dialed      []contracts.DialRequest
	dialErr     error
	dialID      string
	dialEntered chan struct{}
	dialGate    chan struct{}
	sttText     string
	sttLength   float64
	sttHook     func(recordingURL string)
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithJobs(t, nil)
}

func newHarnessWithJobs(t *testing.T, jobs JobRunner) *harness {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "followup.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		t:         t,
		store:     store,
		clock:     &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		feed:      &recordingFeed{},
		dialID:    "abc123",
		sttText:   "I am feeling much better, thank you",
		sttLength: 90,
	}
	h.ledger = ledger.New(store, ledger.WithClock(h.clock.Now))
	h.settings, err = settings.New(store)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	reg, err := registry.New(registry.Options{
		Synthesizers: map[string]registry.SynthesizerFactory{
			"elevenlabs": func(calls.ProviderSettings) (contracts.Synthesizer, error) {
				return contracts.StaticSynthesizer{ID: "elevenlabs", SynthesizeFn: h.synthesize}, nil
			},
			"azure": func(calls.ProviderSettings) (contracts.Synthesizer, error) {
				return contracts.StaticSynthesizer{ID: "azure", SynthesizeFn: func(context.Context, string, contracts.SynthesisOptions) (contracts.SynthesisResult, error) {
					h.synthCalls.Add(1)
					return contracts.SynthesisResult{}, contracts.NewProviderError("azure", contracts.ReasonAuthBlock, nil)
				}}, nil
			},
			"plivo": func(calls.ProviderSettings) (contracts.Synthesizer, error) {
				return plivotts.NewAdapter(), nil
			},
		},
		Transcribers: map[string]registry.TranscriberFactory{
			"deepgram": func(calls.ProviderSettings) (contracts.Transcriber, error) {
				return contracts.StaticTranscriber{ID: "deepgram", TranscribeFn: h.transcribe}, nil
			},
			"google": func(calls.ProviderSettings) (contracts.Transcriber, error) {
				return contracts.StaticTranscriber{ID: "google", TranscribeFn: func(context.Context, string, contracts.TranscriptionOptions) (contracts.TranscriptionResult, error) {
					h.sttCalls.Add(1)
					return contracts.TranscriptionResult{Text: "  ", DurationSeconds: contracts.Seconds(30)}, nil
				}}, nil
			},
			"whisper": func(calls.ProviderSettings) (contracts.Transcriber, error) {
				return contracts.StaticTranscriber{ID: "whisper", TranscribeFn: func(context.Context, string, contracts.TranscriptionOptions) (contracts.TranscriptionResult, error) {
					h.sttCalls.Add(1)
					return contracts.TranscriptionResult{}, contracts.NewProviderError("whisper", contracts.ReasonServerError, nil)
				}}, nil
			},
		},
		DefaultTTS: "plivo",
		DefaultSTT: "deepgram",
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if jobs == nil {
		pool := executionpool.NewManager(executionpool.Config{Workers: 2, Capacity: 16})
		t.Cleanup(func() { _ = pool.Drain(context.Background()) })
		jobs = pool
	}
	h.coord, err = New(testPublicURL+"/", Deps{
		Store:     store,
		Ledger:    h.ledger,
		Providers: reg,
		Settings:  h.settings,
		Cache:     promptcache.New(promptcache.WithClock(h.clock.Now)),
		Dialer:    contracts.StaticDialer{ID: "plivo", DialFn: h.dial},
		Jobs:      jobs,
		Dedupe:    store,
		Native:    plivotts.NewAdapter(),
		Feed:      h.feed,
	})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	h.coord.Now = h.clock.Now
	return h
}

type recordingFeed struct {
	mu    sync.Mutex
	calls []calls.Call
}

func (f *recordingFeed) Publish(call calls.Call) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *recordingFeed) snapshot() []calls.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]calls.Call(nil), f.calls...)
}

func (h *harness) synthesize(_ context.Context, text string, _ contracts.SynthesisOptions) (contracts.SynthesisResult, error) {
	h.synthCalls.Add(1)
	return contracts.SynthesisResult{Audio: []byte("mp3:" + text), ContentType: "audio/mpeg"}, nil
}

func (h *harness) transcribe(_ context.Context, recordingURL string, _ contracts.TranscriptionOptions) (contracts.TranscriptionResult, error) {
	h.sttCalls.Add(1)
	h.mu.Lock()
	res := contracts.TranscriptionResult{Text: h.sttText, DurationSeconds: contracts.Seconds(h.sttLength)}
	hook := h.sttHook
	h.mu.Unlock()
	if hook != nil {
		hook(recordingURL)
	}
	return res, nil
}

// dial records req. When dialGate is set it signals dialEntered once and blocks
// until the gate closes.
func (h *harness) dial(_ context.Context, req contracts.DialRequest) (contracts.DialResult, error) {
	h.mu.Lock()
	h.dialed = append(h.dialed, req)
	dialErr, dialID := h.dialErr, h.dialID
	entered, gate := h.dialEntered, h.dialGate
	h.dialEntered = nil
	h.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if gate != nil {
		<-gate
	}
	if dialErr != nil {
		return contracts.DialResult{}, dialErr
	}
	return contracts.DialResult{ProviderCallID: dialID}, nil
}

// restart replaces the coordinator with one sharing the same store but a fresh job
// pool, as after a process restart.
func (h *harness) restart() {
	h.t.Helper()
	pool := executionpool.NewManager(executionpool.Config{Workers: 2, Capacity: 16})
	h.t.Cleanup(func() { _ = pool.Drain(context.Background()) })
	deps := h.coord.deps
	deps.Jobs = pool
	coord, err := New(testPublicURL+"/", deps)
	if err != nil {
		h.t.Fatalf("coordinator: %v", err)
	}
	coord.Now = h.clock.Now
	h.coord = coord
}

func (h *harness) patient(id, name string) calls.Patient {
	h.t.Helper()
	p := calls.Patient{ID: id, Name: name, Phone: "+15551234567", CreatedAt: h.clock.Now()}
	if err := h.store.InsertPatient(context.Background(), p); err != nil {
		h.t.Fatalf("insert patient: %v", err)
	}
	return p
}

func (h *harness) useSettings(s calls.ProviderSettings) {
	h.t.Helper()
	if _, err := h.settings.Replace(context.Background(), s); err != nil {
		h.t.Fatalf("replace settings: %v", err)
	}
}

func (h *harness) dialedCall(patientID string) calls.Call {
	h.t.Helper()
	call, err := h.coord.Initiate(context.Background(), patientID)
	if err != nil {
		h.t.Fatalf("initiate: %v", err)
	}
	return call
}

func (h *harness) waitIdle() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.coord.WaitIdle(ctx); err != nil {
		h.t.Fatalf("wait idle: %v", err)
	}
}

func (h *harness) costItems(callID string) []calls.CostItem {
	h.t.Helper()
	items, err := h.ledger.Items(context.Background(), callID)
	if err != nil {
		h.t.Fatalf("cost items: %v", err)
	}
	return items
}

func (h *harness) reload(callID string) calls.Call {
	h.t.Helper()
	call, err := h.store.Call(context.Background(), callID)
	if err != nil {
		h.t.Fatalf("reload call: %v", err)
	}
	return call
}
