package promptcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestGetHonorsTTL(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	cache := New(WithClock(clock.Now))
	cache.Put("call-1", []byte("audio"), "audio/mpeg")

	clock.Advance(14*time.Minute + 59*time.Second)
	if entry, ok := cache.Get("call-1"); !ok || string(entry.Audio) != "audio" {
		t.Fatalf("expected live entry before expiry")
	}
	clock.Advance(time.Second)
	if _, ok := cache.Get("call-1"); ok {
		t.Fatalf("expected entry to expire at exactly 15 minutes")
	}
}

func TestGetOrLoadCachesSuccessOnly(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	cache := New(WithClock(clock.Now))
	ctx := context.Background()

	var loads int
	failing := func(context.Context) ([]byte, string, error) {
		loads++
		return nil, "", errors.New("provider down")
	}
	if _, err := cache.GetOrLoad(ctx, "call-1", failing); err == nil {
		t.Fatalf("expected load error")
	}
	if cache.Len() != 0 {
		t.Fatalf("failed load must not be cached")
	}

	ok := func(context.Context) ([]byte, string, error) {
		loads++
		return []byte("mp3"), "audio/mpeg", nil
	}
	first, err := cache.GetOrLoad(ctx, "call-1", ok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := cache.GetOrLoad(ctx, "call-1", ok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loads != 2 || string(second.Audio) != "mp3" || !first.ExpiresAt.Equal(second.ExpiresAt) {
		t.Fatalf("expected cache hit on second request, loads=%d", loads)
	}

	clock.Advance(DefaultTTL)
	if _, err := cache.GetOrLoad(ctx, "call-1", ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loads != 3 {
		t.Fatalf("expected reload after expiry, loads=%d", loads)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected at most one entry per key, got %d", cache.Len())
	}
}

func TestGetOrLoadCollapsesConcurrentMisses(t *testing.T) {
	t.Parallel()

	cache := New()
	release := make(chan struct{})
	var loads atomic.Int32
	load := func(context.Context) ([]byte, string, error) {
		loads.Add(1)
		<-release
		return []byte("mp3"), "audio/mpeg", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.GetOrLoad(context.Background(), "call-1", load); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := loads.Load(); got != 1 {
		t.Fatalf("expected a single synthesis, got %d", got)
	}
	if entry, ok := cache.Get("call-1"); !ok || string(entry.Audio) != "mp3" {
		t.Fatalf("expected cached audio after concurrent load")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	cache := New(WithClock(clock.Now), WithTTL(time.Minute))
	cache.Put("a", []byte("1"), "audio/mpeg")
	clock.Advance(30 * time.Second)
	cache.Put("b", []byte("2"), "audio/mpeg")
	clock.Advance(45 * time.Second)

	if removed := cache.Sweep(); removed != 1 {
		t.Fatalf("expected one expired entry removed, got %d", removed)
	}
	if _, ok := cache.Get("b"); !ok {
		t.Fatalf("expected b to survive")
	}
}
