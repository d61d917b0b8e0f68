package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetBaseSwapsLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := SetBase(zap.New(core))
	defer SetBase(prev)

	Base().Info("call dialed", zap.String("call_id", "call-1"))
	entries := logs.FilterMessage("call dialed").All()
	if len(entries) != 1 || entries[0].ContextMap()["call_id"] != "call-1" {
		t.Fatalf("unexpected log entries %+v", entries)
	}
	if SetBase(nil) == nil || Base() == nil {
		t.Fatalf("expected nil to install a no-op logger")
	}
}

func TestNewParsesLevel(t *testing.T) {
	t.Parallel()

	l, err := New("warn", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Core().Enabled(zap.InfoLevel) || !l.Core().Enabled(zap.WarnLevel) {
		t.Fatalf("expected warn level logger")
	}
	if _, err := New("loud", false); err == nil {
		t.Fatalf("expected invalid level to fail")
	}
}
