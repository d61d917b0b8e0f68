package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/tiger/discharge-followup/api/calls"
)

func dial(t *testing.T, srv *httptest.Server, header http.Header) (*gorillaws.Conn, *http.Response, error) {
	t.Helper()
	return gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
}

func TestPublishReachesSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{})
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn, _, err := dial(t, srv, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if got := hub.Subscribers(); got != 1 {
		t.Fatalf("expected one subscriber after handshake, got %d", got)
	}

	hub.Publish(calls.Call{ID: "call-1", Status: calls.StatusRinging})
	hub.Publish(calls.Call{ID: "call-1", Status: calls.StatusCompleted})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []calls.Status{calls.StatusRinging, calls.StatusCompleted} {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != MessageTypeCall || msg.Call.ID != "call-1" || msg.Call.Status != want {
			t.Fatalf("unexpected message %+v, want status %s", msg, want)
		}
	}
}

func TestSlowSubscriberIsEvicted(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{Buffer: 1})
	sub, ok := hub.subscribe()
	if !ok {
		t.Fatalf("expected subscribe on open hub")
	}
	hub.Publish(calls.Call{ID: "a"})
	hub.Publish(calls.Call{ID: "b"})

	if hub.Subscribers() != 0 || hub.Evicted() != 1 {
		t.Fatalf("expected eviction, subscribers=%d evicted=%d", hub.Subscribers(), hub.Evicted())
	}
	if first, ok := <-sub.updates; !ok || first.ID != "a" {
		t.Fatalf("expected buffered update before close, got %+v ok=%v", first, ok)
	}
	if _, ok := <-sub.updates; ok {
		t.Fatalf("expected updates channel closed")
	}
	if sub.closeCode != gorillaws.CloseTryAgainLater {
		t.Fatalf("unexpected close code %d", sub.closeCode)
	}
}

func TestCloseDisconnectsAndRefuses(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := dial(t, srv, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hub.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *gorillaws.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != gorillaws.CloseGoingAway {
		t.Fatalf("expected going-away close, got %v", err)
	}

	_, resp, err := dial(t, srv, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected closed hub to refuse, got resp=%v err=%v", resp, err)
	}
}

func TestOriginCheck(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{AllowedOrigins: []string{"https://dashboard.example"}})
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	_, resp, err := dial(t, srv, http.Header{"Origin": {"https://evil.example"}})
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden origin, got resp=%v err=%v", resp, err)
	}
	conn, _, err := dial(t, srv, http.Header{"Origin": {"https://dashboard.example"}})
	if err != nil {
		t.Fatalf("expected allowed origin to connect: %v", err)
	}
	_ = conn.Close()
}
