package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"prism-tracker/domain"
)

func event(i int) domain.Event {
	return domain.Event{Type: domain.TaskUpdated, Payload: map[string]any{"seq": i}}
}

func frame(i int) string {
	return fmt.Sprintf(`{"type":"TASK_UPDATED","payload":{"seq":%d}}`, i)
}

func receive(t *testing.T, c *Conn) string {
	t.Helper()
	select {
	case f := <-c.Frames():
		return string(f)
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return ""
	}
}

func TestHubFanOutExactlyOnceInOrder(t *testing.T) {
	hub := NewHub(16)
	conns := make([]*Conn, 3)
	for i := range conns {
		conns[i] = hub.Subscribe()
	}
	for i := 0; i < 5; i++ {
		hub.Broadcast(context.Background(), event(i))
	}
	for _, c := range conns {
		for i := 0; i < 5; i++ {
			if got := receive(t, c); got != frame(i) {
				t.Fatalf("conn %s frame %d: got %s", c.ID, i, got)
			}
		}
		select {
		case f := <-c.Frames():
			t.Fatalf("unexpected extra frame %s", f)
		default:
		}
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(4)
	a, b := hub.Subscribe(), hub.Subscribe()
	hub.Unsubscribe(a)
	hub.Unsubscribe(a)
	if hub.Len() != 1 {
		t.Fatalf("expected 1 connection, got %d", hub.Len())
	}
	if _, ok := <-a.Frames(); ok {
		t.Fatal("unsubscribed connection must be closed")
	}
	if n := hub.Send([]byte("x")); n != 1 {
		t.Fatalf("expected delivery to 1 connection, got %d", n)
	}
	if got := receive(t, b); got != "x" {
		t.Fatalf("unexpected frame %s", got)
	}
}

func TestHubSlowConnectionIsIsolated(t *testing.T) {
	hub := NewHub(1)
	slow, fast := hub.Subscribe(), hub.Subscribe()

	hub.Send([]byte("1"))
	if got := receive(t, fast); got != "1" {
		t.Fatalf("unexpected frame %s", got)
	}
	// slow never reads; the next send must not block on it
	done := make(chan int)
	go func() { done <- hub.Send([]byte("2")) }()
	select {
	case n := <-done:
		if n != 1 {
			t.Fatalf("expected 1 delivery, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("send blocked on a full connection")
	}
	if got := receive(t, fast); got != "2" {
		t.Fatalf("unexpected frame %s", got)
	}
	if hub.Evicted() != 1 || hub.Len() != 1 {
		t.Fatalf("expected the slow connection to be closed, evicted %d live %d", hub.Evicted(), hub.Len())
	}
	if got := receive(t, slow); got != "1" {
		t.Fatalf("slow connection keeps what fit: %s", got)
	}
	// the closed channel tells the reader it fell behind instead of a silent gap
	select {
	case frame, ok := <-slow.Frames():
		if ok {
			t.Fatalf("expected closed stream, got %s", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("slow connection was not closed")
	}
	hub.Unsubscribe(slow)

	if n := hub.Send([]byte("3")); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if got := receive(t, fast); got != "3" {
		t.Fatalf("unexpected frame %s", got)
	}
}

type countingPublisher struct{ n int }

func (c *countingPublisher) Broadcast(context.Context, domain.Event) { c.n++ }

func TestTeeForwardsToAll(t *testing.T) {
	a, b := &countingPublisher{}, &countingPublisher{}
	Tee{a, nil, b}.Broadcast(context.Background(), event(1))
	if a.n != 1 || b.n != 1 {
		t.Fatalf("expected one delivery each, got %d %d", a.n, b.n)
	}
}

func TestRedisRelayDeliversThroughChannel(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()

	hub := NewHub(4)
	conn := hub.Subscribe()
	relay := NewRedisRelay(rc, "events", hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(time.Second)
	for m.PubSubNumSub("events")["events"] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("relay never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	relay.Broadcast(context.Background(), event(7))
	if got := receive(t, conn); got != frame(7) {
		t.Fatalf("unexpected frame %s", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRedisRelayFallsBackToLocalDelivery(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1})
	defer rc.Close()
	m.Close()

	hub := NewHub(4)
	conn := hub.Subscribe()
	NewRedisRelay(rc, "events", hub).Broadcast(context.Background(), event(3))
	if got := receive(t, conn); got != frame(3) {
		t.Fatalf("unexpected frame %s", got)
	}
}

// syncRecorder is a ResponseWriter that can be read while the handler writes.
type syncRecorder struct {
	mu     sync.Mutex
	header http.Header
	code   int
	buf    bytes.Buffer
}

func newSyncRecorder() *syncRecorder { return &syncRecorder{header: http.Header{}} }

func (r *syncRecorder) Header() http.Header { return r.header }

func (r *syncRecorder) WriteHeader(code int) {
	r.mu.Lock()
	r.code = code
	r.mu.Unlock()
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *syncRecorder) Flush() {}

func (r *syncRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type stubAuth struct{ err error }

func (s stubAuth) UserIDFromAuthHeader(h string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if h != "Bearer tok" {
		return "", errors.New("bad auth header")
	}
	return "user1", nil
}

func TestHandlerStreamsFramesAndHeartbeat(t *testing.T) {
	hub := NewHub(4)
	e := echo.New()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/stream?token=tok", nil).WithContext(ctx)
	rec := newSyncRecorder()
	c := e.NewContext(req, rec)

	done := make(chan error)
	go func() { done <- Handler(hub, stubAuth{}, 20*time.Millisecond)(c) }()

	waitFor(t, func() bool { return hub.Len() == 1 })
	hub.Broadcast(context.Background(), event(1))
	waitFor(t, func() bool { return strings.Contains(rec.String(), "data: "+frame(1)+"\n\n") })
	waitFor(t, func() bool { return strings.Contains(rec.String(), ": ping\n\n") })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("handler: %v", err)
	}
	if hub.Len() != 0 {
		t.Fatal("connection must be removed on disconnect")
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestHandlerRejectsUnauthenticated(t *testing.T) {
	hub := NewHub(4)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := Handler(hub, stubAuth{}, time.Second)(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if hub.Len() != 0 {
		t.Fatal("rejected caller must not subscribe")
	}
}
