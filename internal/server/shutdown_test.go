package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestShutdown_ClosersRunInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())

	var order []string
	sm.RegisterCloser(CloserFunc(func() error {
		order = append(order, "store")
		return nil
	}))
	sm.RegisterCloser(CloserFunc(func() error {
		order = append(order, "exporter")
		return nil
	}))
	sm.RegisterCloser(CloserFunc(func() error {
		order = append(order, "http")
		return nil
	}))

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	want := []string{"http", "exporter", "store"}
	if len(order) != len(want) {
		t.Fatalf("expected %d closers, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("closer order = %v, want %v", order, want)
		}
	}
}

func TestShutdown_IsIdempotent(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())

	var calls int32
	sm.RegisterCloser(CloserFunc(func() error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	if err := sm.Shutdown(context.Background(), "first"); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := sm.Shutdown(context.Background(), "second"); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("closer called %d times, want 1", got)
	}
}

func TestTrackRequest_RejectedAfterShutdown(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())

	if !sm.TrackRequest() {
		t.Fatal("expected request to be accepted before shutdown")
	}
	sm.UntrackRequest()

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if sm.IsShuttingDown() != true {
		t.Fatal("expected IsShuttingDown after shutdown")
	}
	if sm.TrackRequest() {
		t.Fatal("expected request to be rejected after shutdown")
	}
}

func TestShutdown_DrainsInFlightRequests(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{
		ShutdownTimeout: 5 * time.Second,
		DrainTimeout:    2 * time.Second,
	})

	if !sm.TrackRequest() {
		t.Fatal("expected request to be accepted")
	}

	var closedWithInFlight int64
	sm.RegisterCloser(CloserFunc(func() error {
		closedWithInFlight = sm.InFlightCount()
		return nil
	}))

	go func() {
		time.Sleep(200 * time.Millisecond)
		sm.UntrackRequest()
	}()

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if closedWithInFlight != 0 {
		t.Fatalf("closers ran with %d requests in flight", closedWithInFlight)
	}
}

func TestShutdown_DrainTimeoutReported(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{
		ShutdownTimeout: 2 * time.Second,
		DrainTimeout:    200 * time.Millisecond,
	})

	// Never released.
	if !sm.TrackRequest() {
		t.Fatal("expected request to be accepted")
	}

	err := sm.Shutdown(context.Background(), "test")
	if err == nil {
		t.Fatal("expected drain timeout error")
	}
}

func TestShutdownMiddleware(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	handler := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 before shutdown, got %d", rec.Code)
	}
	if sm.InFlightCount() != 0 {
		t.Fatalf("expected in-flight count 0 after request, got %d", sm.InFlightCount())
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after shutdown, got %d", rec.Code)
	}
}

func TestShutdownCh_ClosedOnShutdown(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())

	select {
	case <-sm.ShutdownCh():
		t.Fatal("shutdown channel closed before shutdown")
	default:
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case <-sm.ShutdownCh():
	case <-time.After(time.Second):
		t.Fatal("shutdown channel not closed after shutdown")
	}
}
