package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestShutdownManager_ClosersRunInReverseRegistrationOrder(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: time.Millisecond})

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		sm.RegisterCloser(CloserFunc(func() error {
			order = append(order, i)
			return nil
		}))
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if want := []int{2, 1, 0}; !equalInts(order, want) {
		t.Errorf("closer order = %v, want %v", order, want)
	}
}

func TestDefaultShutdownConfig(t *testing.T) {
	cfg := DefaultShutdownConfig()
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
	if cfg.DrainTimeout != 15*time.Second {
		t.Errorf("DrainTimeout = %v, want 15s", cfg.DrainTimeout)
	}
}

func TestShutdownManager_ShutdownRunsOnce(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: time.Millisecond})

	calls := 0
	sm.RegisterCloser(CloserFunc(func() error {
		calls++
		return nil
	}))

	if err := sm.Shutdown(context.Background(), "first"); err != nil {
		t.Fatalf("first Shutdown failed: %v", err)
	}
	if err := sm.Shutdown(context.Background(), "second"); err != nil {
		t.Fatalf("second Shutdown failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected closer to run exactly once, ran %d times", calls)
	}
}

func TestShutdownManager_ShutdownReturnsFirstCloserError(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: time.Millisecond})

	boom := errors.New("boom")
	sm.RegisterCloser(CloserFunc(func() error { return nil }))
	sm.RegisterCloser(CloserFunc(func() error { return boom }))

	err := sm.Shutdown(context.Background(), "test")
	if err == nil || !errors.Is(err, boom) {
		t.Errorf("expected wrapped boom error, got %v", err)
	}
}

func TestShutdownManager_TrackRequestRejectedDuringShutdown(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: time.Millisecond})

	if !sm.TrackRequest() {
		t.Fatal("expected TrackRequest to succeed before shutdown")
	}
	sm.UntrackRequest()

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if sm.TrackRequest() {
		t.Error("expected TrackRequest to fail once shutdown has started")
	}
}

func TestShutdownManager_DrainTimesOutWithInFlightRequests(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: 10 * time.Millisecond})
	sm.TrackRequest()

	err := sm.Shutdown(context.Background(), "test")
	if err == nil {
		t.Fatal("expected drain timeout error with an in-flight request")
	}
}

func TestShutdownMiddleware_RejectsDuringShutdown(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: time.Millisecond})
	handler := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 before shutdown, got %d", rec.Code)
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 during shutdown, got %d", rec.Code)
	}
}

func TestMultiCloser_ClosesAllAndReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	closedCount := 0
	mc := NewMultiCloser(
		CloserFunc(func() error { closedCount++; return boom }),
		CloserFunc(func() error { closedCount++; return nil }),
	)

	if err := mc.Close(); !errors.Is(err, boom) {
		t.Errorf("expected first error boom, got %v", err)
	}
	if closedCount != 2 {
		t.Errorf("expected both closers to run, ran %d", closedCount)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
