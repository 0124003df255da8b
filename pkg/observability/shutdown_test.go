package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestShutdownManager_RunsAllFuncs(t *testing.T) {
	var buf bytes.Buffer
	sm := NewShutdownManager(NewLogger(InfoLevel, &buf), nil, time.Second)

	var calls int32
	for i := 0; i < 3; i++ {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}
	sm.RegisterShutdownFunc(nil)

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return errors.New("a") })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })

	err := sm.Shutdown(context.Background())
	if err == nil || err.Error() != "shutdown completed with 1 errors" {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sm.Shutdown(ctx); err == nil {
		t.Error("expected timeout error")
	}
}

func TestShutdownManager_WaitForShutdownOnContextCancel(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.NotFoundHandler())
	srv.Start()
	defer srv.Close()

	sm := NewShutdownManager(nil, srv.Config, time.Second)
	var ran int32
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sm.WaitForShutdown(ctx); err != nil {
		t.Fatalf("WaitForShutdown() error = %v", err)
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Error("expected shutdown func to run")
	}
}
