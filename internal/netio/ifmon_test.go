package netio_test

import (
	"context"
	"testing"
	"time"

	"github.com/gpsr-go/gogpsr/internal/netio"
)

func TestInterfaceWatcherStopsOnCancel(t *testing.T) {
	w := netio.NewInterfaceWatcher(10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	if _, ok := <-w.Events(); ok {
		t.Fatal("expected Events channel closed after Run returns")
	}
}
