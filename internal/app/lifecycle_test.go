package app

import (
	"context"
	"io"
	"log/slog"
	"syscall"
	"testing"
	"time"
)

func TestShutdownSignalDrainsThenForcesExit(t *testing.T) {
	exited := make(chan int, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, release := withShutdownSignal(context.Background(), logger, func(code int) { exited <- code })
	defer release()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("signal: %v", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("first signal did not cancel the context")
	}
	select {
	case code := <-exited:
		t.Fatalf("exit called after one signal with %d", code)
	default:
	}

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("signal: %v", err)
	}
	select {
	case code := <-exited:
		if code != 130 {
			t.Fatalf("unexpected exit code %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("second signal did not force exit")
	}
}

func TestReleaseStopsSignalHandling(t *testing.T) {
	ctx, release := withShutdownSignal(context.Background(), nil, func(int) {
		t.Errorf("exit should not be called")
	})
	release()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("release did not cancel the context")
	}
}
