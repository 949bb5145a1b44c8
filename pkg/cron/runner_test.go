package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestEverySpec(t *testing.T) {
	if got := Every(90 * time.Second); got != "@every 1m30s" {
		t.Fatalf("unexpected spec %q", got)
	}
	if got := Every(time.Millisecond); got != "@every 1s" {
		t.Fatalf("sub-second interval must be raised, got %q", got)
	}
}

func TestRunnerRunsAndStops(t *testing.T) {
	r := New(context.Background(), nil)
	var runs int32
	if _, err := r.Add("tick", "@every 1s", func(ctx context.Context) { atomic.AddInt32(&runs, 1) }); err != nil {
		t.Fatalf("add: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected one entry")
	}
	r.Start()
	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&runs) == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	r.Stop()
	if atomic.LoadInt32(&runs) == 0 {
		t.Fatalf("job never ran")
	}
}

func TestAddRejectsBadSpec(t *testing.T) {
	r := New(context.Background(), nil)
	if _, err := r.Add("bad", "not a spec", func(context.Context) {}); err == nil {
		t.Fatalf("expected error for invalid spec")
	}
}
