package ratelimit

import (
	"testing"
	"time"
)

func TestAllowRefills(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(2, 1)
	l.now = func() time.Time { return now }

	if !l.Allow("EURUSD") || !l.Allow("EURUSD") {
		t.Fatal("first two requests should pass")
	}
	if l.Allow("EURUSD") {
		t.Fatal("third request should be limited")
	}
	if !l.Allow("BTCUSD") {
		t.Fatal("keys must not share buckets")
	}
	now = now.Add(time.Second)
	if !l.Allow("EURUSD") {
		t.Fatal("bucket should refill after one second")
	}
}

func TestDisabledLimiter(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 100; i++ {
		if !l.Allow("x") {
			t.Fatal("disabled limiter refused a request")
		}
	}
}
