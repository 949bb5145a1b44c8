package queue

import (
	"encoding/json"
	"testing"
	"time"
)

type sample struct {
	Symbol string  `json:"symbol"`
	Drift  float64 `json:"drift"`
}

func TestDecode(t *testing.T) {
	v, err := Decode[sample](json.RawMessage(`{"symbol":"EURUSD","drift":0.9}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Symbol != "EURUSD" || v.Drift != 0.9 {
		t.Fatalf("got %+v", v)
	}

	if _, err := Decode[sample](nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if _, err := Decode[sample](json.RawMessage(`[1,2]`)); err == nil {
		t.Fatal("expected error for wrong shape")
	}
}

func TestEnvelopeKeepsPayloadBytes(t *testing.T) {
	in := envelope{ID: "a", Type: "t", Payload: json.RawMessage(`{"symbol":"XAUUSD"}`), EnqueuedAt: time.Unix(0, 0).UTC()}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out envelope
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	v, err := Decode[sample](out.Payload)
	if err != nil || v.Symbol != "XAUUSD" {
		t.Fatalf("payload lost: %v %+v", err, v)
	}
}

func TestNewRedisQueueDefaults(t *testing.T) {
	if _, err := NewRedisQueue(nil, Config{}, nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}
