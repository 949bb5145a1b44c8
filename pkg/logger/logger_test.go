package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFieldsAreTyped(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf).With(String("component", "fusion"))

	l.Info("decided", Int("n", 3), Float64("confidence", 0.65), Error(errors.New("boom")))

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not json: %v: %s", err, buf.String())
	}
	if line["component"] != "fusion" || line["n"] != float64(3) || line["error"] != "boom" {
		t.Fatalf("unexpected line %v", line)
	}
}

type captureSink struct {
	mu      sync.Mutex
	batches [][]Aggregate
}

func (s *captureSink) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, payload.([]Aggregate))
	return nil
}

func TestAggregatorFoldsRepeats(t *testing.T) {
	sink := &captureSink{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: sink})

	for i := 0; i < 3; i++ {
		l.Warn("journal slow", Int("attempt", i))
	}
	l.Error("journal down")
	l.Info("not shipped")
	l.RemoveCollector()

	if len(sink.batches) != 1 {
		t.Fatalf("want one batch, got %d", len(sink.batches))
	}
	b := sink.batches[0]
	if len(b) != 2 {
		t.Fatalf("want 2 aggregates, got %d", len(b))
	}
	if b[0].Message != "journal slow" || b[0].Count != 3 || b[0].Fields["attempt"] != 0 {
		t.Fatalf("unexpected first aggregate %+v", b[0])
	}
	if b[1].Level != "error" || !strings.Contains(b[1].Caller, "logger_test.go") {
		t.Fatalf("unexpected second aggregate %+v", b[1])
	}
}

func TestAggregatorFlushesAtThreshold(t *testing.T) {
	sink := &captureSink{}
	a := NewAggregator(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: sink})
	a.Add("warn", "a", "x.go:1", nil)
	a.Add("warn", "b", "x.go:2", nil)
	a.Close()

	if len(sink.batches) != 1 || len(sink.batches[0]) != 2 {
		t.Fatalf("unexpected batches %+v", sink.batches)
	}
}
