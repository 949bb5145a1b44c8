package util

import (
	"testing"
	"time"
)

func TestParseIntDefault(t *testing.T) {
	if got := ParseIntDefault(" 42 ", 7); got != 42 {
		t.Fatalf("got %d", got)
	}
	if got := ParseIntDefault("x", 7); got != 7 {
		t.Fatalf("got %d", got)
	}
	if got := ParseIntDefault("", 7); got != 7 {
		t.Fatalf("got %d", got)
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList("a:9092, b:9092,,")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("unexpected %v", got)
	}
	if SplitList("") != nil {
		t.Fatal("empty input should give nil")
	}
}

func TestParseDurationDefault(t *testing.T) {
	def := time.Minute
	if got := ParseDurationDefault("90s", def); got != 90*time.Second {
		t.Fatalf("got %v", got)
	}
	if got := ParseDurationDefault("3600", def); got != time.Hour {
		t.Fatalf("got %v", got)
	}
	if got := ParseDurationDefault("-5s", def); got != def {
		t.Fatalf("got %v", got)
	}
	if got := ParseDurationDefault("soon", def); got != def {
		t.Fatalf("got %v", got)
	}
}
