package env

import (
	"testing"
	"time"
)

func TestStringFallsBackWhenBlank(t *testing.T) {
	t.Setenv("EVENT_API_TEST_STRING", "   ")
	if got := String("EVENT_API_TEST_STRING", "def"); got != "def" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("EVENT_API_TEST_STRING", " value ")
	if got := String("EVENT_API_TEST_STRING", "def"); got != "value" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
}

func TestIntParsesOrFallsBack(t *testing.T) {
	t.Setenv("EVENT_API_TEST_INT", "42")
	if got := Int("EVENT_API_TEST_INT", 1); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("EVENT_API_TEST_INT", "forty-two")
	if got := Int("EVENT_API_TEST_INT", 1); got != 1 {
		t.Fatalf("expected fallback 1, got %d", got)
	}
}

func TestDurationRejectsNegative(t *testing.T) {
	t.Setenv("EVENT_API_TEST_DUR", "250ms")
	if got := Duration("EVENT_API_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", got)
	}
	t.Setenv("EVENT_API_TEST_DUR", "-5s")
	if got := Duration("EVENT_API_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("expected fallback for negative duration, got %v", got)
	}
}

func TestBool(t *testing.T) {
	t.Setenv("EVENT_API_TEST_BOOL", "true")
	if !Bool("EVENT_API_TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("EVENT_API_TEST_BOOL", "nope")
	if Bool("EVENT_API_TEST_BOOL", false) {
		t.Fatal("expected fallback false")
	}
}

func TestFloat(t *testing.T) {
	t.Setenv("EVENT_API_TEST_FLOAT", "0.25")
	if got := Float("EVENT_API_TEST_FLOAT", 1); got != 0.25 {
		t.Fatalf("expected 0.25, got %v", got)
	}
	t.Setenv("EVENT_API_TEST_FLOAT", "half")
	if got := Float("EVENT_API_TEST_FLOAT", 1); got != 1 {
		t.Fatalf("expected fallback, got %v", got)
	}
}
