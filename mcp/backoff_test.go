package mcp

import (
	"testing"
	"time"
)

func TestBackoff_DelaySequence(t *testing.T) {
	b := NewBackoff()

	want := []time.Duration{
		2000 * time.Millisecond,
		3000 * time.Millisecond,
		4500 * time.Millisecond,
		6750 * time.Millisecond,
		10125 * time.Millisecond,
	}
	for i, w := range want {
		got, ok := b.Next()
		if !ok {
			t.Fatalf("attempt %d reported exhausted", i+1)
		}
		if got != w {
			t.Errorf("attempt %d delay = %v, want %v", i+1, got, w)
		}
	}

	if _, ok := b.Next(); ok {
		t.Error("sixth attempt should be exhausted")
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff()
	b.Next()
	b.Next()
	if b.Attempts() != 2 {
		t.Fatalf("Attempts() = %d, want 2", b.Attempts())
	}

	b.Reset()
	if b.Attempts() != 0 {
		t.Errorf("Attempts() after Reset = %d, want 0", b.Attempts())
	}
	if d, _ := b.Next(); d != DefaultReconnectBaseDelay {
		t.Errorf("first delay after Reset = %v, want %v", d, DefaultReconnectBaseDelay)
	}
}

func TestBackoff_Custom(t *testing.T) {
	b := &Backoff{Base: 100 * time.Millisecond, Factor: 2, MaxAttempts: 2}

	d1, _ := b.Next()
	d2, _ := b.Next()
	if d1 != 100*time.Millisecond || d2 != 200*time.Millisecond {
		t.Errorf("delays = %v, %v; want 100ms, 200ms", d1, d2)
	}
	if _, ok := b.Next(); ok {
		t.Error("third attempt should be exhausted")
	}
}
