package proc

import (
	"fmt"
	"testing"
)

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 5; i++ {
		r.Append(fmt.Sprintf("line-%d", i))
	}
	got := r.Tail(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(got))
	}
	if got[0] != "line-2" || got[2] != "line-4" {
		t.Fatalf("unexpected tail: %v", got)
	}
}

func TestRingSubscribeReceivesAndCancels(t *testing.T) {
	r := NewRing(10)
	ch, cancel := r.Subscribe()
	r.Append("hello")
	if got := <-ch; got != "hello" {
		t.Fatalf("got %q", got)
	}
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after cancel")
	}
	// Appending after cancel must not panic.
	r.Append("world")
}

func TestRingTailBounded(t *testing.T) {
	r := NewRing(10)
	r.Append("a")
	r.Append("b")
	if got := r.Tail(1); len(got) != 1 || got[0] != "b" {
		t.Fatalf("unexpected tail: %v", got)
	}
}
