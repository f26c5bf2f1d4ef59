package multiverse

import (
	"fmt"
	"testing"

	"github.com/mecanolabs/jarvis-console/internal/event"
)

func TestEventLogAppendAndOrder(t *testing.T) {
	l := NewEventLog(5)
	for i := 0; i < 3; i++ {
		l.Append(&event.Envelope{Type: event.Type(fmt.Sprintf("e%d", i))})
	}

	items := l.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, env := range items {
		if string(env.Type) != fmt.Sprintf("e%d", i) {
			t.Fatalf("unexpected order at %d: %s", i, env.Type)
		}
	}
}

func TestEventLogEvictsOldestFirst(t *testing.T) {
	l := NewEventLog(200)
	for i := 0; i < 250; i++ {
		l.Append(&event.Envelope{Type: event.Type(fmt.Sprintf("e%d", i))})
	}

	if l.Len() != 200 {
		t.Fatalf("expected capacity 200, got %d", l.Len())
	}
	items := l.Items()
	if string(items[0].Type) != "e50" {
		t.Fatalf("expected oldest retained to be e50, got %s", items[0].Type)
	}
	if string(items[199].Type) != "e249" {
		t.Fatalf("expected newest to be e249, got %s", items[199].Type)
	}
}

func TestEventLogReset(t *testing.T) {
	l := NewEventLog(4)
	for i := 0; i < 6; i++ {
		l.Append(&event.Envelope{Type: "x"})
	}
	l.Reset()
	if l.Len() != 0 || len(l.Items()) != 0 {
		t.Fatalf("expected empty log after reset")
	}

	l.Append(&event.Envelope{Type: "y"})
	if l.Len() != 1 || string(l.Items()[0].Type) != "y" {
		t.Fatalf("expected log usable after reset")
	}
}
