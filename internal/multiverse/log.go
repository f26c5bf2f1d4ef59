package multiverse

import "github.com/mecanolabs/jarvis-console/internal/event"

// EventLog is a fixed-capacity sliding window over the most recent
// envelopes, oldest evicted first. It exists for display history only;
// entity state never depends on its retention window.
type EventLog struct {
	buf   []*event.Envelope
	start int
	size  int
}

// NewEventLog creates a log holding at most capacity envelopes.
func NewEventLog(capacity int) *EventLog {
	if capacity < 1 {
		capacity = 1
	}
	return &EventLog{buf: make([]*event.Envelope, capacity)}
}

// Append records an envelope, evicting the oldest entry when full.
func (l *EventLog) Append(env *event.Envelope) {
	if l.size < len(l.buf) {
		l.buf[(l.start+l.size)%len(l.buf)] = env
		l.size++
		return
	}
	l.buf[l.start] = env
	l.start = (l.start + 1) % len(l.buf)
}

// Len returns the number of retained envelopes.
func (l *EventLog) Len() int {
	return l.size
}

// Items returns the retained envelopes oldest-first.
func (l *EventLog) Items() []*event.Envelope {
	out := make([]*event.Envelope, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

// Reset discards all retained envelopes.
func (l *EventLog) Reset() {
	for i := range l.buf {
		l.buf[i] = nil
	}
	l.start = 0
	l.size = 0
}
