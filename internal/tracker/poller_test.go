package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mecanolabs/jarvis-console/internal/event"
)

// fakeSource serves one scripted universe over the SnapshotSource interface.
// Requests for any other id get the unknown-universe answer.
type fakeSource struct {
	mu       sync.Mutex
	id       string
	universe *event.Universe
	err      error
}

func (f *fakeSource) GetUniverse(ctx context.Context, universeID string) (*event.Universe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if universeID != f.id {
		return nil, nil
	}
	return f.universe, nil
}

func (f *fakeSource) set(id string, u *event.Universe, err error) {
	f.mu.Lock()
	f.id = id
	f.universe = u
	f.err = err
	f.mu.Unlock()
}

func fastOptions() Options {
	return Options{
		PollInterval:     5 * time.Millisecond,
		PollInitialDelay: time.Millisecond,
		PollRetryDelay:   time.Millisecond,
		FinalizeGrace:    10 * time.Second,
		LogCapacity:      16,
	}
}

func completedUniverse(errText string, status event.AgentStatus) *event.Universe {
	return &event.Universe{
		UniverseID: "u1",
		Status:     event.UniverseStatusActive,
		Agents: []*event.Agent{{
			AgentID:     "a1",
			Name:        "builder",
			Role:        "general",
			Model:       "claude-sonnet-4",
			Status:      status,
			CurrentTurn: 3,
			Error:       errText,
		}},
	}
}

func TestReconcileStaleGenerationStops(t *testing.T) {
	trk := New(nil, fastOptions())
	trk.Track("u1", WorkerMeta{})

	if got := trk.reconcile(0, completedUniverse("", event.AgentStatusRunning), time.Now()); got != pollStop {
		t.Fatalf("stale generation must stop the loop, got %v", got)
	}
	if trk.IsDone() {
		t.Fatalf("a stale loop must not mutate the tracker")
	}
}

func TestReconcileUnknownUniverseContinues(t *testing.T) {
	trk := New(nil, fastOptions())
	trk.Track("u1", WorkerMeta{})

	trk.mu.Lock()
	gen := trk.generation
	trk.mu.Unlock()

	if got := trk.reconcile(gen, nil, time.Now()); got != pollContinue {
		t.Fatalf("an unknown universe keeps polling, got %v", got)
	}
}

func TestReconcileUniverseErrorWithoutAgents(t *testing.T) {
	trk := New(nil, fastOptions())
	trk.Track("u1", WorkerMeta{})

	trk.mu.Lock()
	gen := trk.generation
	trk.mu.Unlock()

	u := &event.Universe{UniverseID: "u1", Status: event.UniverseStatusError}
	if got := trk.reconcile(gen, u, time.Now()); got != pollStop {
		t.Fatalf("a failed agentless universe must finalize, got %v", got)
	}
	if trk.Err() != "universe failed" {
		t.Fatalf("unexpected run error: %q", trk.Err())
	}
}

func TestReconcileMergesWithoutOverwriting(t *testing.T) {
	trk := New(nil, fastOptions())
	trk.Track("u1", WorkerMeta{})

	// The push channel already delivered richer identity data.
	trk.HandleEnvelope(envelope(t, event.TypeAgentStarted, "u1", "a-push", "pushed-name", event.AgentStartedData{Role: "pushed-role"}))

	trk.mu.Lock()
	gen := trk.generation
	trk.mu.Unlock()

	trk.reconcile(gen, completedUniverse("", event.AgentStatusRunning), time.Now())

	info := trk.AgentInfo()
	if info.AgentID != "a-push" || info.Name != "pushed-name" || info.Role != "pushed-role" {
		t.Fatalf("polled data must not overwrite push data: %+v", info)
	}
	if info.Model != "claude-sonnet-4" {
		t.Fatalf("polled data must fill fields the push left empty: %+v", info)
	}
	if info.CurrentTurn != 3 {
		t.Fatalf("polled turn must fill an empty turn: %+v", info)
	}
}

func TestReconcileAgentErrorFinalizesImmediately(t *testing.T) {
	trk := New(nil, fastOptions())
	trk.Track("u1", WorkerMeta{})

	trk.mu.Lock()
	gen := trk.generation
	trk.mu.Unlock()

	got := trk.reconcile(gen, completedUniverse("disk full", event.AgentStatusError), time.Now())
	if got != pollStop {
		t.Fatalf("an error status finalizes with no delay heuristic, got %v", got)
	}
	if trk.Err() != "disk full" {
		t.Fatalf("unexpected run error: %q", trk.Err())
	}
}

func TestReconcileCompletedWithoutLLMCallsRetriesSoon(t *testing.T) {
	trk := New(nil, fastOptions())
	trk.Track("u1", WorkerMeta{})

	trk.mu.Lock()
	gen := trk.generation
	trk.mu.Unlock()

	got := trk.reconcile(gen, completedUniverse("", event.AgentStatusCompleted), time.Now())
	if got != pollRetrySoon {
		t.Fatalf("completed without push evidence must re-poll, not finalize, got %v", got)
	}
	if trk.IsDone() {
		t.Fatalf("run must stay open while the push stream catches up")
	}
}

func TestReconcileCompletedWithLLMCallFinalizes(t *testing.T) {
	trk := New(nil, fastOptions())
	trk.Track("u1", WorkerMeta{})
	trk.HandleEnvelope(envelope(t, event.TypeLLMResponse, "u1", "a1", "builder", event.LLMResponseData{Text: "done"}))

	trk.mu.Lock()
	gen := trk.generation
	trk.mu.Unlock()

	got := trk.reconcile(gen, completedUniverse("", event.AgentStatusCompleted), time.Now())
	if got != pollStop {
		t.Fatalf("completed with push evidence must finalize, got %v", got)
	}
	if snap := trk.DoneSnapshot(); snap == nil || snap.Error != "" {
		t.Fatalf("expected clean final snapshot, got %+v", snap)
	}
}

func TestReconcileCompletedAfterGraceFinalizes(t *testing.T) {
	trk := New(nil, fastOptions())
	trk.Track("u1", WorkerMeta{})

	trk.mu.Lock()
	gen := trk.generation
	trk.mu.Unlock()

	start := time.Now().Add(-trk.opts.FinalizeGrace - time.Second)
	got := trk.reconcile(gen, completedUniverse("", event.AgentStatusCompleted), start)
	if got != pollStop {
		t.Fatalf("completed past the grace window must finalize, got %v", got)
	}
	if !trk.IsDone() {
		t.Fatalf("expected run finalized after grace elapsed")
	}
}

func TestPollLoopFinalizesOnError(t *testing.T) {
	src := &fakeSource{}
	src.set("u1", completedUniverse("boom", event.AgentStatusError), nil)

	trk := New(src, fastOptions())
	trk.Track("u1", WorkerMeta{})

	select {
	case <-trk.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("poll loop did not finalize on agent error")
	}
	if trk.Err() != "boom" {
		t.Fatalf("unexpected run error: %q", trk.Err())
	}
}

func TestPollLoopSurvivesTransientErrors(t *testing.T) {
	src := &fakeSource{}
	src.set("u1", nil, errors.New("connection refused"))

	trk := New(src, fastOptions())
	trk.Track("u1", WorkerMeta{})

	time.Sleep(50 * time.Millisecond)
	if trk.IsDone() {
		t.Fatalf("transient poll failures must never finalize a run")
	}

	// Once the backend recovers and reports an error status, the same loop
	// still finalizes.
	src.set("u1", completedUniverse("late failure", event.AgentStatusError), nil)
	select {
	case <-trk.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("poll loop did not recover after transient errors")
	}
}

func TestRetargetCancelsPreviousLoop(t *testing.T) {
	src := &fakeSource{}
	src.set("u1", nil, errors.New("not yet"))

	trk := New(src, fastOptions())
	trk.Track("u1", WorkerMeta{})
	trk.Track("u2", WorkerMeta{})

	// A terminal answer for u1 must not finalize the u2 run.
	src.set("u1", completedUniverse("old failure", event.AgentStatusError), nil)
	time.Sleep(50 * time.Millisecond)

	if trk.UniverseID() != "u2" {
		t.Fatalf("expected tracker on u2, got %q", trk.UniverseID())
	}
	if trk.IsDone() {
		t.Fatalf("a stale loop's terminal answer must not finalize the new run")
	}
}
