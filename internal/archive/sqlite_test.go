package archive

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mecanolabs/jarvis-console/internal/event"
	"github.com/mecanolabs/jarvis-console/internal/policy"
)

func newTestArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	a, err := NewSQLiteArchive(":memory:")
	if err != nil {
		t.Fatalf("Failed to open archive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func archEnv(typ event.Type, universeID, agentName, payload string) *event.Envelope {
	env := &event.Envelope{
		Type:       typ,
		UniverseID: universeID,
		AgentName:  agentName,
		Timestamp:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	if payload != "" {
		env.Data = json.RawMessage(payload)
	}
	return env
}

func TestAppendAndListByUniverse(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	if err := a.Append(ctx, archEnv(event.TypeUniverseCreated, "u1", "", `{"name":"demo"}`), false); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := a.Append(ctx, archEnv(event.TypeLLMResponse, "u1", "builder", `{"text":"hello"}`), false); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := a.Append(ctx, archEnv(event.TypeUniverseCreated, "u2", "", `{}`), false); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	rows, err := a.ListByUniverse(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListByUniverse failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows for u1, got %d", len(rows))
	}
	if rows[0].Envelope.Type != event.TypeUniverseCreated || rows[1].Envelope.Type != event.TypeLLMResponse {
		t.Fatalf("rows must come back in arrival order: %v, %v", rows[0].Envelope.Type, rows[1].Envelope.Type)
	}
	if string(rows[1].Envelope.Data) != `{"text":"hello"}` {
		t.Fatalf("unexpected payload: %s", rows[1].Envelope.Data)
	}

	n, err := a.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 total rows, got %d", n)
	}
}

func TestAppendRedactedStripsPayload(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	env := archEnv("iteration_detail", "u1", "builder", `{"prompt":"secret"}`)
	if err := a.Append(ctx, env, true); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	rows, err := a.ListByUniverse(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListByUniverse failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !rows[0].Redacted {
		t.Fatalf("expected row marked redacted")
	}
	if len(rows[0].Envelope.Data) != 0 {
		t.Fatalf("redacted row must not retain the payload, got %s", rows[0].Envelope.Data)
	}
	if rows[0].Envelope.AgentName != "builder" {
		t.Fatalf("routing fields must survive redaction")
	}
}

func TestListLimit(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := a.Append(ctx, archEnv(event.TypeTurnEnd, "u1", "builder", `{}`), false); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	rows, err := a.ListByUniverse(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("ListByUniverse failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected limit to apply, got %d rows", len(rows))
	}
}

func TestRecorderAppliesPolicy(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	custom := `
package retention

default decision = "record"

decision = "redact" {
	input.type == "iteration_detail"
}

decision = "drop" {
	input.type == "tool_result"
}
`
	engine, err := policy.NewEngine(ctx, custom)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	rec := NewRecorder(a, engine)

	rec.Record(archEnv(event.TypeLLMResponse, "u1", "builder", `{"text":"keep me"}`))
	rec.Record(archEnv("iteration_detail", "u1", "builder", `{"prompt":"strip me"}`))
	rec.Record(archEnv(event.TypeToolResult, "u1", "builder", `{"output":"drop me"}`))

	rows, err := a.ListByUniverse(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListByUniverse failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected dropped envelope to be absent, got %d rows", len(rows))
	}
	if rows[0].Redacted || string(rows[0].Envelope.Data) != `{"text":"keep me"}` {
		t.Fatalf("recorded envelope must keep its payload: %+v", rows[0])
	}
	if !rows[1].Redacted || len(rows[1].Envelope.Data) != 0 {
		t.Fatalf("redacted envelope must lose its payload: %+v", rows[1])
	}
}

func TestRecorderWithoutEngineRecordsVerbatim(t *testing.T) {
	a := newTestArchive(t)
	rec := NewRecorder(a, nil)

	rec.Record(archEnv(event.TypeAgentDone, "u1", "builder", `{"final_turn":1}`))

	rows, err := a.ListByUniverse(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("ListByUniverse failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Redacted {
		t.Fatalf("expected one verbatim row, got %+v", rows)
	}
}
