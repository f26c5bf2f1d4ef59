// Package tracker follows a single universe of interest through the event
// feed, reconciles it against REST polling, and produces exactly one frozen
// final snapshot per tracked run.
package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mecanolabs/jarvis-console/internal/event"
	"github.com/mecanolabs/jarvis-console/internal/multiverse"
)

// SnapshotSource is the REST fallback used to cross-check terminal state
// the push channel may have missed across a reconnect gap.
type SnapshotSource interface {
	GetUniverse(ctx context.Context, universeID string) (*event.Universe, error)
}

// AgentInfo is the derived rollup for the tracked run's agent.
type AgentInfo struct {
	AgentID      string   `json:"agent_id,omitempty"`
	Name         string   `json:"name,omitempty"`
	Role         string   `json:"role,omitempty"`
	Model        string   `json:"model,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	CurrentTurn  int      `json:"current_turn"`
	MaxTurns     int      `json:"max_turns"`
	LLMCallCount int      `json:"llm_call_count"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
}

// LLMCall is a per-call debug record.
type LLMCall struct {
	Iteration  int         `json:"iteration"`
	Text       string      `json:"text"`
	StopReason string      `json:"stop_reason,omitempty"`
	Usage      event.Usage `json:"usage"`
	Timestamp  time.Time   `json:"timestamp"`
}

// WorkerMeta is the routing metadata returned by the launch endpoint. It is
// opaque here and only carried into the final snapshot for display.
type WorkerMeta struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
}

// FinalSnapshot is the frozen, internally consistent result of a run. It is
// produced at most once per tracked universe.
type FinalSnapshot struct {
	UniverseID   string            `json:"universe_id"`
	Events       []*event.Envelope `json:"events"`
	LastResponse string            `json:"last_response,omitempty"`
	AgentInfo    AgentInfo         `json:"agent_info"`
	LLMCalls     []LLMCall         `json:"llm_calls,omitempty"`
	Error        string            `json:"error,omitempty"`
	Worker       WorkerMeta        `json:"worker"`
	FinishedAt   time.Time         `json:"finished_at"`
}

// Options carries the reconciliation timings. All of them are tuning knobs
// rather than proven correctness bounds, hence configurable.
type Options struct {
	PollInterval     time.Duration
	PollInitialDelay time.Duration
	PollRetryDelay   time.Duration
	FinalizeGrace    time.Duration
	LogCapacity      int
}

// DefaultOptions returns the stock timings.
func DefaultOptions() Options {
	return Options{
		PollInterval:     2 * time.Second,
		PollInitialDelay: 500 * time.Millisecond,
		PollRetryDelay:   500 * time.Millisecond,
		FinalizeGrace:    10 * time.Second,
		LogCapacity:      multiverse.DefaultLogCapacity,
	}
}

// Tracker accumulates the filtered feed for one universe. The feed reader
// and the poll loop race to report the terminal state; a single mutex plus
// the one-shot done gate arbitrate that race, so the snapshot always
// includes every event folded up to and including the triggering one.
type Tracker struct {
	source SnapshotSource
	opts   Options

	mu           sync.Mutex
	universeID   string
	generation   uint64
	events       *multiverse.EventLog
	lastResponse string
	agentInfo    AgentInfo
	llmCalls     []LLMCall
	runErr       string
	worker       WorkerMeta
	connected    bool
	done         bool
	doneSnapshot *FinalSnapshot
	doneCh       chan struct{}
	pollCancel   context.CancelFunc
	changed      chan struct{}
}

// New creates an idle tracker. Nothing is accumulated until Track is called.
func New(source SnapshotSource, opts Options) *Tracker {
	if opts.LogCapacity < 1 {
		opts.LogCapacity = multiverse.DefaultLogCapacity
	}
	return &Tracker{
		source:  source,
		opts:    opts,
		events:  multiverse.NewEventLog(opts.LogCapacity),
		doneCh:  make(chan struct{}),
		changed: make(chan struct{}, 1),
	}
}

// Track switches the tracker to a new universe of interest. All accumulated
// state is reset atomically before any envelope for the new id is processed,
// the previous poll loop is cancelled, and a fresh one starts. Passing an
// empty id just clears the tracker.
func (t *Tracker) Track(universeID string, worker WorkerMeta) {
	t.mu.Lock()
	if t.pollCancel != nil {
		t.pollCancel()
		t.pollCancel = nil
	}
	t.universeID = universeID
	t.generation++
	gen := t.generation
	t.events.Reset()
	t.lastResponse = ""
	t.agentInfo = AgentInfo{}
	t.llmCalls = nil
	t.runErr = ""
	t.worker = worker
	t.done = false
	t.doneSnapshot = nil
	t.doneCh = make(chan struct{})

	if universeID != "" && t.source != nil {
		ctx, cancel := context.WithCancel(context.Background())
		t.pollCancel = cancel
		go t.poll(ctx, gen, universeID)
	}
	t.mu.Unlock()
	t.notify()
}

// Stop clears the tracked universe and cancels polling.
func (t *Tracker) Stop() {
	t.Track("", WorkerMeta{})
}

// HandleEnvelope folds one envelope into the tracked run. Intended as the
// feed channel's handler; envelopes for other universes, snapshots, and
// anything arriving after finalization are ignored.
func (t *Tracker) HandleEnvelope(env *event.Envelope) {
	t.mu.Lock()
	if t.universeID == "" || env.UniverseID != t.universeID || env.Type == event.TypeSnapshot || t.done {
		t.mu.Unlock()
		return
	}

	t.events.Append(env)

	switch env.Type {
	case event.TypeAgentStarted:
		t.agentInfo.AgentID = env.AgentID
		t.agentInfo.Name = env.AgentName
		var data event.AgentStartedData
		if err := env.DecodeData(&data); err != nil {
			// Keep whatever the poller already merged.
			log.Printf("tracker: malformed agent_started data: %v", err)
			break
		}
		t.agentInfo.Role = data.Role
		t.agentInfo.Model = data.Model
		for _, tool := range data.Tools {
			t.addTool(tool.Name)
		}

	case event.TypeTurnStart:
		var data event.TurnStartData
		if env.DecodeData(&data) == nil {
			t.agentInfo.CurrentTurn = data.Turn
			if data.MaxTurns > 0 {
				t.agentInfo.MaxTurns = data.MaxTurns
			}
		}

	case event.TypeLLMResponse:
		var data event.LLMResponseData
		if err := env.DecodeData(&data); err != nil {
			log.Printf("tracker: malformed llm_response data: %v", err)
			break
		}
		if data.Text != "" {
			t.lastResponse = data.Text
		}
		t.agentInfo.LLMCallCount++
		t.agentInfo.InputTokens += data.Usage.InputTokens
		t.agentInfo.OutputTokens += data.Usage.OutputTokens
		t.llmCalls = append(t.llmCalls, LLMCall{
			Iteration:  data.Iteration,
			Text:       data.Text,
			StopReason: data.StopReason,
			Usage:      data.Usage,
			Timestamp:  env.Timestamp,
		})

	case event.TypeToolCall:
		var data event.ToolCallData
		if env.DecodeData(&data) == nil {
			t.addTool(data.Tool)
		}

	case event.TypeAgentDone:
		t.finalizeLocked("")
		t.mu.Unlock()
		t.notify()
		return

	case event.TypeAgentError:
		var data event.AgentErrorData
		errText := "agent failed"
		if env.DecodeData(&data) == nil && data.Error != "" {
			errText = data.Error
		}
		t.finalizeLocked(errText)
		t.mu.Unlock()
		t.notify()
		return
	}
	t.mu.Unlock()
	t.notify()
}

// SetConnected mirrors the feed channel's connection status. Transport loss
// is never a terminal condition for the tracked run.
func (t *Tracker) SetConnected(connected bool) {
	t.mu.Lock()
	t.connected = connected
	t.mu.Unlock()
	t.notify()
}

// finalizeLocked runs the finalization protocol. Caller holds t.mu. The
// done gate makes it one-shot: a second call is a no-op reported as false,
// which tests treat as a contract violation when it would have fired.
func (t *Tracker) finalizeLocked(errText string) bool {
	if t.done {
		return false
	}
	if errText != "" {
		t.runErr = errText
	}

	snap := &FinalSnapshot{
		UniverseID:   t.universeID,
		Events:       t.events.Items(),
		LastResponse: t.lastResponse,
		AgentInfo:    t.copyAgentInfoLocked(),
		LLMCalls:     append([]LLMCall(nil), t.llmCalls...),
		Error:        t.runErr,
		Worker:       t.worker,
		FinishedAt:   time.Now(),
	}

	t.doneSnapshot = snap
	t.done = true
	close(t.doneCh)
	if t.pollCancel != nil {
		t.pollCancel()
		t.pollCancel = nil
	}
	return true
}

func (t *Tracker) addTool(name string) {
	if name == "" {
		return
	}
	for _, existing := range t.agentInfo.Tools {
		if existing == name {
			return
		}
	}
	t.agentInfo.Tools = append(t.agentInfo.Tools, name)
}

func (t *Tracker) copyAgentInfoLocked() AgentInfo {
	info := t.agentInfo
	info.Tools = append([]string(nil), t.agentInfo.Tools...)
	return info
}

func (t *Tracker) notify() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

// Changed returns a coalesced notification channel firing after mutations.
func (t *Tracker) Changed() <-chan struct{} {
	return t.changed
}

// Done returns a channel closed when the tracked run finalizes. The channel
// is replaced when Track switches universes.
func (t *Tracker) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doneCh
}

// UniverseID returns the currently tracked universe id.
func (t *Tracker) UniverseID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.universeID
}

// IsConnected reports the mirrored feed connection status.
func (t *Tracker) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// IsDone reports whether the run has finalized.
func (t *Tracker) IsDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Err returns the run-level error, if any.
func (t *Tracker) Err() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runErr
}

// LastResponse returns the most recent LLM response text.
func (t *Tracker) LastResponse() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastResponse
}

// AgentInfo returns a copy of the current rollup.
func (t *Tracker) AgentInfo() AgentInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyAgentInfoLocked()
}

// Events returns the tracked run's retained envelopes, oldest first.
func (t *Tracker) Events() []*event.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events.Items()
}

// LLMCalls returns a copy of the per-call debug records.
func (t *Tracker) LLMCalls() []LLMCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]LLMCall(nil), t.llmCalls...)
}

// DoneSnapshot returns the frozen final result, or nil while running.
func (t *Tracker) DoneSnapshot() *FinalSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doneSnapshot
}
