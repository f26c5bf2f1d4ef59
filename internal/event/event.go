// Package event defines the envelope and entity models for the universe feed.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of an envelope.
type Type string

const (
	TypeSnapshot        Type = "snapshot"
	TypeUniverseCreated Type = "universe_created"
	TypeUniverseStopped Type = "universe_stopped"
	TypeAgentStarted    Type = "agent_started"
	TypeAgentDone       Type = "agent_done"
	TypeAgentError      Type = "agent_error"
	TypeTurnStart       Type = "turn_start"
	TypeTurnEnd         Type = "turn_end"
	TypeLLMResponse     Type = "llm_response"
	TypeToolCall        Type = "tool_call"
	TypeToolResult      Type = "tool_result"
	TypeIterationDetail Type = "iteration_detail"
)

// Known reports whether t is part of the closed event vocabulary.
// Unknown types are tolerated by consumers (recorded, never folded).
func Known(t Type) bool {
	switch t {
	case TypeSnapshot, TypeUniverseCreated, TypeUniverseStopped,
		TypeAgentStarted, TypeAgentDone, TypeAgentError,
		TypeTurnStart, TypeTurnEnd, TypeLLMResponse,
		TypeToolCall, TypeToolResult, TypeIterationDetail:
		return true
	}
	return false
}

// UniverseStatus represents the status of a universe.
type UniverseStatus string

const (
	UniverseStatusInitializing UniverseStatus = "initializing"
	UniverseStatusActive       UniverseStatus = "active"
	UniverseStatusSuspended    UniverseStatus = "suspended"
	UniverseStatusTerminated   UniverseStatus = "terminated"
	UniverseStatusError        UniverseStatus = "error"
)

// AgentStatus represents the status of an agent.
type AgentStatus string

const (
	AgentStatusIdle      AgentStatus = "idle"
	AgentStatusRunning   AgentStatus = "running"
	AgentStatusPaused    AgentStatus = "paused"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusError     AgentStatus = "error"
)

// Envelope is a single notification from the feed. Envelopes arrive in a
// total order per physical connection; no ordering holds across reconnects.
type Envelope struct {
	Type       Type            `json:"type"`
	UniverseID string          `json:"universe_id,omitempty"`
	AgentID    string          `json:"agent_id,omitempty"`
	AgentName  string          `json:"agent_name,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Parse decodes a raw feed message into an envelope.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}
	return &env, nil
}

// DecodeData unmarshals the kind-specific payload into v.
func (e *Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Universe is the reconstructed view of a remotely-running task execution.
type Universe struct {
	UniverseID   string         `json:"universe_id"`
	Name         string         `json:"name"`
	DimensionID  string         `json:"dimension_id,omitempty"`
	Status       UniverseStatus `json:"status"`
	WorkerID     string         `json:"worker_id,omitempty"`
	StateVersion int            `json:"state_version"`
	CreatedAt    time.Time      `json:"created_at"`
	Agents       []*Agent       `json:"agents"`
}

// Agent is the reconstructed view of a sub-worker inside a universe.
type Agent struct {
	AgentID     string      `json:"agent_id"`
	Name        string      `json:"name"`
	Role        string      `json:"role,omitempty"`
	Model       string      `json:"model,omitempty"`
	Status      AgentStatus `json:"status"`
	CurrentTurn int         `json:"current_turn"`
	Error       string      `json:"error,omitempty"`
}

// ToolRef names a tool made available to an agent. Definitions carry more
// fields on the wire; only the name matters to consumers here.
type ToolRef struct {
	Name string `json:"name"`
}

// Usage carries token accounting from an LLM call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// SnapshotData is the payload of a snapshot envelope: the authoritative
// list of currently-known universes at connect time.
type SnapshotData struct {
	Universes []*Universe `json:"universes"`
}

// UniverseCreatedData is the payload of universe_created.
type UniverseCreatedData struct {
	Name        string `json:"name"`
	DimensionID string `json:"dimension_id,omitempty"`
	WorkerID    string `json:"worker_id,omitempty"`
}

// AgentStartedData is the payload of agent_started.
type AgentStartedData struct {
	Role  string    `json:"role"`
	Model string    `json:"model"`
	Tools []ToolRef `json:"tools,omitempty"`
}

// AgentDoneData is the payload of agent_done.
type AgentDoneData struct {
	FinalTurn int `json:"final_turn"`
}

// AgentErrorData is the payload of agent_error.
type AgentErrorData struct {
	Error string `json:"error"`
}

// TurnStartData is the payload of turn_start.
type TurnStartData struct {
	Turn     int `json:"turn"`
	MaxTurns int `json:"max_turns"`
}

// TurnEndData is the payload of turn_end.
type TurnEndData struct {
	Turn         int `json:"turn"`
	StateVersion int `json:"state_version"`
}

// LLMResponseData is the payload of llm_response.
type LLMResponseData struct {
	Text       string `json:"text"`
	Usage      Usage  `json:"usage"`
	StopReason string `json:"stop_reason,omitempty"`
	Iteration  int    `json:"iteration"`
}

// ToolCallData is the payload of tool_call.
type ToolCallData struct {
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input,omitempty"`
	Iteration int             `json:"iteration"`
}

// ToolResultData is the payload of tool_result.
type ToolResultData struct {
	Tool      string `json:"tool"`
	Result    string `json:"result"`
	Iteration int    `json:"iteration"`
}
