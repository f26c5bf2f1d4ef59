// Package multiverse reconstructs universe and agent entities from the
// full event feed.
package multiverse

import (
	"log"
	"sync"

	"github.com/mecanolabs/jarvis-console/internal/event"
)

// DefaultLogCapacity bounds the display event log.
const DefaultLogCapacity = 200

// Store folds the unfiltered envelope sequence into entity state. The fold
// is pure with respect to input order: replaying the same sequence yields
// the same state. Entities are never deleted, only transitioned.
type Store struct {
	mu        sync.RWMutex
	universes []*event.Universe
	index     map[string]*event.Universe
	events    *EventLog
	connected bool

	changed chan struct{}
}

// NewStore creates an empty store with the given event log capacity.
func NewStore(logCapacity int) *Store {
	return &Store{
		index:   make(map[string]*event.Universe),
		events:  NewEventLog(logCapacity),
		changed: make(chan struct{}, 1),
	}
}

// Changed returns a coalesced notification channel: it receives after any
// state mutation. Consumers re-read via Universes/Events/IsConnected.
func (s *Store) Changed() <-chan struct{} {
	return s.changed
}

// SetConnected records the channel's connection status.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
	s.notify()
}

// IsConnected reports the last known connection status.
func (s *Store) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Universes returns a copy of the current universe entities.
func (s *Store) Universes() []*event.Universe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*event.Universe, len(s.universes))
	for i, u := range s.universes {
		out[i] = copyUniverse(u)
	}
	return out
}

// Universe returns a copy of one universe, or nil if unknown.
func (s *Store) Universe(universeID string) *event.Universe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.index[universeID]
	if !ok {
		return nil
	}
	return copyUniverse(u)
}

// Events returns the retained display log, oldest first.
func (s *Store) Events() []*event.Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events.Items()
}

// Apply folds one envelope into the store. Intended as the feed channel's
// handler. Snapshot envelopes replace the universe list wholesale and are
// not appended to the display log; every other envelope is logged first and
// then reduced per kind. Events referencing unknown entities are logged but
// produce no entity mutation.
func (s *Store) Apply(env *event.Envelope) {
	s.mu.Lock()
	if env.Type == event.TypeSnapshot {
		s.applySnapshot(env)
	} else {
		s.events.Append(env)
		s.reduce(env)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) applySnapshot(env *event.Envelope) {
	var data event.SnapshotData
	if err := env.DecodeData(&data); err != nil {
		log.Printf("multiverse: dropping malformed snapshot: %v", err)
		return
	}

	// Authoritative replace, not merge.
	s.universes = s.universes[:0]
	s.index = make(map[string]*event.Universe)
	for _, u := range data.Universes {
		if u == nil || u.UniverseID == "" {
			continue
		}
		if u.Agents == nil {
			u.Agents = []*event.Agent{}
		}
		s.universes = append(s.universes, u)
		s.index[u.UniverseID] = u
	}
}

func (s *Store) reduce(env *event.Envelope) {
	switch env.Type {
	case event.TypeUniverseCreated:
		if env.UniverseID == "" {
			return
		}
		if _, exists := s.index[env.UniverseID]; exists {
			// Tolerates created arriving after the snapshot already
			// listed this universe.
			return
		}
		var data event.UniverseCreatedData
		if err := env.DecodeData(&data); err != nil {
			log.Printf("multiverse: malformed universe_created data: %v", err)
		}
		u := &event.Universe{
			UniverseID:  env.UniverseID,
			Name:        data.Name,
			DimensionID: data.DimensionID,
			WorkerID:    data.WorkerID,
			Status:      event.UniverseStatusActive,
			CreatedAt:   env.Timestamp,
			Agents:      []*event.Agent{},
		}
		s.universes = append(s.universes, u)
		s.index[env.UniverseID] = u

	case event.TypeUniverseStopped:
		if u, ok := s.index[env.UniverseID]; ok {
			u.Status = event.UniverseStatusTerminated
		}

	case event.TypeAgentStarted:
		u, ok := s.index[env.UniverseID]
		if !ok {
			return
		}
		agent := findOrAddAgent(u, env)
		if agent == nil {
			return
		}
		var data event.AgentStartedData
		if err := env.DecodeData(&data); err != nil {
			log.Printf("multiverse: malformed agent_started data: %v", err)
		}
		agent.Role = data.Role
		agent.Model = data.Model
		agent.Status = event.AgentStatusRunning

	case event.TypeAgentDone:
		if agent := lookupAgent(s.index, env); agent != nil {
			agent.Status = event.AgentStatusCompleted
		}

	case event.TypeAgentError:
		if agent := lookupAgent(s.index, env); agent != nil {
			agent.Status = event.AgentStatusError
			var data event.AgentErrorData
			if env.DecodeData(&data) == nil {
				agent.Error = data.Error
			}
		}

	case event.TypeTurnStart:
		if agent := lookupAgent(s.index, env); agent != nil {
			var data event.TurnStartData
			if env.DecodeData(&data) == nil {
				agent.CurrentTurn = data.Turn
			}
		}

	case event.TypeTurnEnd:
		if u, ok := s.index[env.UniverseID]; ok {
			var data event.TurnEndData
			if env.DecodeData(&data) == nil {
				u.StateVersion = data.StateVersion
			}
		}
	}
	// Unknown types fall through: logged above, no entity mutation.
}

// lookupAgent finds the referenced agent within a known universe, creating
// it on first reference so later status updates have somewhere to land.
func lookupAgent(index map[string]*event.Universe, env *event.Envelope) *event.Agent {
	u, ok := index[env.UniverseID]
	if !ok {
		return nil
	}
	return findOrAddAgent(u, env)
}

func findOrAddAgent(u *event.Universe, env *event.Envelope) *event.Agent {
	if env.AgentID == "" {
		return nil
	}
	for _, a := range u.Agents {
		if a.AgentID == env.AgentID {
			return a
		}
	}
	agent := &event.Agent{
		AgentID: env.AgentID,
		Name:    env.AgentName,
		Status:  event.AgentStatusIdle,
	}
	u.Agents = append(u.Agents, agent)
	return agent
}

func (s *Store) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func copyUniverse(u *event.Universe) *event.Universe {
	cp := *u
	cp.Agents = make([]*event.Agent, len(u.Agents))
	for i, a := range u.Agents {
		ac := *a
		cp.Agents[i] = &ac
	}
	return &cp
}
