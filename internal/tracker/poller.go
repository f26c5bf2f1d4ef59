package tracker

import (
	"context"
	"time"

	"github.com/mecanolabs/jarvis-console/internal/event"
)

type pollAction int

const (
	pollContinue pollAction = iota
	pollRetrySoon
	pollStop
)

// poll is the reconciliation loop for one activation of the tracker. It
// cross-checks terminal state over REST because the shared push channel can
// silently drop messages across a reconnect gap. The generation captured at
// start guards against a stale loop mutating a tracker that has since been
// retargeted.
func (t *Tracker) poll(ctx context.Context, gen uint64, universeID string) {
	start := time.Now()
	delay := t.opts.PollInitialDelay

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		u, err := t.source.GetUniverse(ctx, universeID)
		if err != nil {
			// Transient network failure: the poller never finalizes a
			// run on its own error, it just keeps its cadence.
			delay = t.opts.PollInterval
			continue
		}

		switch t.reconcile(gen, u, start) {
		case pollStop:
			return
		case pollRetrySoon:
			delay = t.opts.PollRetryDelay
		default:
			delay = t.opts.PollInterval
		}
	}
}

// reconcile merges one REST observation into the tracker and decides
// whether the run is over.
//
// Terminal decision policy: an error reported over REST finalizes
// immediately. A completed status is only trusted once the push channel has
// delivered at least one LLM call for this run, or the grace timeout has
// elapsed; otherwise the push stream is assumed to still be catching up and
// the loop re-polls shortly, giving the richer agent_done event a chance to
// arrive first.
func (t *Tracker) reconcile(gen uint64, u *event.Universe, start time.Time) pollAction {
	t.mu.Lock()

	if t.generation != gen || t.done {
		t.mu.Unlock()
		return pollStop
	}
	if u == nil {
		t.mu.Unlock()
		return pollContinue
	}

	if len(u.Agents) == 0 {
		// No agent to read; a universe-level error still surfaces.
		if u.Status == event.UniverseStatusError {
			t.finalizeLocked("universe failed")
			t.mu.Unlock()
			t.notify()
			return pollStop
		}
		t.mu.Unlock()
		return pollContinue
	}

	agent := u.Agents[0]

	// Merge displayable fields without overwriting anything the push
	// channel already populated more specifically.
	if t.agentInfo.AgentID == "" {
		t.agentInfo.AgentID = agent.AgentID
	}
	if t.agentInfo.Name == "" {
		t.agentInfo.Name = agent.Name
	}
	if t.agentInfo.Role == "" {
		t.agentInfo.Role = agent.Role
	}
	if t.agentInfo.Model == "" {
		t.agentInfo.Model = agent.Model
	}
	if t.agentInfo.CurrentTurn == 0 {
		t.agentInfo.CurrentTurn = agent.CurrentTurn
	}

	action := pollContinue
	switch agent.Status {
	case event.AgentStatusError:
		// Errors surface promptly; no delay heuristic.
		errText := agent.Error
		if errText == "" {
			errText = "run failed"
		}
		t.finalizeLocked(errText)
		action = pollStop

	case event.AgentStatusCompleted:
		if t.agentInfo.LLMCallCount > 0 || time.Since(start) >= t.opts.FinalizeGrace {
			t.finalizeLocked("")
			action = pollStop
		} else {
			action = pollRetrySoon
		}
	}

	t.mu.Unlock()
	t.notify()
	return action
}
