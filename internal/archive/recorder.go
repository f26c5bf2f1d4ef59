package archive

import (
	"context"
	"log"

	"github.com/mecanolabs/jarvis-console/internal/event"
	"github.com/mecanolabs/jarvis-console/internal/policy"
)

// Recorder applies the retention policy to each envelope and appends the
// survivors to the archive. Archive failures are absorbed: persistence is
// best-effort and must never disturb the live fold.
type Recorder struct {
	archive *SQLiteArchive
	engine  *policy.Engine
}

// NewRecorder creates a recorder writing to the given archive.
func NewRecorder(a *SQLiteArchive, e *policy.Engine) *Recorder {
	return &Recorder{archive: a, engine: e}
}

// Record handles one envelope. Shaped to chain off the feed handler.
func (r *Recorder) Record(env *event.Envelope) {
	ctx := context.Background()

	decision := policy.DecisionRecord
	if r.engine != nil {
		input := map[string]interface{}{
			"type":        string(env.Type),
			"universe_id": env.UniverseID,
			"agent_name":  env.AgentName,
		}
		d, err := r.engine.Evaluate(ctx, input)
		if err != nil {
			log.Printf("archive: policy evaluation failed, recording verbatim: %v", err)
		} else {
			decision = d
		}
	}

	if decision == policy.DecisionDrop {
		return
	}

	if err := r.archive.Append(ctx, env, decision == policy.DecisionRedact); err != nil {
		log.Printf("archive: append failed: %v", err)
	}
}
