// Package policy evaluates the envelope retention policy.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the retention policy.
const (
	DecisionRecord = "record"
	DecisionRedact = "redact"
	DecisionDrop   = "drop"
)

// Engine is the OPA policy engine deciding what the archive retains.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.retention.decision"),
		rego.Module("retention.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate decides how to treat one envelope before archiving.
// Input keys: type, universe_id, agent_name.
// Returns: record, redact, or drop.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy is expected to define a default.
		return DecisionRecord, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}

	return DecisionRecord, nil
}

// DefaultPolicy is the default retention policy: keep everything, but strip
// iteration_detail payloads since they embed full prompts and tool output.
const DefaultPolicy = `
package retention

default decision = "record"

decision = "redact" {
	input.type == "iteration_detail"
}
`
