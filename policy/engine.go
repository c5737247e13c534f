// Package policy evaluates turn admission rules with OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.conversation_policy.decision"),
		rego.Module("conversation_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// TurnInput is the evaluation input for one incoming turn.
type TurnInput struct {
	UserID        string `json:"user_id"`
	ContentLength int    `json:"content_length"`
	IsCompleted   bool   `json:"is_completed"`
}

// Evaluate checks the conversation policy for an incoming turn.
// Returns: decision ("allow" or "block") and an error.
func (e *Engine) Evaluate(ctx context.Context, input TurnInput) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy is expected to define a default.
		return DecisionAllow, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionAllow, nil
}

// Policy decisions.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// DefaultPolicy is the default turn admission policy: reject empty and
// oversized messages.
const DefaultPolicy = `
package conversation_policy

default decision = "allow"

decision = "block" {
	input.content_length == 0
}

decision = "block" {
	input.content_length > 32000
}
`
