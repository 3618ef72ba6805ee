package policyopa

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"trustplane/internal/usecase"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const conditionQuery = "data.trustplane.condition.result"

// Evaluator runs rego rule-body conditions against request attributes.
// Each distinct condition compiles once and the prepared query is reused;
// a rule's condition text only changes when the rule itself is rewritten.
type Evaluator struct {
	mu       sync.Mutex
	prepared map[string]*rego.PreparedEvalQuery
}

func NewEvaluator() *Evaluator {
	return &Evaluator{prepared: make(map[string]*rego.PreparedEvalQuery)}
}

func (e *Evaluator) Evaluate(ctx context.Context, condition string, input map[string]any) (bool, error) {
	if condition == "" {
		return true, nil
	}
	query, err := e.prepare(ctx, condition)
	if err != nil {
		return false, err
	}
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	value, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, errors.New("condition did not evaluate to a boolean")
	}
	return value, nil
}

func (e *Evaluator) prepare(ctx context.Context, condition string) (*rego.PreparedEvalQuery, error) {
	e.mu.Lock()
	if query, ok := e.prepared[condition]; ok {
		e.mu.Unlock()
		return query, nil
	}
	e.mu.Unlock()

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	module := fmt.Sprintf("package trustplane.condition\n\ndefault result = false\n\nresult {\n%s\n}\n", condition)
	r := rego.New(
		rego.Query(conditionQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Module("condition.rego", module),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile condition: %w", err)
	}

	e.mu.Lock()
	e.prepared[condition] = &query
	e.mu.Unlock()
	return &query, nil
}

var _ usecase.ConditionEvaluator = (*Evaluator)(nil)
