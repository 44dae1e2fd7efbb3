// Package rules holds the rule catalog, the CEL trigger-predicate engine
// and the alert explanation templates.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/osprey-verify/internal/domain"
)

// Engine evaluates each catalog rule's trigger predicate over detector features.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	order         []string
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.RuleDefinition
	Program cel.Program
}

// Features are the per-transaction observations a predicate can read.
type Features struct {
	Amount                  float64
	DebtorCount             int
	CreditorCount           int
	CreditorDistinctDebtors int
	SimilarCount            int
	HistoryCount            int
	HistoryAvg              float64
}

// Outcome is the result of one predicate.
type Outcome struct {
	RuleID    string
	Triggered bool
	Err       error
	ProcessMs int64
}

// NewEngine creates an engine with the feature variables declared.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("debtor_count", cel.IntType),
		cel.Variable("creditor_count", cel.IntType),
		cel.Variable("creditor_distinct_debtors", cel.IntType),
		cel.Variable("similar_count", cel.IntType),
		cel.Variable("history_count", cel.IntType),
		cel.Variable("history_avg", cel.DoubleType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// NewCatalogEngine compiles every rule of the catalog.
func NewCatalogEngine(catalog *Catalog) (*Engine, error) {
	e, err := NewEngine(len(catalog.All()))
	if err != nil {
		return nil, err
	}
	for _, def := range catalog.All() {
		if err := e.LoadRule(def); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// LoadRule compiles and loads a rule predicate.
func (e *Engine) LoadRule(def *domain.RuleDefinition) error {
	if def == nil {
		return fmt.Errorf("rule definition is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(def)
	if err != nil {
		return err
	}
	if _, exists := e.compiledRules[def.ID]; !exists {
		e.order = append(e.order, def.ID)
	}
	e.compiledRules[def.ID] = compiled
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// Evaluate runs one rule's predicate.
func (e *Engine) Evaluate(ctx context.Context, ruleID string, f Features) Outcome {
	e.mu.RLock()
	rule, ok := e.compiledRules[ruleID]
	e.mu.RUnlock()
	if !ok {
		return Outcome{RuleID: ruleID, Err: fmt.Errorf("%w: %s", domain.ErrUnknownRule, ruleID)}
	}
	return e.evaluateRule(ctx, rule, f)
}

// EvaluateAll evaluates every loaded rule in parallel. Results follow load order.
func (e *Engine) EvaluateAll(ctx context.Context, f Features) []Outcome {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.order))
	for _, id := range e.order {
		rules = append(rules, e.compiledRules[id])
	}
	e.mu.RUnlock()

	results := make([]Outcome, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.evaluateRule(ctx, r, f)
		}(i, rule)
	}

	wg.Wait()
	return results
}

func (e *Engine) evaluateRule(ctx context.Context, rule *CompiledRule, f Features) Outcome {
	start := time.Now()
	out := Outcome{RuleID: rule.Rule.ID}

	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}

	val, _, err := rule.Program.Eval(activation(rule.Rule, f))
	out.ProcessMs = time.Since(start).Milliseconds()
	if err != nil {
		out.Err = fmt.Errorf("rule %s evaluation error: %w", rule.Rule.ID, err)
		return out
	}

	b, ok := val.(types.Bool)
	if !ok {
		out.Err = fmt.Errorf("rule %s returned %s, want bool", rule.Rule.ID, val.Type().TypeName())
		return out
	}
	out.Triggered = bool(b)
	return out
}

func activation(def *domain.RuleDefinition, f Features) map[string]any {
	params := make(map[string]float64, len(def.Config))
	for k, v := range def.Config {
		params[k] = v
	}
	return map[string]any{
		"amount":                    f.Amount,
		"debtor_count":              int64(f.DebtorCount),
		"creditor_count":            int64(f.CreditorCount),
		"creditor_distinct_debtors": int64(f.CreditorDistinctDebtors),
		"similar_count":             int64(f.SimilarCount),
		"history_count":             int64(f.HistoryCount),
		"history_avg":               f.HistoryAvg,
		"params":                    params,
	}
}

func (e *Engine) compileRule(def *domain.RuleDefinition) (*CompiledRule, error) {
	if def.Expression == "" {
		return nil, fmt.Errorf("rule %s has no expression", def.ID)
	}

	ast, issues := e.env.Compile(def.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", def.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", def.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", def.ID, err)
	}

	return &CompiledRule{Rule: def, Program: program}, nil
}
