// Package checks evaluates advisory underwriting checks written in CEL
// against loan applications. Findings inform reviewers; they never block a
// transition.
package checks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/loandesk/internal/budget"
	"github.com/opensource-finance/loandesk/internal/domain"
)

// Engine holds the compiled checks.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[string]*compiledCheck
	maxWorkers int
}

type compiledCheck struct {
	cfg     *domain.CheckConfig
	program cel.Program
}

// NewEngine creates an engine with no checks loaded.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("duration", cel.IntType),
		cel.Variable("interest_rate", cel.DoubleType),
		cel.Variable("total_income", cel.DoubleType),
		cel.Variable("net_income", cel.DoubleType),
		cel.Variable("total_repayments", cel.DoubleType),
		// dsr is -1 when the ratio is not applicable
		cel.Variable("dsr", cel.DoubleType),
		cel.Variable("dsr_available", cel.BoolType),
		cel.Variable("prior_loans", cel.IntType),
		cel.Variable("monthly_turnover", cel.DoubleType),
		cel.Variable("documents", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		compiled:   make(map[string]*compiledCheck),
		maxWorkers: maxWorkers,
	}, nil
}

// Validate compiles a check without loading it.
func (e *Engine) Validate(cfg *domain.CheckConfig) error {
	if cfg == nil {
		return fmt.Errorf("check config is required")
	}
	_, err := e.compile(cfg)
	return err
}

// Reload replaces the loaded checks with the enabled ones in configs.
// On a compile error nothing is replaced.
func (e *Engine) Reload(configs []*domain.CheckConfig) error {
	next := make(map[string]*compiledCheck)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		c, err := e.compile(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = c
	}

	e.mu.Lock()
	e.compiled = next
	e.mu.Unlock()
	return nil
}

// Count returns the number of loaded checks.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Loaded returns the configurations of the loaded checks ordered by ID.
func (e *Engine) Loaded() []*domain.CheckConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*domain.CheckConfig, 0, len(e.compiled))
	for _, c := range e.compiled {
		out = append(out, c.cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Evaluate runs every loaded check against app. Results are ordered by
// check ID. A check that fails to evaluate reports its error in the result.
func (e *Engine) Evaluate(ctx context.Context, app *domain.Application) []domain.CheckResult {
	e.mu.RLock()
	list := make([]*compiledCheck, 0, len(e.compiled))
	for _, c := range e.compiled {
		list = append(list, c)
	}
	e.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].cfg.ID < list[j].cfg.ID })
	activation := Activation(app)

	results := make([]domain.CheckResult, len(list))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, c := range list {
		wg.Add(1)
		go func(idx int, c *compiledCheck) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = evaluate(ctx, c, activation)
		}(i, c)
	}
	wg.Wait()

	return results
}

func evaluate(ctx context.Context, c *compiledCheck, activation map[string]any) domain.CheckResult {
	res := domain.CheckResult{
		CheckID:  c.cfg.ID,
		Name:     c.cfg.Name,
		Severity: c.cfg.Severity,
	}
	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		return res
	}

	out, _, err := c.program.Eval(activation)
	if err != nil {
		res.Error = fmt.Sprintf("evaluation error: %v", err)
		return res
	}
	if b, ok := out.(types.Bool); ok && bool(b) {
		res.Triggered = true
		res.Message = c.cfg.Message
	}
	return res
}

// Activation builds the CEL variables for an application.
func Activation(app *domain.Application) map[string]any {
	sum := budget.Summarize(app.PersonalBudget)
	turnover := budget.SummarizeTurnover(app.MonthlyTurnover)

	dsr := -1.0
	if sum.DebtServiceRatio != budget.NotApplicable {
		dsr = 0
		if sum.NetIncome > 0 {
			dsr = sum.TotalRepayments / sum.NetIncome * 100
		}
	}

	docs := make([]string, 0, len(app.Documents))
	for k, ref := range app.Documents {
		if ref != "" {
			docs = append(docs, k)
		}
	}
	sort.Strings(docs)

	return map[string]any{
		"amount":           app.Amount,
		"duration":         int64(app.Duration),
		"interest_rate":    app.InterestRate,
		"total_income":     sum.TotalIncome,
		"net_income":       sum.NetIncome,
		"total_repayments": sum.TotalRepayments,
		"dsr":              dsr,
		"dsr_available":    dsr >= 0,
		"prior_loans":      int64(len(app.LoanHistory)),
		"monthly_turnover": turnover.Monthly.Credit,
		"documents":        docs,
	}
}

func (e *Engine) compile(cfg *domain.CheckConfig) (*compiledCheck, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile check %s: %w", cfg.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("check %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for check %s: %w", cfg.ID, err)
	}
	return &compiledCheck{cfg: cfg, program: program}, nil
}
