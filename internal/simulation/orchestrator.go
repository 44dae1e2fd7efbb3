// Package simulation drives verification flows against a detection engine:
// single submissions, per-rule scenarios and the five phase fraud simulation.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/opensource-finance/osprey-verify/internal/extract"
	"github.com/opensource-finance/osprey-verify/internal/logsource"
	"github.com/opensource-finance/osprey-verify/internal/metrics"
	"github.com/opensource-finance/osprey-verify/internal/rules"
	"github.com/opensource-finance/osprey-verify/internal/scenario"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("osprey-verify-simulation")

// Names used for the subject account on submitted messages.
const (
	SimulationDebtorName = "Fraud Sim User"
	ScenarioDebtorName   = "Scenario Actor"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dependencies are the collaborators an Orchestrator drives.
// Events is optional; the rest are required. Sleeper, Clock and IDs
// default to real time and random ids.
type Dependencies struct {
	Transport Transport
	Generator *scenario.Generator
	Extractor *extract.Extractor
	Logs      domain.LogSource
	Events    domain.EventSource
	History   domain.HistoryRepository
	Catalog   *rules.Catalog

	Sleeper Sleeper
	Clock   func() time.Time
	IDs     func() string
}

// Config holds what the orchestrator stamps on messages and how it paces them.
type Config struct {
	Simulation domain.SimulationConfig
	LogSource  domain.LogSourceConfig
	Currency   string
	TenantID   string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAccountLocks serializes runs that share a subject account or a log
// source. Without it the caller is responsible for that.
func WithAccountLocks() Option {
	return func(o *Orchestrator) {
		o.locks = &keyLocks{held: make(map[string]*keyLock)}
	}
}

// Orchestrator runs verification flows.
//
// Detection is read back from engine output with no transactional
// isolation: two runs against the same account, or two runs whose target
// rules share one log source, may see each other's alerts. Serialize such
// runs, or construct the orchestrator WithAccountLocks.
type Orchestrator struct {
	deps  Dependencies
	cfg   Config
	locks *keyLocks
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Dependencies, cfg Config, opts ...Option) (*Orchestrator, error) {
	var missing []string
	if deps.Transport == nil {
		missing = append(missing, "transport")
	}
	if deps.Generator == nil {
		missing = append(missing, "generator")
	}
	if deps.Extractor == nil {
		missing = append(missing, "extractor")
	}
	if deps.Logs == nil {
		missing = append(missing, "log source")
	}
	if deps.History == nil {
		missing = append(missing, "history")
	}
	if deps.Catalog == nil {
		missing = append(missing, "catalog")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("simulation: missing dependencies: %s", strings.Join(missing, ", "))
	}

	if deps.Sleeper == nil {
		deps.Sleeper = Sleep
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.IDs == nil {
		deps.IDs = scenario.NewID
	}

	o := &Orchestrator{deps: deps, cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// SimulationRequest selects the subject account, target rule and attack size.
// Zero values take the configured defaults.
type SimulationRequest struct {
	AccountID   string `json:"account_id"`
	Rule        string `json:"rule"`
	AttackCount int    `json:"attack_count"`
}

type plan struct {
	account  string
	rule     string
	typology domain.Typology
	def      *domain.RuleDefinition
	count    int
	source   string
}

func (o *Orchestrator) resolve(req SimulationRequest) (plan, error) {
	sc := o.cfg.Simulation
	p := plan{
		account: strings.TrimSpace(req.AccountID),
		rule:    strings.TrimSpace(req.Rule),
		count:   req.AttackCount,
	}
	if p.account == "" {
		p.account = sc.DefaultAccount
	}
	if p.rule == "" {
		p.rule = sc.DefaultRule
	}
	if p.count == 0 {
		p.count = sc.DefaultAttackCount
	}

	t, err := domain.ParseTypology(p.rule)
	if err != nil {
		return p, domain.NewValidationError("rule", fmt.Sprintf("unknown rule %q", p.rule), domain.ErrUnknownRule)
	}
	def, err := o.deps.Catalog.Must(t.RuleID())
	if err != nil {
		return p, domain.NewValidationError("rule", err.Error(), domain.ErrUnknownRule)
	}
	p.typology = t
	p.def = def

	minimum, err := o.deps.Generator.MinimumCount(t)
	if err != nil {
		return p, domain.NewValidationError("rule", err.Error(), domain.ErrUnknownRule)
	}
	if p.count < minimum {
		return p, domain.NewValidationError("attack_count",
			fmt.Sprintf("rule %s needs at least %d transactions, got %d", def.ID, minimum, p.count), domain.ErrBelowMinimum)
	}
	if sc.MaxAttackCount > 0 && p.count > sc.MaxAttackCount {
		return p, domain.NewValidationError("attack_count", fmt.Sprintf("must be at most %d", sc.MaxAttackCount), nil)
	}
	p.source = logsource.SourceName(o.cfg.LogSource, def.ID)
	return p, nil
}

// Run executes Baseline, Attack, Detect, Block and Summarize for one rule.
//
// The error return is reserved for invalid requests, detected before
// anything is sent. Every other outcome, including transport failures and
// faults in a phase, is reported in the returned run.
func (o *Orchestrator) Run(ctx context.Context, req SimulationRequest) (*domain.SimulationRun, error) {
	p, err := o.resolve(req)
	if err != nil {
		return nil, err
	}

	seeds := domain.SeedIdentifiers{DebtorAccount: p.account, DebtorName: SimulationDebtorName}
	if p.typology == domain.TypologyVelocityCreditor {
		seeds = domain.SeedIdentifiers{CreditorAccount: o.cfg.Simulation.MuleCreditor}
	}
	attack, err := o.deps.Generator.Generate(p.typology, p.count, decimal.Zero, seeds)
	if err != nil {
		return nil, err
	}

	if o.locks != nil {
		unlock := o.locks.lock("account:"+p.account, "source:"+p.source)
		defer unlock()
	}

	run := &domain.SimulationRun{
		ID:          uuid.NewString(),
		Status:      domain.RunPending,
		AccountID:   p.account,
		TargetRule:  p.rule,
		Steps:       []domain.Step{},
		FraudAlerts: []domain.Alert{},
		StartedAt:   o.now(),
	}
	o.saveRun(ctx, run)

	ctx, span := tracer.Start(ctx, "simulation.run",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("rule.id", p.def.ID),
			attribute.Int("attack.count", p.count),
		),
	)
	defer span.End()

	slog.Info("fraud simulation started",
		"run_id", run.ID,
		"account_id", p.account,
		"rule_id", p.def.ID,
		"attack_count", p.count,
	)

	if err := o.execute(ctx, run, p, attack); err != nil {
		run.Error = err.Error()
		run.Finish(domain.RunError, o.now())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("fraud simulation failed", "run_id", run.ID, "rule_id", p.def.ID, "error", err)
	} else {
		run.Finish(domain.RunCompleted, o.now())
	}

	final := string(run.Status)
	if run.Summary != nil {
		final = run.Summary.FinalStatus
	}
	metrics.RecordSimulation(p.def.ID, final, run.CompletedAt.Sub(run.StartedAt))
	o.saveRun(context.WithoutCancel(ctx), run)

	slog.Info("fraud simulation finished",
		"run_id", run.ID,
		"status", run.Status,
		"fraud_detected", run.FraudDetected,
		"alerts", len(run.FraudAlerts),
	)
	return run, nil
}

// execute runs the phases in order. A panic or a cancelled context ends the
// run; steps recorded so far are kept.
func (o *Orchestrator) execute(ctx context.Context, run *domain.SimulationRun, p plan, attack *domain.Scenario) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("simulation panicked: %v", r)
		}
	}()

	sc := o.cfg.Simulation

	o.phase(ctx, "baseline", func(ctx context.Context) bool {
		return o.baseline(ctx, run, p)
	})
	if err := o.deps.Sleeper(ctx, sc.PostBaselineDelay); err != nil {
		return err
	}

	attackStart := o.now()
	o.phase(ctx, "attack", func(ctx context.Context) bool {
		return o.attack(ctx, run, p, attack)
	})
	if err := o.deps.Sleeper(ctx, sc.PostAttackDelay); err != nil {
		return err
	}

	o.phase(ctx, "detect", func(ctx context.Context) bool {
		return o.detectStep(ctx, run, p, attack, attackStart)
	})
	if err := o.deps.Sleeper(ctx, sc.PostDetectDelay); err != nil {
		return err
	}

	o.phase(ctx, "block", func(ctx context.Context) bool {
		return o.block(ctx, run, p, attack)
	})

	o.phase(ctx, "summarize", func(ctx context.Context) bool {
		return o.summarize(run, p, attack)
	})
	return ctx.Err()
}

func (o *Orchestrator) phase(ctx context.Context, name string, fn func(context.Context) bool) {
	ctx, span := tracer.Start(ctx, "simulation."+name)
	defer span.End()
	ok := fn(ctx)
	span.SetAttributes(attribute.Bool("step.success", ok))
}

func (o *Orchestrator) baseline(ctx context.Context, run *domain.SimulationRun, p plan) bool {
	sc := o.cfg.Simulation
	tx := domain.TransactionSpec{
		Sequence:        1,
		MessageID:       o.deps.IDs(),
		EndToEndID:      o.deps.IDs(),
		DebtorAccount:   p.account,
		DebtorName:      SimulationDebtorName,
		CreditorAccount: sc.BaselineCreditor,
		CreditorName:    sc.BaselineCreditor,
		Amount:          decimal.NewFromFloat(sc.BaselineAmount),
	}
	res := o.submit(ctx, submission{
		runID:       run.ID,
		historyType: "FraudSim Step1 (Normal)",
		tx:          tx,
		confirm:     domain.StatusAccepted,
	}).result

	ok := res.Success && res.Confirmation != nil && res.Confirmation.Success
	run.AddStep(domain.Step{
		Name:        "Normal Transaction (ACCC)",
		Description: "Account starts with clean transaction",
		Success:     ok,
		Submissions: []domain.SubmissionResult{res},
		TxStatus:    domain.StatusAccepted,
	})
	return ok
}

// attack submits every generated transaction, whatever happens to the ones
// before it.
func (o *Orchestrator) attack(ctx context.Context, run *domain.SimulationRun, p plan, sc *domain.Scenario) bool {
	results := make([]domain.SubmissionResult, 0, len(sc.Transactions))
	ok := true
	for _, tx := range sc.Transactions {
		res := o.submit(ctx, submission{
			runID:       run.ID,
			historyType: fmt.Sprintf("FraudSim Attack (%s)", p.rule),
			tx:          tx,
			confirm:     domain.StatusAccepted,
		}).result
		ok = ok && res.Success
		results = append(results, res)
	}

	run.AddStep(domain.Step{
		Name:        fmt.Sprintf("Trigger Fraud Pattern (%s)", p.def.Name),
		Description: fmt.Sprintf("Sent %d transactions to trigger detection", len(results)),
		Success:     ok,
		Submissions: results,
	})
	return ok
}

func (o *Orchestrator) detectStep(ctx context.Context, run *domain.SimulationRun, p plan, sc *domain.Scenario, since time.Time) bool {
	reqCtx := sc.Context
	reqCtx.Scenario = "Rule " + p.def.ID
	alerts, fetchErr := o.detect(ctx, p.source, p.def.ID, &reqCtx, since)
	for _, a := range alerts {
		metrics.RecordAlert(a.RuleID)
	}

	run.FraudAlerts = alerts
	run.FraudDetected = len(alerts) > 0

	desc := "No fraud alerts (may need more tx)"
	switch {
	case fetchErr != "":
		desc = "Detection output unavailable: " + fetchErr
	case run.FraudDetected:
		desc = "Fraud detected!"
	}
	run.AddStep(domain.Step{
		Name:        "Check Fraud Detection",
		Description: desc,
		Success:     fetchErr == "",
		Alerts:      alerts,
	})
	return fetchErr == ""
}

// detect reads the target rule's output and extracts its alerts. In events
// mode the structured collector is tried first and logs are the fallback.
// The string return is empty on success and describes the failure otherwise.
func (o *Orchestrator) detect(ctx context.Context, source, ruleID string, reqCtx *domain.RequestContext, since time.Time) ([]domain.Alert, string) {
	if o.cfg.Simulation.DetectMode == "events" && o.deps.Events != nil {
		events, err := o.deps.Events.Events(ctx, source, since)
		if err == nil {
			return o.deps.Extractor.FromEvents(events, reqCtx, ruleID), ""
		}
		slog.Warn("event source failed, falling back to logs", "source", source, "error", err)
	}

	resp := logsource.Fetch(ctx, o.deps.Logs, source, o.cfg.Simulation.LogTail)
	alerts := o.deps.Extractor.ExtractFromLogs(resp, reqCtx, ruleID)
	if resp.Status != domain.LogStatusSuccess {
		msg := resp.Message
		if msg == "" {
			msg = "log source returned " + resp.Status
		}
		slog.Warn("log fetch failed", "source", source, "message", msg)
		return alerts, msg
	}
	return alerts, ""
}

// block sends one more transfer from the subject account and rejects it,
// whether or not anything was detected.
func (o *Orchestrator) block(ctx context.Context, run *domain.SimulationRun, p plan, sc *domain.Scenario) bool {
	amount, ok := sc.Context.Amount()
	if !ok {
		amount = decimal.NewFromFloat(o.cfg.Simulation.BaselineAmount)
	}
	tx := domain.TransactionSpec{
		Sequence:        1,
		MessageID:       o.deps.IDs(),
		EndToEndID:      o.deps.IDs(),
		DebtorAccount:   p.account,
		DebtorName:      SimulationDebtorName,
		CreditorAccount: o.cfg.Simulation.BlockCreditor,
		CreditorName:    o.cfg.Simulation.BlockCreditor,
		Amount:          amount,
	}
	res := o.submit(ctx, submission{
		runID:       run.ID,
		historyType: "FraudSim Step4 (RJCT)",
		tx:          tx,
		confirm:     domain.StatusRejected,
	}).result

	run.AddStep(domain.Step{
		Name:        "Block Transaction (RJCT)",
		Description: "Transaction rejected due to fraud detection",
		Success:     res.Success,
		Submissions: []domain.SubmissionResult{res},
		TxStatus:    domain.StatusRejected,
	})
	return res.Success
}

func (o *Orchestrator) summarize(run *domain.SimulationRun, p plan, sc *domain.Scenario) bool {
	accepted := 0
	if len(run.Steps) >= 2 {
		for _, s := range run.Steps[1].Submissions {
			if s.Success {
				accepted++
			}
		}
	}

	final := domain.FinalMonitoring
	if run.FraudDetected {
		final = domain.FinalBlocked
	}
	run.Summary = &domain.Summary{
		RuleTriggered:           p.def.Name,
		RuleID:                  p.def.ID,
		TriggerCondition:        p.def.TriggerCondition,
		Recommendation:          p.def.Recommendation,
		TotalAttackTransactions: len(sc.Transactions),
		AcceptedAttacks:         accepted,
		FraudDetected:           run.FraudDetected,
		AlertsCount:             len(run.FraudAlerts),
		FinalStatus:             final,
	}
	run.AddStep(domain.Step{
		Name:        "Summary",
		Description: fmt.Sprintf("Rule %s: %s", p.def.ID, p.def.Name),
		Success:     true,
	})
	return true
}

func (o *Orchestrator) saveRun(ctx context.Context, run *domain.SimulationRun) {
	if err := o.deps.History.SaveRun(ctx, run); err != nil {
		slog.Warn("failed to save simulation run", "run_id", run.ID, "error", err)
	}
}

// GetRun returns a stored simulation report.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*domain.SimulationRun, error) {
	run, err := o.deps.History.GetRun(ctx, runID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return run, err
}

// History returns the most recent submission records, newest first.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]*domain.HistoryRecord, error) {
	return o.deps.History.ListRecords(ctx, limit)
}

// keyLocks hands out one mutex per key and forgets it when unused.
type keyLocks struct {
	mu   sync.Mutex
	held map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires every key in sorted order and returns the release func.
func (l *keyLocks) lock(keys ...string) func() {
	keys = append([]string(nil), keys...)
	sort.Strings(keys)

	acquired := make([]*keyLock, 0, len(keys))
	for _, k := range keys {
		l.mu.Lock()
		kl, ok := l.held[k]
		if !ok {
			kl = &keyLock{}
			l.held[k] = kl
		}
		kl.refs++
		l.mu.Unlock()

		kl.mu.Lock()
		acquired = append(acquired, kl)
	}

	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			kl := acquired[i]
			kl.mu.Unlock()

			l.mu.Lock()
			kl.refs--
			if kl.refs == 0 {
				delete(l.held, keys[i])
			}
			l.mu.Unlock()
		}
	}
}
