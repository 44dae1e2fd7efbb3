// Package detector is a stand-in for the rule processors of a detection engine.
// It keeps per-party history, derives the features each catalog rule reads
// and evaluates the rule predicates, producing the same chatter a real
// processor writes for every transaction.
package detector

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/opensource-finance/osprey-verify/internal/rules"
	"github.com/shopspring/decimal"
)

// Observation is one transaction as seen by the rule processors.
type Observation struct {
	MessageID  string
	EndToEndID string
	Debtor     string
	Creditor   string
	Amount     decimal.Decimal
	At         time.Time
}

// Finding is one rule processor's verdict and chatter for an observation.
type Finding struct {
	RuleID    string
	Triggered bool
	Message   string
	Err       error
}

// Result collects the findings for one observation in catalog order.
type Result struct {
	Observation Observation
	Features    rules.Features
	Findings    []Finding
}

// Triggered returns the ids of the rules that fired.
func (r Result) Triggered() []string {
	var ids []string
	for _, f := range r.Findings {
		if f.Triggered {
			ids = append(ids, f.RuleID)
		}
	}
	return ids
}

type entry struct {
	at           time.Time
	amount       float64
	counterparty string
}

// Detector evaluates catalog predicates over accumulated history.
type Detector struct {
	mu        sync.Mutex
	catalog   *rules.Catalog
	engine    *rules.Engine
	debtors   map[string][]entry
	creditors map[string][]entry
	retention time.Duration
}

// New creates a detector for the catalog.
func New(catalog *rules.Catalog) (*Detector, error) {
	engine, err := rules.NewCatalogEngine(catalog)
	if err != nil {
		return nil, err
	}

	var retention time.Duration
	for _, def := range catalog.All() {
		if r := rangeOf(def); r > retention {
			retention = r
		}
	}

	return &Detector{
		catalog:   catalog,
		engine:    engine,
		debtors:   make(map[string][]entry),
		creditors: make(map[string][]entry),
		retention: retention,
	}, nil
}

// Observe records the transaction and evaluates every rule against it.
func (d *Detector) Observe(ctx context.Context, obs Observation) Result {
	amount, _ := obs.Amount.Float64()

	d.mu.Lock()
	d.debtors[obs.Debtor] = d.prune(append(d.debtors[obs.Debtor], entry{obs.At, amount, obs.Creditor}), obs.At)
	d.creditors[obs.Creditor] = d.prune(append(d.creditors[obs.Creditor], entry{obs.At, amount, obs.Debtor}), obs.At)
	f := d.features(obs.Debtor, obs.Creditor, amount, obs.At)
	d.mu.Unlock()

	outcomes := d.engine.EvaluateAll(ctx, f)
	res := Result{Observation: obs, Features: f, Findings: make([]Finding, 0, len(outcomes))}
	for _, o := range outcomes {
		res.Findings = append(res.Findings, Finding{
			RuleID:    o.RuleID,
			Triggered: o.Triggered,
			Message:   d.message(o.RuleID, o.Triggered, f, o.Err),
			Err:       o.Err,
		})
	}
	return res
}

// RulesLoaded is the number of compiled rule predicates.
func (d *Detector) RulesLoaded() int {
	return d.engine.RulesCount()
}

// Reset forgets all history.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.debtors = make(map[string][]entry)
	d.creditors = make(map[string][]entry)
	d.mu.Unlock()
}

// features derives every predicate input, each with its own rule's parameters.
func (d *Detector) features(debtor, creditor string, amount float64, now time.Time) rules.Features {
	f := rules.Features{Amount: amount}
	hist := d.debtors[debtor]

	if def, ok := d.catalog.Get(domain.RuleVelocityDebtor); ok {
		f.DebtorCount = len(within(hist, now, rangeOf(def)))
	}

	if def, ok := d.catalog.Get(domain.RuleVelocityCreditor); ok {
		recv := within(d.creditors[creditor], now, rangeOf(def))
		f.CreditorCount = len(recv)
		seen := make(map[string]struct{}, len(recv))
		for _, e := range recv {
			seen[e.counterparty] = struct{}{}
		}
		f.CreditorDistinctDebtors = len(seen)
	}

	if def, ok := d.catalog.Get(domain.RuleStructuring); ok {
		limit := int(def.Param(domain.ParamMaxQueryLimit, 5))
		tol := def.Param(domain.ParamTolerance, 0.2)
		recent := hist
		if len(recent) > limit {
			recent = recent[len(recent)-limit:]
		}
		for _, e := range recent {
			if math.Abs(e.amount-amount) <= tol*amount {
				f.SimilarCount++
			}
		}
	}

	if def, ok := d.catalog.Get(domain.RuleHighValue); ok {
		past := within(hist, now, rangeOf(def))
		// The current transaction is the last entry; history excludes it.
		if len(past) > 0 {
			past = past[:len(past)-1]
		}
		var sum float64
		for _, e := range past {
			sum += e.amount
		}
		f.HistoryCount = len(past)
		if len(past) > 0 {
			f.HistoryAvg = sum / float64(len(past))
		}
	}

	return f
}

func (d *Detector) prune(entries []entry, now time.Time) []entry {
	if d.retention <= 0 {
		return entries
	}
	i := 0
	for i < len(entries) && now.Sub(entries[i].at) > d.retention {
		i++
	}
	return entries[i:]
}

// within returns the suffix of entries no older than span relative to now.
func within(entries []entry, now time.Time, span time.Duration) []entry {
	if span <= 0 {
		return entries
	}
	i := len(entries)
	for i > 0 && now.Sub(entries[i-1].at) <= span {
		i--
	}
	return entries[i:]
}

func rangeOf(def *domain.RuleDefinition) time.Duration {
	return time.Duration(def.Param(domain.ParamMaxQueryRange, 0)) * time.Millisecond
}

// message renders processor chatter. Non-triggered outcomes use the
// phrases downstream log readers treat as noise.
func (d *Detector) message(ruleID string, triggered bool, f rules.Features, err error) string {
	if err != nil {
		return "Cannot read properties of rule result: " + err.Error()
	}
	switch ruleID {
	case domain.RuleVelocityDebtor:
		if triggered {
			return "The debtor has performed three or more transactions to date"
		}
		return "The debtor has performed " + countPhrase(f.DebtorCount) + " to date"
	case domain.RuleVelocityCreditor:
		if triggered {
			return "The creditor has received three or more transactions to date"
		}
		return "The creditor has received " + countPhrase(f.CreditorDistinctDebtors) + " to date"
	case domain.RuleStructuring:
		if triggered {
			return fmt.Sprintf("Two or more similar amounts detected: %d recent transactions within tolerance", f.SimilarCount)
		}
		return "No similar amounts detected"
	case domain.RuleHighValue:
		switch {
		case triggered:
			return "Exceptionally large outgoing transfer detected"
		case float64(f.HistoryCount) < d.minHistory() || f.HistoryAvg == 0:
			return "Insufficient transaction history"
		default:
			return "Outgoing transfer within historical limits"
		}
	}
	if triggered {
		return fmt.Sprintf("Rule %s triggered", ruleID)
	}
	return fmt.Sprintf("Rule %s passed", ruleID)
}

func (d *Detector) minHistory() float64 {
	def, _ := d.catalog.Get(domain.RuleHighValue)
	return def.Param(domain.ParamMinHistory, 1)
}

func countPhrase(n int) string {
	switch n {
	case 0, 1:
		return "one transaction"
	case 2:
		return "two transactions"
	default:
		return fmt.Sprintf("%d transactions", n)
	}
}
