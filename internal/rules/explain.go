package rules

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/shopspring/decimal"
)

// Field names a request context value a template depends on.
type Field int

const (
	FieldDebtor Field = iota
	FieldCreditor
	FieldAmount
	FieldTargetOrAmount
	FieldCount
)

// Template renders the "why triggered" text of one rule.
type Template struct {
	Requires []Field
	Render   func(def *domain.RuleDefinition, c *domain.RequestContext, money func(decimal.Decimal) string) string
}

// Explainer resolves rule id → template, falling back to the static trigger
// condition whenever a template's required fields are missing.
type Explainer struct {
	catalog   *Catalog
	templates map[string]Template
	currency  string
}

// NewExplainer creates an explainer with the stock templates.
func NewExplainer(catalog *Catalog, currency string) *Explainer {
	return &Explainer{
		catalog:   catalog,
		templates: defaultTemplates(),
		currency:  currency,
	}
}

// Explain returns the dynamic explanation for ruleID, or the fallback.
// Unknown rules yield an empty string.
func (x *Explainer) Explain(ruleID string, c *domain.RequestContext) string {
	def, ok := x.catalog.Get(ruleID)
	if !ok {
		return ""
	}

	t, ok := x.templates[def.ID]
	if !ok || !satisfied(t.Requires, c) {
		return Fallback(def)
	}
	return t.Render(def, c, x.money)
}

// Fallback is the generic explanation built from the static trigger condition.
func Fallback(def *domain.RuleDefinition) string {
	return "Your transactions met the trigger condition: " + def.TriggerCondition
}

// Money formats an amount with thousands separators and no fraction.
func Money(currency string, d decimal.Decimal) string {
	f, _ := d.Round(0).Float64()
	s := humanize.FormatFloat("#,###.", f)
	if currency == "" {
		return s
	}
	return currency + " " + s
}

func (x *Explainer) money(d decimal.Decimal) string {
	return Money(x.currency, d)
}

func satisfied(fields []Field, c *domain.RequestContext) bool {
	for _, f := range fields {
		var ok bool
		switch f {
		case FieldDebtor:
			_, ok = c.Debtor()
		case FieldCreditor:
			_, ok = c.Creditor()
		case FieldAmount:
			_, ok = c.Amount()
		case FieldTargetOrAmount:
			if _, ok = c.Target(); !ok {
				_, ok = c.Amount()
			}
		case FieldCount:
			_, ok = c.Count()
		}
		if !ok {
			return false
		}
	}
	return true
}

func percent(v float64) string {
	return humanize.FormatFloat("#.", v*100) + "%"
}

func number(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}

func defaultTemplates() map[string]Template {
	return map[string]Template{
		domain.RuleVelocityDebtor: {
			Requires: []Field{FieldDebtor, FieldCount},
			Render: func(def *domain.RuleDefinition, c *domain.RequestContext, _ func(decimal.Decimal) string) string {
				debtor, _ := c.Debtor()
				n, _ := c.Count()
				return fmt.Sprintf("You sent %d transactions from debtor '%s' with varying amounts. "+
					"Rule %s triggered because the threshold is %s transactions per day and all %d came from the same debtor.",
					n, debtor, def.ID, number(def.Param(domain.ParamThreshold, 3)), n)
			},
		},
		domain.RuleVelocityCreditor: {
			Requires: []Field{FieldCreditor, FieldCount},
			Render: func(def *domain.RuleDefinition, c *domain.RequestContext, _ func(decimal.Decimal) string) string {
				creditor, _ := c.Creditor()
				n, _ := c.Count()
				return fmt.Sprintf("You sent %d transactions to creditor '%s' from different debtors. "+
					"Rule %s triggered because the creditor received %s or more transactions from distinct senders within one day.",
					n, creditor, def.ID, number(def.Param(domain.ParamThreshold, 3)))
			},
		},
		domain.RuleStructuring: {
			Requires: []Field{FieldDebtor, FieldAmount, FieldCount},
			Render: func(def *domain.RuleDefinition, c *domain.RequestContext, money func(decimal.Decimal) string) string {
				debtor, _ := c.Debtor()
				amount, _ := c.Amount()
				n, _ := c.Count()
				tol := def.Param(domain.ParamTolerance, 0.2)
				t := decimal.NewFromFloat(tol)
				low := amount.Mul(decimal.NewFromInt(1).Sub(t))
				high := amount.Mul(decimal.NewFromInt(1).Add(t))
				return fmt.Sprintf("You sent %d transactions of %s each from debtor '%s'. "+
					"The tolerance is %s, so amounts between %s and %s count as similar. "+
					"Rule %s triggered because %d similar amounts were detected (threshold: %s).",
					n, money(amount), debtor, percent(tol), money(low), money(high),
					def.ID, n, number(def.Param(domain.ParamLowerLimit, 5)))
			},
		},
		domain.RuleHighValue: {
			Requires: []Field{FieldDebtor, FieldTargetOrAmount},
			Render: func(def *domain.RuleDefinition, c *domain.RequestContext, money func(decimal.Decimal) string) string {
				debtor, _ := c.Debtor()
				target, ok := c.Target()
				if !ok {
					target, _ = c.Amount()
				}
				return fmt.Sprintf("You sent a transaction of %s from debtor '%s'. "+
					"The debtor's historical average over the last 30 days is much lower. "+
					"Rule %s triggered because %s exceeds %sx the historical average.",
					money(target), debtor, def.ID, money(target), number(def.Param(domain.ParamMultiplier, 1.5)))
			},
		},
	}
}
