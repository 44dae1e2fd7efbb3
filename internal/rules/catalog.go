package rules

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/osprey-verify/internal/domain"
)

// Catalog is the fixed, read-only set of rule definitions keyed by rule id.
// It is loaded once at startup and shared without locking.
type Catalog struct {
	rules map[string]*domain.RuleDefinition
	order []string
}

// DefaultRules returns the four catalog rules with their stock parameters.
func DefaultRules() []domain.RuleDefinition {
	return []domain.RuleDefinition{
		{
			ID:               domain.RuleVelocityDebtor,
			Name:             "Velocity Check - Debtor",
			TriggerCondition: "Debtor performs 3 or more transactions within 1 day",
			Config: map[string]float64{
				domain.ParamThreshold:     3,
				domain.ParamMaxQueryRange: 86_400_000,
			},
			Recommendation: "Verify whether the debtor is a business with legitimately high transaction volume or a potential fraud case.",
			Expression:     `double(debtor_count) >= params.threshold`,
		},
		{
			ID:               domain.RuleVelocityCreditor,
			Name:             "Velocity Check - Creditor (Money Mule)",
			TriggerCondition: "Creditor receives 3 or more transactions within 1 day from different debtors",
			Config: map[string]float64{
				domain.ParamThreshold:     3,
				domain.ParamMaxQueryRange: 86_400_000,
			},
			Recommendation: "Investigate whether the creditor is a legitimate business account or a potential money laundering channel.",
			Expression:     `double(creditor_distinct_debtors) >= params.threshold`,
		},
		{
			ID:               domain.RuleStructuring,
			Name:             "Structuring / Smurfing",
			TriggerCondition: "5 or more transactions with similar amounts within a 20 percent tolerance",
			Config: map[string]float64{
				domain.ParamMaxQueryLimit: 5,
				domain.ParamTolerance:     0.2,
				domain.ParamLowerLimit:    5,
			},
			Recommendation: "Check whether the transactions should have been one large transfer split into smaller ones.",
			Expression:     `double(similar_count) >= params.lowerLimit`,
		},
		{
			ID:               domain.RuleHighValue,
			Name:             "High Value Transfer",
			TriggerCondition: "Transaction exceeds 1.5 times the debtor's historical average (last 30 days)",
			Config: map[string]float64{
				domain.ParamMaxQueryRange: 2_592_000_000,
				domain.ParamMultiplier:    1.5,
				domain.ParamMinHistory:    5,
			},
			Recommendation: "Confirm with the debtor through an official channel before processing the transaction.",
			Expression:     `double(history_count) >= params.minHistory && amount > params.multiplier * history_avg`,
		},
	}
}

// NewCatalog builds a catalog from definitions. Duplicate or empty ids are rejected.
func NewCatalog(defs []domain.RuleDefinition) (*Catalog, error) {
	c := &Catalog{rules: make(map[string]*domain.RuleDefinition, len(defs))}
	for i := range defs {
		def := defs[i]
		if def.ID == "" {
			return nil, fmt.Errorf("rule at index %d has no id", i)
		}
		if _, dup := c.rules[def.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %s", def.ID)
		}
		c.rules[def.ID] = &def
		c.order = append(c.order, def.ID)
	}
	return c, nil
}

// DefaultCatalog returns the stock catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultRules())
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns a rule by id, accepting "rule_006" as well as "006".
func (c *Catalog) Get(id string) (*domain.RuleDefinition, bool) {
	def, ok := c.rules[domain.NormalizeRuleID(id)]
	return def, ok
}

// Must returns a rule by id or an ErrUnknownRule error.
func (c *Catalog) Must(id string) (*domain.RuleDefinition, error) {
	def, ok := c.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownRule, id)
	}
	return def, nil
}

// All returns the rules in load order.
func (c *Catalog) All() []*domain.RuleDefinition {
	out := make([]*domain.RuleDefinition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.rules[id])
	}
	return out
}

// IDs returns the sorted rule ids.
func (c *Catalog) IDs() []string {
	ids := append([]string(nil), c.order...)
	sort.Strings(ids)
	return ids
}

// Detail builds the rule detail attached to an alert.
func (c *Catalog) Detail(id, why string) *domain.RuleDetail {
	def, ok := c.Get(id)
	if !ok {
		return nil
	}
	cfg := make(map[string]float64, len(def.Config))
	for k, v := range def.Config {
		cfg[k] = v
	}
	return &domain.RuleDetail{
		RuleID:           def.ID,
		RuleName:         def.Name,
		TriggerCondition: def.TriggerCondition,
		WhyTriggered:     why,
		Config:           cfg,
		Recommendation:   def.Recommendation,
	}
}
