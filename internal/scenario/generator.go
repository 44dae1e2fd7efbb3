// Package scenario synthesizes transaction sequences that trip exactly one
// catalog rule each.
package scenario

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/opensource-finance/osprey-verify/internal/rules"
	"github.com/shopspring/decimal"
)

// Generator builds scenarios from the rule catalog and the amount policy.
type Generator struct {
	catalog *rules.Catalog
	cfg     domain.ScenarioConfig

	mu    sync.Mutex
	rng   *rand.Rand
	newID func() string
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand injects the random source, for reproducible scenarios.
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) { g.rng = r }
}

// WithIDFunc injects the message/end-to-end id generator.
func WithIDFunc(f func() string) Option {
	return func(g *Generator) { g.newID = f }
}

// NewID returns a 32-character hex identifier safe for ISO 20022 MsgId.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewGenerator creates a generator. Zero policy fields take the defaults.
func NewGenerator(catalog *rules.Catalog, cfg domain.ScenarioConfig, opts ...Option) (*Generator, error) {
	def := domain.DefaultConfig().Scenario
	if cfg.StepRatio <= 0 {
		cfg.StepRatio = def.StepRatio
	}
	if cfg.Cycle <= 0 {
		cfg.Cycle = def.Cycle
	}
	if cfg.JitterMax <= 0 {
		cfg.JitterMin, cfg.JitterMax = def.JitterMin, def.JitterMax
	}
	if cfg.VelocityBase <= 0 {
		cfg.VelocityBase = def.VelocityBase
	}
	if cfg.FanInBase <= 0 {
		cfg.FanInBase = def.FanInBase
	}
	if cfg.StructuringBase <= 0 {
		cfg.StructuringBase = def.StructuringBase
	}
	if cfg.HighValueBaselineBase <= 0 {
		cfg.HighValueBaselineBase = def.HighValueBaselineBase
	}
	if cfg.HighValueTarget <= 0 {
		cfg.HighValueTarget = def.HighValueTarget
	}

	if cfg.JitterMin < 0 || cfg.JitterMin > cfg.JitterMax {
		return nil, fmt.Errorf("scenario jitter range [%v, %v) is invalid", cfg.JitterMin, cfg.JitterMax)
	}
	if cfg.JitterMax >= cfg.StepRatio {
		return nil, fmt.Errorf("scenario jitter max %v must stay below step ratio %v", cfg.JitterMax, cfg.StepRatio)
	}
	if cfg.StructuringJitter < 0 {
		return nil, fmt.Errorf("structuring jitter must not be negative")
	}

	for _, t := range domain.Typologies() {
		if _, ok := catalog.Get(t.RuleID()); !ok {
			return nil, fmt.Errorf("%w: catalog lacks rule %s", domain.ErrUnknownRule, t.RuleID())
		}
	}

	g := &Generator{catalog: catalog, cfg: cfg, newID: NewID}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		seed := uint64(time.Now().UnixNano())
		g.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return g, nil
}

// MinimumCount is the smallest sequence length that can trip the typology's rule.
func (g *Generator) MinimumCount(t domain.Typology) (int, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownTypology, t)
	}
	def, _ := g.catalog.Get(t.RuleID())
	switch t {
	case domain.TypologyVelocityDebtor, domain.TypologyVelocityCreditor:
		return int(def.Param(domain.ParamThreshold, 3)), nil
	case domain.TypologyStructuring:
		return int(def.Param(domain.ParamLowerLimit, 5)), nil
	default:
		return int(def.Param(domain.ParamMinHistory, 5)) + 1, nil
	}
}

// DefaultBase returns the configured base amount for a typology.
// For high-value it is the requested outlier amount.
func (g *Generator) DefaultBase(t domain.Typology) decimal.Decimal {
	switch t {
	case domain.TypologyVelocityCreditor:
		return decimal.NewFromFloat(g.cfg.FanInBase)
	case domain.TypologyStructuring:
		return decimal.NewFromFloat(g.cfg.StructuringBase)
	case domain.TypologyHighValue:
		return decimal.NewFromFloat(g.cfg.HighValueTarget)
	default:
		return decimal.NewFromFloat(g.cfg.VelocityBase)
	}
}

// Generate builds count transactions engineered to trip the typology's rule
// and nothing else the sequence can avoid. A zero base takes the configured
// default; for high-value, base is the requested outlier amount.
func (g *Generator) Generate(t domain.Typology, count int, base decimal.Decimal, seeds domain.SeedIdentifiers) (*domain.Scenario, error) {
	minimum, err := g.MinimumCount(t)
	if err != nil {
		return nil, err
	}
	if count < minimum {
		return nil, domain.NewValidationError("count",
			fmt.Sprintf("%s needs at least %d transactions, got %d", t, minimum, count), domain.ErrBelowMinimum)
	}
	if base.IsNegative() {
		return nil, domain.NewValidationError("amount", "must be positive", nil)
	}
	if base.IsZero() {
		base = g.DefaultBase(t)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	def, _ := g.catalog.Get(t.RuleID())
	sc := &domain.Scenario{Typology: t, RuleID: def.ID}

	var amounts []decimal.Decimal
	switch t {
	case domain.TypologyVelocityDebtor, domain.TypologyVelocityCreditor:
		amounts = g.cycleAmounts(base, count)
	case domain.TypologyStructuring:
		amounts = g.structuringAmounts(def, base, count)
	case domain.TypologyHighValue:
		baseline := g.cycleAmounts(decimal.NewFromFloat(g.cfg.HighValueBaselineBase), count-1)
		amounts = append(baseline, outlier(def, baseline, base))
		target := amounts[len(amounts)-1]
		sc.Context.TargetAmount = &target
	}

	debtor, creditor := g.parties(t, seeds)
	sc.Transactions = make([]domain.TransactionSpec, count)
	for i := range sc.Transactions {
		tx := domain.TransactionSpec{
			Sequence:        i + 1,
			MessageID:       g.newID(),
			EndToEndID:      g.newID(),
			DebtorAccount:   debtor.next(),
			CreditorAccount: creditor.next(),
			Amount:          amounts[i],
		}
		tx.DebtorName = debtor.name(tx.DebtorAccount)
		tx.CreditorName = creditor.name(tx.CreditorAccount)
		sc.Transactions[i] = tx
	}

	amt := base
	total := sc.TotalAmount()
	sc.Context.Scenario = fmt.Sprintf("Rule %s - %s", def.ID, def.Name)
	sc.Context.AmountPerTransaction = &amt
	sc.Context.TotalTransactions = count
	sc.Context.TotalAmount = &total
	if debtor.fixed != "" {
		sc.Context.DebtorAccount = debtor.fixed
		sc.Context.DebtorName = seeds.DebtorName
	}
	if creditor.fixed != "" {
		sc.Context.CreditorAccount = creditor.fixed
		sc.Context.CreditorName = seeds.CreditorName
	}
	if t == domain.TypologyHighValue {
		baselineBase := decimal.NewFromFloat(g.cfg.HighValueBaselineBase)
		sc.Context.AmountPerTransaction = &baselineBase
	}

	return sc, nil
}

// cycleAmounts returns base + (i mod cycle)*step + jitter, pairwise distinct.
// Jitter stays below one step, so the first cycle is strictly increasing.
func (g *Generator) cycleAmounts(base decimal.Decimal, n int) []decimal.Decimal {
	step := base.Mul(decimal.NewFromFloat(g.cfg.StepRatio))
	used := make(map[string]struct{}, n)
	out := make([]decimal.Decimal, n)
	for i := range out {
		frac := g.cfg.JitterMin + g.rng.Float64()*(g.cfg.JitterMax-g.cfg.JitterMin)
		jitter := base.Mul(decimal.NewFromFloat(frac))
		amt := base.Add(step.Mul(decimal.NewFromInt(int64(i % g.cfg.Cycle)))).Add(jitter).Round(0)
		for {
			if _, dup := used[amt.String()]; !dup {
				break
			}
			amt = amt.Add(decimal.NewFromInt(1))
		}
		used[amt.String()] = struct{}{}
		out[i] = amt
	}
	return out
}

// structuringAmounts keeps every pair within the rule's tolerance band.
func (g *Generator) structuringAmounts(def *domain.RuleDefinition, base decimal.Decimal, n int) []decimal.Decimal {
	jitter := g.cfg.StructuringJitter
	if limit := def.Param(domain.ParamTolerance, 0.2) / 4; jitter > limit {
		jitter = limit
	}
	out := make([]decimal.Decimal, n)
	for i := range out {
		if jitter == 0 {
			out[i] = base
			continue
		}
		u := g.rng.Float64()*2 - 1
		out[i] = base.Mul(decimal.NewFromFloat(1 + u*jitter)).Round(2)
	}
	return out
}

// outlier is max(requested, floor(multiplier*avg(baseline))+1).
func outlier(def *domain.RuleDefinition, baseline []decimal.Decimal, requested decimal.Decimal) decimal.Decimal {
	if len(baseline) == 0 {
		return requested
	}
	sum := decimal.Zero
	for _, a := range baseline {
		sum = sum.Add(a)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(baseline))))
	floor := avg.Mul(decimal.NewFromFloat(def.Param(domain.ParamMultiplier, 1.5))).Floor().Add(decimal.NewFromInt(1))
	if requested.GreaterThan(floor) {
		return requested
	}
	return floor
}

// party yields either a fixed account or a fresh distinct one per call.
type party struct {
	fixed     string
	fixedName string
	prefix    string
	rng       *rand.Rand
	seen      map[string]struct{}
}

func (p *party) next() string {
	if p.fixed != "" {
		return p.fixed
	}
	for {
		id := fmt.Sprintf("%s%06d", p.prefix, p.rng.IntN(1_000_000))
		if _, dup := p.seen[id]; !dup {
			p.seen[id] = struct{}{}
			return id
		}
	}
}

func (p *party) name(account string) string {
	if p.fixed != "" && p.fixedName != "" {
		return p.fixedName
	}
	return account
}

var subjectPrefix = map[domain.Typology]string{
	domain.TypologyVelocityDebtor:   "VEL_",
	domain.TypologyVelocityCreditor: "MULE_",
	domain.TypologyStructuring:      "STRUCT_",
	domain.TypologyHighValue:        "WHALE_",
}

// parties decides which side is held constant. Fan-in fixes the creditor
// and spreads debtors; every other typology fixes the debtor and spreads creditors.
func (g *Generator) parties(t domain.Typology, seeds domain.SeedIdentifiers) (debtor, creditor *party) {
	debtor = &party{prefix: "DEB_", rng: g.rng, seen: map[string]struct{}{}}
	creditor = &party{prefix: "CRED_", rng: g.rng, seen: map[string]struct{}{}}

	subject := func(seed, name string) (string, string) {
		if seed != "" {
			return seed, name
		}
		return fmt.Sprintf("%s%06d", subjectPrefix[t], g.rng.IntN(1_000_000)), name
	}

	if t == domain.TypologyVelocityCreditor {
		creditor.fixed, creditor.fixedName = subject(seeds.CreditorAccount, seeds.CreditorName)
		return debtor, creditor
	}
	debtor.fixed, debtor.fixedName = subject(seeds.DebtorAccount, seeds.DebtorName)
	return debtor, creditor
}
