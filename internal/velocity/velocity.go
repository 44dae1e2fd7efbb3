// Package velocity provides the sliding-window velocity reference evaluator.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/domain"
)

// WindowStore keeps per-account timestamp windows.
//
// Record evicts every timestamp ts with now-ts > window, appends now and
// returns the resulting count. A now earlier than the newest stored
// timestamp returns domain.ErrOutOfOrder and leaves the window untouched.
type WindowStore interface {
	Record(ctx context.Context, accountID string, now time.Time, window time.Duration) (int, error)
	Close() error
}

// Evaluator applies a count limit over a sliding time window per account.
type Evaluator struct {
	store  WindowStore
	window time.Duration
	limit  int
	ruleID string
}

// NewEvaluator creates an evaluator. Zero values fall back to 60s and 5.
func NewEvaluator(store WindowStore, cfg domain.VelocityConfig) *Evaluator {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	return &Evaluator{
		store:  store,
		window: cfg.Window,
		limit:  cfg.Limit,
		ruleID: domain.RuleVelocityDebtor,
	}
}

// Evaluate records a transaction for accountID at now and rejects it when
// the window holds more than the limit.
func (e *Evaluator) Evaluate(ctx context.Context, accountID string, now time.Time) (domain.Verdict, error) {
	if accountID == "" {
		return domain.Verdict{}, fmt.Errorf("%w: account id is required", domain.ErrValidation)
	}

	count, err := e.store.Record(ctx, accountID, now, e.window)
	if err != nil {
		return domain.Verdict{}, err
	}

	return domain.Verdict{
		Accepted: count <= e.limit,
		Count:    count,
		Limit:    e.limit,
		RuleID:   e.ruleID,
	}, nil
}

// Window returns the configured window duration.
func (e *Evaluator) Window() time.Duration { return e.window }

// Limit returns the configured count limit.
func (e *Evaluator) Limit() int { return e.limit }

// New builds the store selected by cfg.Store.
func New(cfg domain.VelocityConfig) (WindowStore, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported velocity store: %s", cfg.Store)
	}
}
