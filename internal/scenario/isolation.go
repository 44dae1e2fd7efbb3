package scenario

import (
	"context"
	"sort"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/detector"
	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/opensource-finance/osprey-verify/internal/rules"
)

// Isolation is the replay verdict of a scenario against the reference detector.
type Isolation struct {
	Fired      map[string]int `json:"fired"`
	Target     bool           `json:"target_fired"`
	Collateral []string       `json:"collateral,omitempty"`
}

// CheckIsolation replays the scenario through a fresh detector, one
// transaction per second, and reports which rules fired.
//
// Debtor velocity is never counted as collateral for a sequence that keeps
// one debtor: any such sequence long enough to trip another rule also
// reaches the velocity threshold.
func CheckIsolation(ctx context.Context, catalog *rules.Catalog, sc *domain.Scenario) (Isolation, error) {
	fired, err := detector.Replay(ctx, catalog, sc.Transactions, time.Unix(0, 0).UTC(), time.Second)
	if err != nil {
		return Isolation{}, err
	}

	iso := Isolation{Fired: fired, Target: fired[sc.RuleID] > 0}
	sameDebtor := singleDebtor(sc.Transactions)
	for id, n := range fired {
		if id == sc.RuleID || n == 0 {
			continue
		}
		if id == domain.RuleVelocityDebtor && sameDebtor {
			continue
		}
		iso.Collateral = append(iso.Collateral, id)
	}
	sort.Strings(iso.Collateral)
	return iso, nil
}

func singleDebtor(txs []domain.TransactionSpec) bool {
	for i := 1; i < len(txs); i++ {
		if txs[i].DebtorAccount != txs[0].DebtorAccount {
			return false
		}
	}
	return len(txs) > 0
}
