package detector

import (
	"context"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/opensource-finance/osprey-verify/internal/rules"
)

// Replay feeds a transaction sequence through a fresh detector, one every
// step starting at start, and returns how many times each rule fired.
func Replay(ctx context.Context, catalog *rules.Catalog, txs []domain.TransactionSpec, start time.Time, step time.Duration) (map[string]int, error) {
	d, err := New(catalog)
	if err != nil {
		return nil, err
	}

	fired := make(map[string]int)
	for i, tx := range txs {
		res := d.Observe(ctx, ObservationFromSpec(tx, start.Add(time.Duration(i)*step)))
		for _, id := range res.Triggered() {
			fired[id]++
		}
	}
	return fired, nil
}

// ObservationFromSpec converts a transaction spec observed at the given time.
func ObservationFromSpec(tx domain.TransactionSpec, at time.Time) Observation {
	return Observation{
		MessageID:  tx.MessageID,
		EndToEndID: tx.EndToEndID,
		Debtor:     tx.DebtorAccount,
		Creditor:   tx.CreditorAccount,
		Amount:     tx.Amount,
		At:         at,
	}
}
