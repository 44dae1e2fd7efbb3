package simulation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/opensource-finance/osprey-verify/internal/iso20022"
	"github.com/opensource-finance/osprey-verify/internal/metrics"
	"github.com/opensource-finance/osprey-verify/internal/tms"
)

// Transport sends one ISO 20022 message to the detection engine.
// *tms.Client satisfies it.
type Transport interface {
	Send(ctx context.Context, messageType string, payload any) (tms.Response, error)
}

// submission is one pacs.008, optionally followed by a pacs.002 carrying
// the same message id and end-to-end id.
type submission struct {
	runID       string
	historyType string
	tx          domain.TransactionSpec

	// confirm is the pacs.002 status; empty sends no confirmation.
	confirm string
}

// sent is what one message produced: the result, the envelope put on the
// wire and the history entry written for it.
type sent struct {
	result  domain.SubmissionResult
	payload any
	record  *domain.HistoryRecord
}

// submit sends the credit transfer and, when it was accepted and a status
// is requested, the confirmation. Failures are recorded in the result and
// never returned; a failing item must not stop the items after it.
func (o *Orchestrator) submit(ctx context.Context, s submission) sent {
	tx := s.tx
	amount := tx.Amount
	res := domain.SubmissionResult{
		Kind:            domain.KindPacs008,
		Sequence:        tx.Sequence,
		MessageID:       tx.MessageID,
		EndToEndID:      tx.EndToEndID,
		DebtorAccount:   tx.DebtorAccount,
		CreditorAccount: tx.CreditorAccount,
		Amount:          &amount,
	}

	msg := iso20022.NewPacs008(tx, o.cfg.Currency, o.cfg.TenantID, o.now())
	resp, err := o.deps.Transport.Send(ctx, iso20022.MessageTypePacs008, msg)
	fill(&res, resp, err)
	metrics.RecordSubmission(domain.KindPacs008, res.Success)
	rec := o.record(ctx, s.runID, s.historyType, &res)

	if s.confirm != "" && res.Success {
		conf := o.confirm(ctx, s.runID, "pacs.002 ("+s.confirm+")", tx, s.confirm)
		res.Confirmation = &conf.result
	}
	return sent{result: res, payload: msg, record: rec}
}

// confirm sends a pacs.002 for a previously submitted pacs.008.
func (o *Orchestrator) confirm(ctx context.Context, runID, historyType string, tx domain.TransactionSpec, status string) sent {
	reportID := o.deps.IDs()
	res := domain.SubmissionResult{
		Kind:       domain.KindPacs002,
		Sequence:   tx.Sequence,
		MessageID:  reportID,
		EndToEndID: tx.EndToEndID,
		TxStatus:   status,
	}

	msg, err := iso20022.NewPacs002(tx.MessageID, tx.EndToEndID, status, reportID, o.cfg.TenantID, o.now())
	if err != nil {
		res.Error = err.Error()
		return sent{result: res}
	}
	resp, err := o.deps.Transport.Send(ctx, iso20022.MessageTypePacs002, msg)
	fill(&res, resp, err)
	metrics.RecordSubmission(domain.KindPacs002, res.Success)
	rec := o.record(ctx, runID, historyType, &res)
	return sent{result: res, payload: msg, record: rec}
}

func fill(res *domain.SubmissionResult, resp tms.Response, err error) {
	res.ResponseTimeMs = resp.LatencyMs()
	if err != nil {
		res.Error = err.Error()
		return
	}
	res.StatusCode = resp.StatusCode
	res.Success = resp.OK()
	res.Response = resp.Body
}

// record appends a history entry. History is best effort: a storage
// failure is logged and the flow continues.
func (o *Orchestrator) record(ctx context.Context, runID, historyType string, res *domain.SubmissionResult) *domain.HistoryRecord {
	rec := &domain.HistoryRecord{
		ID:             uuid.NewString(),
		RunID:          runID,
		Timestamp:      o.now(),
		Type:           historyType,
		StatusCode:     res.StatusCode,
		Success:        res.Success,
		ResponseTimeMs: res.ResponseTimeMs,
		MessageID:      res.MessageID,
		EndToEndID:     res.EndToEndID,
	}
	if err := o.deps.History.SaveRecord(ctx, rec); err != nil {
		slog.Warn("failed to save history record",
			"type", historyType,
			"message_id", res.MessageID,
			"error", err,
		)
	}
	return rec
}

func (o *Orchestrator) now() time.Time {
	return o.deps.Clock().UTC()
}
