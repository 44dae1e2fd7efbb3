package simulation

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/opensource-finance/osprey-verify/internal/logsource"
	"github.com/opensource-finance/osprey-verify/internal/metrics"
	"github.com/shopspring/decimal"
)

// Flow outcomes reported to callers.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// TransactionRequest describes a single ad-hoc transfer.
// Empty parties are generated; a zero amount takes the baseline amount.
type TransactionRequest struct {
	DebtorAccount   string
	DebtorName      string
	CreditorAccount string
	CreditorName    string
	Amount          decimal.Decimal
}

// MessageResult is the answer to one submitted message.
type MessageResult struct {
	Status         string                `json:"status"`
	HTTPCode       int                   `json:"http_code,omitempty"`
	ResponseTimeMs int64                 `json:"response_time_ms,omitempty"`
	PayloadSent    any                   `json:"payload_sent,omitempty"`
	TMSResponse    map[string]any        `json:"tms_response,omitempty"`
	TestRecord     *domain.HistoryRecord `json:"test_record,omitempty"`
	Message        string                `json:"message,omitempty"`
}

func (o *Orchestrator) transaction(req TransactionRequest) domain.TransactionSpec {
	tx := domain.TransactionSpec{
		Sequence:        1,
		MessageID:       o.deps.IDs(),
		EndToEndID:      o.deps.IDs(),
		DebtorAccount:   strings.TrimSpace(req.DebtorAccount),
		DebtorName:      strings.TrimSpace(req.DebtorName),
		CreditorAccount: strings.TrimSpace(req.CreditorAccount),
		CreditorName:    strings.TrimSpace(req.CreditorName),
		Amount:          req.Amount,
	}
	if tx.DebtorAccount == "" {
		tx.DebtorAccount = "DEB_" + o.suffix()
	}
	if tx.CreditorAccount == "" {
		tx.CreditorAccount = "CRED_" + o.suffix()
	}
	if tx.DebtorName == "" {
		tx.DebtorName = tx.DebtorAccount
	}
	if tx.CreditorName == "" {
		tx.CreditorName = tx.CreditorAccount
	}
	if !tx.Amount.IsPositive() {
		tx.Amount = decimal.NewFromFloat(o.cfg.Simulation.BaselineAmount)
	}
	return tx
}

func (o *Orchestrator) suffix() string {
	id := strings.ToUpper(o.deps.IDs())
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

// SendTransaction submits one pacs.008 without confirmation.
func (o *Orchestrator) SendTransaction(ctx context.Context, req TransactionRequest) MessageResult {
	s := o.submit(ctx, submission{historyType: "pacs.008", tx: o.transaction(req)})
	return messageResult(s)
}

func messageResult(s sent) MessageResult {
	out := MessageResult{
		Status:         StatusError,
		HTTPCode:       s.result.StatusCode,
		ResponseTimeMs: s.result.ResponseTimeMs,
		PayloadSent:    s.payload,
		TMSResponse:    s.result.Response,
		TestRecord:     s.record,
		Message:        s.result.Error,
	}
	if s.result.Success {
		out.Status = StatusSuccess
	}
	return out
}

// QuickStatus submits a pacs.008 and, once it is accepted, confirms it
// with status after the configured delay. An unsupported status is
// rejected before anything is sent.
func (o *Orchestrator) QuickStatus(ctx context.Context, req TransactionRequest, status string) (MessageResult, error) {
	if status == "" {
		status = domain.StatusAccepted
	}
	if !domain.ValidConfirmationStatus(status) {
		return MessageResult{}, domain.NewValidationError("",
			fmt.Sprintf("Invalid status code. Must be one of: %s, %s, %s",
				domain.StatusAccepted, domain.StatusSettled, domain.StatusRejected), nil)
	}

	start := o.now()
	tx := o.transaction(req)
	first := o.submit(ctx, submission{historyType: "pacs.008", tx: tx})
	if first.result.Error != "" {
		return MessageResult{Status: StatusError, Message: first.result.Error}, nil
	}
	if !first.result.Success {
		return MessageResult{Status: StatusError, HTTPCode: first.result.StatusCode, Message: "pacs.008 failed"}, nil
	}

	if err := o.deps.Sleeper(ctx, o.cfg.Simulation.QuickStatusDelay); err != nil {
		return MessageResult{Status: StatusError, Message: err.Error()}, nil
	}

	second := o.confirm(ctx, "", fmt.Sprintf("Quick Test (%s)", status), tx, status)
	out := messageResult(second)
	out.ResponseTimeMs = o.now().Sub(start).Milliseconds()
	return out, nil
}

// Leg is one half of a full transaction.
type Leg struct {
	Status   int            `json:"status"`
	Success  bool           `json:"success"`
	Response map[string]any `json:"response,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// FullTransactionResult reports a pacs.008 and its ACCC confirmation.
// OverallStatus is success, partial (confirmation refused), failed
// (transfer refused) or error (transport failure).
type FullTransactionResult struct {
	Pacs008       *Leg   `json:"pacs008"`
	Pacs002       *Leg   `json:"pacs002"`
	OverallStatus string `json:"overall_status"`
	Error         string `json:"error,omitempty"`
}

func leg(r domain.SubmissionResult) *Leg {
	return &Leg{Status: r.StatusCode, Success: r.Success, Response: r.Response, Error: r.Error}
}

// FullTransaction submits a pacs.008 and confirms it with ACCC.
func (o *Orchestrator) FullTransaction(ctx context.Context, req TransactionRequest) FullTransactionResult {
	tx := o.transaction(req)
	first := o.submit(ctx, submission{historyType: "pacs.008", tx: tx})

	out := FullTransactionResult{Pacs008: leg(first.result)}
	switch {
	case first.result.Error != "":
		out.OverallStatus = StatusError
		out.Error = first.result.Error
		return out
	case !first.result.Success:
		out.OverallStatus = StatusFailed
		return out
	}

	if err := o.deps.Sleeper(ctx, o.cfg.Simulation.FullTransactionDelay); err != nil {
		out.OverallStatus = StatusError
		out.Error = err.Error()
		return out
	}

	second := o.confirm(ctx, "", "pacs.002 ("+domain.StatusAccepted+")", tx, domain.StatusAccepted)
	out.Pacs002 = leg(second.result)
	switch {
	case second.result.Error != "":
		out.OverallStatus = StatusError
		out.Error = second.result.Error
	case second.result.Success:
		out.OverallStatus = StatusSuccess
	default:
		out.OverallStatus = StatusPartial
	}
	return out
}

// ScenarioRequest runs one generated sequence against the engine.
type ScenarioRequest struct {
	Typology domain.Typology
	Count    int

	// Amount is the base amount; zero takes the typology default.
	Amount decimal.Decimal
	Seeds  domain.SeedIdentifiers

	// Label overrides the scenario name in the request summary.
	Label string

	// HistoryType names each transfer in history; nil uses "Scenario <rule>".
	HistoryType func(tx domain.TransactionSpec) string

	// FilterTarget keeps only alerts of the scenario's own rule.
	FilterTarget bool
}

// ScenarioItem is the outcome of one transfer in a scenario.
type ScenarioItem struct {
	Iteration       int             `json:"iteration"`
	Status          int             `json:"status"`
	ResponseTimeMs  int64           `json:"response_time_ms"`
	Amount          decimal.Decimal `json:"amount"`
	Debtor          string          `json:"debtor"`
	Creditor        string          `json:"creditor"`
	Response        map[string]any  `json:"response"`
	Pacs002Response map[string]any  `json:"pacs002_response,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// ScenarioReport is returned by RunScenario. Status is "partial" when the
// rule's output could not be read; DetectionError then says why, and an
// empty FraudAlerts means nothing was checked rather than nothing fired.
type ScenarioReport struct {
	ID             string                `json:"id"`
	Status         string                `json:"status"`
	TotalSent      int                   `json:"total_sent"`
	Results        []ScenarioItem        `json:"results"`
	FraudAlerts    []domain.Alert        `json:"fraud_alerts"`
	DetectionError string                `json:"detection_error,omitempty"`
	RequestSummary domain.RequestContext `json:"request_summary"`
}

// ScenarioHistoryType labels transfers the way the attack scenario endpoint does,
// e.g. "Scenario rule_018 (500,000,000)".
func ScenarioHistoryType(scenario string) func(domain.TransactionSpec) string {
	return func(tx domain.TransactionSpec) string {
		return fmt.Sprintf("Scenario %s (%s)", scenario, humanize.Comma(tx.Amount.IntPart()))
	}
}

// MinimumCount is the shortest sequence that can trip the typology's rule.
func (o *Orchestrator) MinimumCount(t domain.Typology) (int, error) {
	return o.deps.Generator.MinimumCount(t)
}

// RunScenario generates the sequence, submits every transfer with an ACCC
// confirmation for the accepted ones, then reads the rule's output back.
// Only an invalid request returns an error.
func (o *Orchestrator) RunScenario(ctx context.Context, req ScenarioRequest) (*ScenarioReport, error) {
	sc, err := o.deps.Generator.Generate(req.Typology, req.Count, req.Amount, req.Seeds)
	if err != nil {
		return nil, err
	}
	source := logsource.SourceName(o.cfg.LogSource, sc.RuleID)

	if o.locks != nil {
		keys := []string{"source:" + source}
		if sc.Context.DebtorAccount != "" {
			keys = append(keys, "account:"+sc.Context.DebtorAccount)
		}
		unlock := o.locks.lock(keys...)
		defer unlock()
	}

	historyType := req.HistoryType
	if historyType == nil {
		historyType = func(domain.TransactionSpec) string { return "Scenario rule_" + sc.RuleID }
	}

	start := o.now()
	report := &ScenarioReport{
		ID:          uuid.NewString(),
		Status:      StatusCompleted,
		TotalSent:   len(sc.Transactions),
		Results:     make([]ScenarioItem, 0, len(sc.Transactions)),
		FraudAlerts: []domain.Alert{},
	}
	for _, tx := range sc.Transactions {
		s := o.submit(ctx, submission{runID: report.ID, historyType: historyType(tx), tx: tx, confirm: domain.StatusAccepted})
		item := ScenarioItem{
			Iteration:      tx.Sequence,
			Status:         s.result.StatusCode,
			ResponseTimeMs: s.result.ResponseTimeMs,
			Amount:         tx.Amount,
			Debtor:         tx.DebtorAccount,
			Creditor:       tx.CreditorAccount,
			Response:       s.result.Response,
			Error:          s.result.Error,
		}
		if item.Response == nil {
			item.Response = map[string]any{}
		}
		if c := s.result.Confirmation; c != nil {
			item.Pacs002Response = c.Response
		}
		report.Results = append(report.Results, item)
	}

	reqCtx := sc.Context
	if req.Label != "" {
		reqCtx.Scenario = req.Label
	}
	target := ""
	if req.FilterTarget {
		target = sc.RuleID
	}

	report.RequestSummary = reqCtx
	if err := o.deps.Sleeper(ctx, o.cfg.Simulation.PostAttackDelay); err != nil {
		report.Status = StatusPartial
		report.DetectionError = "detection skipped: " + err.Error()
		return report, nil
	}

	alerts, fetchErr := o.detect(ctx, source, target, &reqCtx, start)
	for _, a := range alerts {
		metrics.RecordAlert(a.RuleID)
	}
	report.FraudAlerts = alerts
	report.RequestSummary = reqCtx
	if fetchErr != "" {
		report.Status = StatusPartial
		report.DetectionError = fetchErr
	}
	return report, nil
}
