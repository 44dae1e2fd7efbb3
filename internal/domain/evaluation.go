package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RequestContext carries what the verifier sent, so an alert can explain
// itself in terms of the caller's own parameters. Every field is optional;
// use the accessors rather than reading pointers directly.
type RequestContext struct {
	Scenario             string           `json:"scenario,omitempty"`
	DebtorAccount        string           `json:"debtor_account,omitempty"`
	DebtorName           string           `json:"debtor_name,omitempty"`
	CreditorAccount      string           `json:"creditor_account,omitempty"`
	CreditorName         string           `json:"creditor_name,omitempty"`
	AmountPerTransaction *decimal.Decimal `json:"amount_per_transaction,omitempty"`
	AmountRequested      *decimal.Decimal `json:"amount_requested,omitempty"`
	TargetAmount         *decimal.Decimal `json:"target_amount,omitempty"`
	TotalTransactions    int              `json:"total_transactions,omitempty"`
	TotalAmount          *decimal.Decimal `json:"total_amount,omitempty"`
}

// Debtor returns the debtor account, or the debtor name when only that was recorded.
func (c *RequestContext) Debtor() (string, bool) {
	return firstSet(c, func(c *RequestContext) []string { return []string{c.DebtorAccount, c.DebtorName} })
}

// Creditor returns the creditor account, or the creditor name.
func (c *RequestContext) Creditor() (string, bool) {
	return firstSet(c, func(c *RequestContext) []string { return []string{c.CreditorAccount, c.CreditorName} })
}

func firstSet(c *RequestContext, fields func(*RequestContext) []string) (string, bool) {
	if c == nil {
		return "", false
	}
	for _, v := range fields(c) {
		if v != "" {
			return v, true
		}
	}
	return "", false
}

// Amount returns the per-transaction amount, falling back to the requested amount.
func (c *RequestContext) Amount() (decimal.Decimal, bool) {
	if c == nil {
		return decimal.Zero, false
	}
	if c.AmountPerTransaction != nil {
		return *c.AmountPerTransaction, true
	}
	if c.AmountRequested != nil {
		return *c.AmountRequested, true
	}
	return decimal.Zero, false
}

// Target returns the outlier amount of a high-value scenario.
func (c *RequestContext) Target() (decimal.Decimal, bool) {
	if c == nil || c.TargetAmount == nil {
		return decimal.Zero, false
	}
	return *c.TargetAmount, true
}

// Count returns the number of transactions sent.
func (c *RequestContext) Count() (int, bool) {
	if c == nil || c.TotalTransactions <= 0 {
		return 0, false
	}
	return c.TotalTransactions, true
}

// Total returns the summed amount sent.
func (c *RequestContext) Total() (decimal.Decimal, bool) {
	if c == nil || c.TotalAmount == nil {
		return decimal.Zero, false
	}
	return *c.TotalAmount, true
}

// Alert is one deduplicated, classified detection message.
type Alert struct {
	RuleID         string          `json:"rule_id,omitempty"`
	Title          string          `json:"title"`
	Description    string          `json:"desc"`
	Raw            string          `json:"raw"`
	LogSnippet     string          `json:"log_snippet"`
	RuleDetail     *RuleDetail     `json:"rule_detail,omitempty"`
	RequestContext *RequestContext `json:"request_context,omitempty"`
}

// DetectionEvent is the structured form of one rule processor message.
type DetectionEvent struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	RuleID        string    `json:"rule_id"`
	Message       string    `json:"message"`
	Triggered     bool      `json:"triggered"`
	MessageID     string    `json:"message_id,omitempty"`
	EndToEndID    string    `json:"end_to_end_id,omitempty"`
	DebtorAccount string    `json:"debtor_account,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// LogResponse is what a log source returns for one fetch.
type LogResponse struct {
	Status  string `json:"status"`
	Logs    string `json:"logs"`
	Message string `json:"message,omitempty"`
}

// Log response statuses.
const (
	LogStatusSuccess = "success"
	LogStatusError   = "error"
)

// Verdict is the reference evaluator's answer for one transaction.
type Verdict struct {
	Accepted bool   `json:"accepted"`
	Count    int    `json:"count"`
	Limit    int    `json:"limit"`
	RuleID   string `json:"rule_id"`
}

// LogSource fetches the most recent output of one engine component.
// A source that exists but cannot be read reports an error status in the
// response; the error return is reserved for transport failures.
type LogSource interface {
	Fetch(ctx context.Context, source string, tail int) (LogResponse, error)
}

// EventSource returns structured detection events collected for a source.
type EventSource interface {
	Events(ctx context.Context, source string, since time.Time) ([]DetectionEvent, error)
}
