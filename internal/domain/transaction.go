package domain

import (
	"github.com/shopspring/decimal"
)

// TransactionSpec describes one synthetic payment before it is submitted.
// The message id and end-to-end id are generated once and reused verbatim
// by the confirmation that follows it.
type TransactionSpec struct {
	Sequence        int             `json:"sequence"`
	MessageID       string          `json:"message_id"`
	EndToEndID      string          `json:"end_to_end_id"`
	DebtorAccount   string          `json:"debtor_account"`
	DebtorName      string          `json:"debtor_name"`
	CreditorAccount string          `json:"creditor_account"`
	CreditorName    string          `json:"creditor_name"`
	Amount          decimal.Decimal `json:"amount"`
}

// SeedIdentifiers fixes the parties a scenario is built around.
// Empty fields are generated.
type SeedIdentifiers struct {
	DebtorAccount   string `json:"debtor_account,omitempty"`
	DebtorName      string `json:"debtor_name,omitempty"`
	CreditorAccount string `json:"creditor_account,omitempty"`
	CreditorName    string `json:"creditor_name,omitempty"`
}

// Scenario is an ordered transaction sequence engineered to trip one rule.
type Scenario struct {
	Typology     Typology          `json:"typology"`
	RuleID       string            `json:"rule_id"`
	Transactions []TransactionSpec `json:"transactions"`
	Context      RequestContext    `json:"context"`
}

// TotalAmount sums every transaction amount in the scenario.
func (s *Scenario) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, tx := range s.Transactions {
		total = total.Add(tx.Amount)
	}
	return total
}

// SubmissionResult is the outcome of one message sent to the engine.
type SubmissionResult struct {
	Kind            string           `json:"kind"`
	Sequence        int              `json:"sequence,omitempty"`
	MessageID       string           `json:"message_id"`
	EndToEndID      string           `json:"end_to_end_id,omitempty"`
	DebtorAccount   string           `json:"debtor_account,omitempty"`
	CreditorAccount string           `json:"creditor_account,omitempty"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	TxStatus        string           `json:"tx_status,omitempty"`
	StatusCode      int              `json:"status_code"`
	Success         bool             `json:"success"`
	ResponseTimeMs  int64            `json:"response_time_ms"`
	Response        map[string]any   `json:"response,omitempty"`
	Error           string           `json:"error,omitempty"`

	Confirmation *SubmissionResult `json:"confirmation,omitempty"`
}

// Message kinds recorded in history.
const (
	KindPacs008 = "pacs.008"
	KindPacs002 = "pacs.002"
)

// Transaction status codes accepted on a confirmation.
const (
	StatusAccepted        = "ACCC"
	StatusSettled         = "ACSC"
	StatusRejected        = "RJCT"
	StatusAcceptedPending = "ACTC"
)

// ValidConfirmationStatus reports whether s may be sent on a pacs.002.
func ValidConfirmationStatus(s string) bool {
	switch s {
	case StatusAccepted, StatusSettled, StatusRejected:
		return true
	}
	return false
}
