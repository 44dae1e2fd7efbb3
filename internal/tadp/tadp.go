// Package tadp implements the decision step of the engine stand-in.
// It aggregates the parse outcome, the velocity gate verdict, the rule
// processor findings and the high-value flag into the response the
// stand-in returns for one message.
package tadp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/detector"
	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/shopspring/decimal"
)

// Response messages.
const (
	MessageValid          = "Transaction is valid"
	MessageParseWarning   = "Transaction is valid (Parsing Warning)"
	MessageHighValue      = "Suspicious activity detected: High Value Transaction"
	MessageStatusAccepted = "Status Accepted"
	velocityMessage       = "Suspicious activity detected: Velocity limit exceeded (Rule %s). Count %d/%d"
)

// Processor turns evaluation inputs into a decision.
type Processor struct {
	// HighValueFlag marks accepted transactions above it as ACTC.
	HighValueFlag decimal.Decimal
}

// NewProcessor creates a processor flagging amounts above highValue.
func NewProcessor(highValue decimal.Decimal) *Processor {
	return &Processor{HighValueFlag: highValue}
}

// DecisionInput contains everything known about one pacs.008.
type DecisionInput struct {
	// ParseErr is set when the envelope could not be read. Evaluation is
	// skipped and the message accepted.
	ParseErr error
	// Verdict is nil when the gate was not applied.
	Verdict   *domain.Verdict
	Findings  []detector.Finding
	Amount    decimal.Decimal
	Body      json.RawMessage
	StartTime time.Time
}

// Decision is the stand-in's answer. StatusCode doubles as the HTTP status.
type Decision struct {
	StatusCode     int             `json:"statusCode"`
	Message        string          `json:"message"`
	RuleID         string          `json:"rule_id,omitempty"`
	Typology       string          `json:"typology,omitempty"`
	Status         string          `json:"status,omitempty"`
	TriggeredRules []string        `json:"triggered_rules,omitempty"`
	Reasons        []string        `json:"reasons,omitempty"`
	Correlated     *bool           `json:"correlated,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	ProcessingMs   int64           `json:"processing_ms"`
}

// Process applies, in order: parse failure, velocity gate, high-value flag.
func (p *Processor) Process(ctx context.Context, input *DecisionInput) *Decision {
	d := p.decide(input)
	if !input.StartTime.IsZero() {
		d.ProcessingMs = time.Since(input.StartTime).Milliseconds()
	}
	return d
}

func (p *Processor) decide(input *DecisionInput) *Decision {
	if input.ParseErr != nil {
		return &Decision{StatusCode: http.StatusOK, Message: MessageParseWarning}
	}

	triggered := TriggeredRules(input.Findings)

	if v := input.Verdict; v != nil && !v.Accepted {
		return &Decision{
			StatusCode:     http.StatusNotAcceptable,
			Message:        fmt.Sprintf(velocityMessage, v.RuleID, v.Count, v.Limit),
			RuleID:         v.RuleID,
			Typology:       "Velocity",
			Status:         domain.StatusRejected,
			TriggeredRules: triggered,
			Reasons:        GetReasons(input.Findings),
		}
	}

	if p.HighValueFlag.IsPositive() && input.Amount.GreaterThan(p.HighValueFlag) {
		return &Decision{
			StatusCode:     http.StatusOK,
			Message:        MessageHighValue,
			Status:         domain.StatusAcceptedPending,
			TriggeredRules: triggered,
			Reasons:        GetReasons(input.Findings),
		}
	}

	return &Decision{
		StatusCode:     http.StatusOK,
		Message:        MessageValid,
		TriggeredRules: triggered,
		Data:           input.Body,
	}
}

// Acknowledge answers a status report.
func Acknowledge(correlated bool) *Decision {
	return &Decision{StatusCode: http.StatusOK, Message: MessageStatusAccepted, Correlated: &correlated}
}

// ShouldReject reports whether the decision blocks the transaction.
func ShouldReject(d *Decision) bool {
	return d.StatusCode == http.StatusNotAcceptable
}

// TriggeredRules returns the ids of findings that fired.
func TriggeredRules(findings []detector.Finding) []string {
	var ids []string
	for _, f := range findings {
		if f.Triggered {
			ids = append(ids, f.RuleID)
		}
	}
	return ids
}

// GetReasons returns the chatter of every finding that fired. Only flagged
// or refused decisions carry them.
func GetReasons(findings []detector.Finding) []string {
	var reasons []string
	for _, f := range findings {
		if f.Triggered && f.Message != "" {
			reasons = append(reasons, f.Message)
		}
	}
	return reasons
}
