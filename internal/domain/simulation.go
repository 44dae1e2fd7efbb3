package domain

import "time"

// RunStatus is the lifecycle state of a simulation run.
// A run is pending until it finishes; it then ends completed or error.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
)

// Step is one recorded phase of a simulation.
type Step struct {
	Step        int                `json:"step"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Success     bool               `json:"success"`
	Submissions []SubmissionResult `json:"submissions,omitempty"`
	Alerts      []Alert            `json:"alerts,omitempty"`
	TxStatus    string             `json:"tx_status,omitempty"`
}

// Final dispositions of a simulation summary.
const (
	FinalBlocked    = "BLOCKED"
	FinalMonitoring = "MONITORING"
)

// Summary closes a simulation run.
type Summary struct {
	RuleTriggered           string `json:"rule_triggered"`
	RuleID                  string `json:"rule_id"`
	TriggerCondition        string `json:"trigger_condition"`
	Recommendation          string `json:"recommendation"`
	TotalAttackTransactions int    `json:"total_attack_transactions"`
	AcceptedAttacks         int    `json:"accepted_attacks"`
	FraudDetected           bool   `json:"fraud_detected"`
	AlertsCount             int    `json:"alerts_count"`
	FinalStatus             string `json:"final_status"`
}

// SimulationRun is the full record of one Baseline→Attack→Detect→Block→Summarize run.
type SimulationRun struct {
	ID            string     `json:"run_id"`
	Status        RunStatus  `json:"overall_status"`
	AccountID     string     `json:"account_id"`
	TargetRule    string     `json:"target_rule"`
	Steps         []Step     `json:"steps"`
	FraudDetected bool       `json:"fraud_detected"`
	FraudAlerts   []Alert    `json:"fraud_alerts"`
	Summary       *Summary   `json:"summary,omitempty"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// AddStep appends a step, numbering it from 1.
func (r *SimulationRun) AddStep(s Step) {
	s.Step = len(r.Steps) + 1
	r.Steps = append(r.Steps, s)
}

// Finish moves the run out of pending.
func (r *SimulationRun) Finish(status RunStatus, at time.Time) {
	r.Status = status
	r.CompletedAt = &at
}
