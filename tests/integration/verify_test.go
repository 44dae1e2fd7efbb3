//go:build integration
// +build integration

// Package integration provides end-to-end tests for the verifier running
// against a detection engine.
//
// These tests drive the COMPLETE verification loop:
//
//	Scenario → pacs.008/pacs.002 → Engine → Rule output → Alerts → Report
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// REQUIRED SERVICES:
//
// Start the verifier with the stand-in engine embedded:
//
//	VERIFY_MOCK_EMBEDDED=true go run ./cmd/verifier
//
// or run ./cmd/mocktms and ./cmd/verifier separately. The stand-in's
// velocity gate is expected at its defaults (5 transfers per debtor per
// 60 seconds).
//
// | Rule | What It Detects                         | Attack Sequence                   |
// |------|-----------------------------------------|-----------------------------------|
// | 901  | Debtor sending too often                | one debtor, distinct creditors    |
// | 902  | Creditor receiving from many debtors    | distinct debtors, one creditor    |
// | 006  | Repeated similar amounts (structuring)  | one debtor, near-identical amounts|
// | 018  | Amount far above the debtor's history   | baseline history, then an outlier |
//
// Every test uses fresh account ids so runs never see each other's history.
package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
	MockURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("VERIFY_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	mockURL := os.Getenv("VERIFY_TEST_MOCK_URL")
	if mockURL == "" {
		mockURL = "http://localhost:5000"
	}
	return TestConfig{BaseURL: baseURL, MockURL: mockURL}
}

var accountSeq atomic.Int64

// freshAccount returns an account id no earlier run has used.
func freshAccount(prefix string) string {
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), accountSeq.Add(1))
}

// ============================================================================
// API Response Types (matching the verifier's API contract)
// ============================================================================

type Alert struct {
	RuleID     string `json:"rule_id"`
	Title      string `json:"title"`
	LogSnippet string `json:"log_snippet"`
	RuleDetail struct {
		WhyTriggered string `json:"why_triggered"`
	} `json:"rule_detail"`
}

type Step struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Success     bool   `json:"success"`
}

type SimulationRun struct {
	RunID         string  `json:"run_id"`
	OverallStatus string  `json:"overall_status"`
	AccountID     string  `json:"account_id"`
	TargetRule    string  `json:"target_rule"`
	Steps         []Step  `json:"steps"`
	FraudDetected bool    `json:"fraud_detected"`
	FraudAlerts   []Alert `json:"fraud_alerts"`
	Summary       *struct {
		RuleID          string `json:"rule_id"`
		FinalStatus     string `json:"final_status"`
		AcceptedAttacks int    `json:"accepted_attacks"`
	} `json:"summary"`
}

type MessageResult struct {
	Status      string         `json:"status"`
	HTTPCode    int            `json:"http_code"`
	TMSResponse map[string]any `json:"tms_response"`
	TestRecord  struct {
		Type string `json:"type"`
	} `json:"test_record"`
}

type ScenarioReport struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	TotalSent      int     `json:"total_sent"`
	FraudAlerts    []Alert `json:"fraud_alerts"`
	DetectionError string  `json:"detection_error"`
	Results        []struct {
		Status int `json:"status"`
	} `json:"results"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func postForm(t *testing.T, rawURL string, form url.Values, out any) int {
	t.Helper()

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.PostForm(rawURL, form)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	return decodeBody(t, resp, out)
}

func get(t *testing.T, rawURL string, out any) int {
	t.Helper()

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(rawURL)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	return decodeBody(t, resp, out)
}

func decodeBody(t *testing.T, resp *http.Response, out any) int {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
		}
	}
	return resp.StatusCode
}

func simulate(t *testing.T, config TestConfig, rule, account string) SimulationRun {
	t.Helper()

	var run SimulationRun
	status := postForm(t, config.BaseURL+"/api/test/fraud-simulation", url.Values{
		"account_id": {account},
		"rule":       {rule},
	}, &run)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	return run
}

// ============================================================================
// SCENARIO 1: Both services are up
// ============================================================================

func TestServicesHealthy(t *testing.T) {
	config := getTestConfig()

	var health map[string]string
	if status := get(t, config.BaseURL+"/health", &health); status != http.StatusOK {
		t.Fatalf("Verifier health returned %d", status)
	}

	var ready map[string]string
	if status := get(t, config.BaseURL+"/ready", &ready); status != http.StatusOK {
		t.Fatalf("Verifier cannot reach the engine: %v", ready)
	}

	var mock map[string]string
	if status := get(t, config.MockURL+"/", &mock); status != http.StatusOK || mock["status"] != "up" {
		t.Fatalf("Engine health: status=%d body=%v", status, mock)
	}

	t.Logf("✓ Verifier %s, engine %s", health["version"], mock["service"])
}

// ============================================================================
// SCENARIO 2: A single ordinary transfer is accepted
// ============================================================================

func TestSingleTransfer_Accepted(t *testing.T) {
	/*
	   SCENARIO: One transfer from a fresh debtor.

	   EXPECTED BEHAVIOR:
	   - No window has any history for this debtor → 200 "Transaction is valid"
	   - The submission is recorded in history as "pacs.008"
	*/
	config := getTestConfig()

	var result MessageResult
	postForm(t, config.BaseURL+"/api/test/pacs008", url.Values{
		"debtor_account": {freshAccount("IT_SINGLE")},
		"amount":         {"1500"},
	}, &result)

	if result.Status != "success" || result.HTTPCode != http.StatusOK {
		t.Fatalf("Expected success/200, got %s/%d: %v", result.Status, result.HTTPCode, result.TMSResponse)
	}
	if result.TestRecord.Type != "pacs.008" {
		t.Errorf("Expected history type pacs.008, got %q", result.TestRecord.Type)
	}

	t.Logf("✓ Single transfer accepted: %v", result.TMSResponse["message"])
}

// ============================================================================
// SCENARIO 3: The velocity gate refuses the sixth transfer in a minute
// ============================================================================

func TestVelocityGate_SixthTransferRejected(t *testing.T) {
	/*
	   SCENARIO: Six transfers from one debtor inside the 60 second window.

	   EXPECTED BEHAVIOR:
	   - Transfers 1-5: count ≤ limit → 200
	   - Transfer 6:    count 6 > limit 5 → 406, rule 901, status RJCT

	   WHY THIS TEST:
	   The limit is inclusive; an off-by-one here would either let six
	   through or refuse the fifth.
	*/
	config := getTestConfig()
	debtor := freshAccount("IT_GATE")

	for i := 1; i <= 6; i++ {
		var result MessageResult
		postForm(t, config.BaseURL+"/api/test/pacs008", url.Values{
			"debtor_account": {debtor},
			"amount":         {"100"},
		}, &result)

		want := http.StatusOK
		if i == 6 {
			want = http.StatusNotAcceptable
		}
		if result.HTTPCode != want {
			t.Fatalf("Transfer %d: expected %d, got %d (%v)", i, want, result.HTTPCode, result.TMSResponse)
		}
		if i == 6 {
			if result.TMSResponse["rule_id"] != "901" || result.TMSResponse["status"] != "RJCT" {
				t.Errorf("Expected rule 901 RJCT, got %v", result.TMSResponse)
			}
		}
	}

	t.Log("✓ Sixth transfer in the window was rejected")
}

// ============================================================================
// SCENARIO 4: Confirmations correlate with their credit transfer
// ============================================================================

func TestQuickStatus_Confirmed(t *testing.T) {
	/*
	   SCENARIO: pacs.008 followed by pacs.002 ACSC with the same ids.

	   EXPECTED BEHAVIOR:
	   - Engine answers the confirmation with correlated=true
	   - History records the confirmation as "Quick Test (ACSC)"
	*/
	config := getTestConfig()

	var result MessageResult
	postForm(t, config.BaseURL+"/api/test/quick-status", url.Values{
		"debtor_account": {freshAccount("IT_QUICK")},
		"status_code":    {"ACSC"},
	}, &result)

	if result.Status != "success" {
		t.Fatalf("Expected success, got %s: %v", result.Status, result.TMSResponse)
	}
	if result.TMSResponse["correlated"] != true {
		t.Errorf("Expected the confirmation to be correlated, got %v", result.TMSResponse)
	}
	if result.TestRecord.Type != "Quick Test (ACSC)" {
		t.Errorf("Expected Quick Test (ACSC), got %q", result.TestRecord.Type)
	}
}

// ============================================================================
// SCENARIO 5: Every rule is caught by its own simulation
// ============================================================================

func TestFraudSimulation_EveryRuleDetected(t *testing.T) {
	/*
	   SCENARIO: Baseline → Attack → Detect → Block → Summarize for each rule.

	   EXPECTED BEHAVIOR:
	   - overall_status "completed" with five steps
	   - fraud_detected true, and every alert belongs to the target rule
	   - summary final_status "BLOCKED"

	   NOTE: same-debtor sequences also cross the 901 velocity gate, so
	   later attack transfers may be refused with 406. The detector observes
	   each transfer before the gate, so detection is unaffected.
	*/
	config := getTestConfig()

	tests := []struct {
		rule   string
		ruleID string
	}{
		{"rule_901", "901"},
		{"rule_902", "902"},
		{"rule_006", "006"},
		{"rule_018", "018"},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			run := simulate(t, config, tt.rule, freshAccount("IT_SIM_"+tt.ruleID))

			if run.OverallStatus != "completed" {
				t.Fatalf("Expected completed, got %s", run.OverallStatus)
			}
			if len(run.Steps) != 5 {
				t.Errorf("Expected 5 steps, got %d", len(run.Steps))
			}
			if !run.FraudDetected {
				t.Fatalf("Expected rule %s to be detected; steps: %+v", tt.ruleID, run.Steps)
			}
			for _, a := range run.FraudAlerts {
				if a.RuleID != tt.ruleID {
					t.Errorf("Expected only rule %s alerts, got %s (%s)", tt.ruleID, a.RuleID, a.Title)
				}
				if a.RuleDetail.WhyTriggered == "" {
					t.Errorf("Expected an explanation on alert %s", a.Title)
				}
			}
			if run.Summary == nil || run.Summary.FinalStatus != "BLOCKED" {
				t.Errorf("Expected final status BLOCKED, got %+v", run.Summary)
			}

			var stored SimulationRun
			if status := get(t, config.BaseURL+"/api/test/runs/"+run.RunID, &stored); status != http.StatusOK {
				t.Errorf("Expected stored run, got status %d", status)
			}
			if stored.RunID != run.RunID {
				t.Errorf("Expected run %s, got %s", run.RunID, stored.RunID)
			}

			t.Logf("✓ Rule %s detected with %d alert(s)", tt.ruleID, len(run.FraudAlerts))
		})
	}
}

func TestFraudSimulation_InvalidRequest(t *testing.T) {
	/*
	   SCENARIO: Requests that must be refused before anything is sent.

	   EXPECTED BEHAVIOR:
	   - Unknown rule → 400
	   - rule_018 with 3 attacks (minimum is minHistory + 1 = 6) → 400
	*/
	config := getTestConfig()

	tests := []struct {
		name string
		form url.Values
	}{
		{"UnknownRule", url.Values{"rule": {"rule_123"}}},
		{"BelowMinimum", url.Values{"rule": {"rule_018"}, "attack_count": {"3"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp map[string]any
			status := postForm(t, config.BaseURL+"/api/test/fraud-simulation", tt.form, &resp)
			if status != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %v", status, resp)
			}
		})
	}
}

// ============================================================================
// SCENARIO 6: Attack scenarios only report their own rule
// ============================================================================

func TestAttackScenario_HighValueFiltered(t *testing.T) {
	/*
	   SCENARIO: rule_018 attack with the default count (6).

	   EXPECTED BEHAVIOR:
	   - Five baseline transfers and one outlier
	   - Alerts, if any, are all rule 018; the same-debtor 901 findings
	     are filtered out
	*/
	config := getTestConfig()

	var report ScenarioReport
	postForm(t, config.BaseURL+"/api/test/attack-scenario", url.Values{"scenario": {"rule_018"}}, &report)

	if report.TotalSent != 6 {
		t.Errorf("Expected 6 transfers, got %d", report.TotalSent)
	}
	if report.Status != "completed" {
		t.Fatalf("Expected completed, got %s: %s", report.Status, report.DetectionError)
	}
	if len(report.FraudAlerts) == 0 {
		t.Fatal("Expected a rule 018 alert")
	}
	for _, a := range report.FraudAlerts {
		if a.RuleID != "018" {
			t.Errorf("Expected only rule 018, got %s", a.RuleID)
		}
	}
}

// ============================================================================
// SCENARIO 7: Rule output is readable through the verifier
// ============================================================================

func TestRuleLogs(t *testing.T) {
	config := getTestConfig()

	// Make sure rule 901 has produced output at least once.
	postForm(t, config.BaseURL+"/api/test/pacs008", url.Values{"debtor_account": {freshAccount("IT_LOGS")}}, nil)

	var logs map[string]string
	if status := get(t, config.BaseURL+"/api/test/logs/tazama-rule-901-1?tail=20", &logs); status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if logs["status"] != "success" {
		t.Fatalf("Expected success, got %v", logs)
	}
	if !strings.Contains(logs["logs"], "message: '") {
		t.Errorf("Expected rule processor lines, got %q", logs["logs"])
	}

	var refused map[string]string
	if status := get(t, config.BaseURL+"/api/test/logs/postgres", &refused); status != http.StatusBadRequest {
		t.Errorf("Expected 400 for a non-rule source, got %d", status)
	}
}
