// Drill runs fraud simulations against a running verifier and reports
// which rules were caught.
//
// Usage:
//
//	go run ./cmd/drill -url http://localhost:8000 -rule rule_901
//	go run ./cmd/drill -all
//
// Each simulation sends a baseline, the attack sequence for the rule, reads
// the rule's output back, blocks a final transfer and summarizes. The exit
// code is 1 when any run ends in error.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/shopspring/decimal"
)

// allRules is the order -all runs the catalog in.
var allRules = []string{"rule_901", "rule_902", "rule_006", "rule_018"}

// SimulationRequest is the verifier's fraud simulation body.
type SimulationRequest struct {
	AccountID   string `json:"account_id,omitempty"`
	Rule        string `json:"rule,omitempty"`
	AttackCount int    `json:"attack_count,omitempty"`
}

// Outcome is one finished drill.
type Outcome struct {
	Rule     string
	Run      *domain.SimulationRun
	Err      error
	Duration time.Duration
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "Verifier base URL")
	account := flag.String("account", "", "Subject account (default: verifier default, or one per rule with -all)")
	rule := flag.String("rule", "", "Target rule, e.g. rule_901 (default: verifier default)")
	count := flag.Int("count", 0, "Attack transactions (0 = verifier default)")
	all := flag.Bool("all", false, "Run every rule in the catalog")
	timeout := flag.Duration("timeout", 2*time.Minute, "Per-simulation timeout")
	verbose := flag.Bool("verbose", false, "Print every step and alert")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║             OSPREY VERIFY DRILL - Fraud Simulation            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nVerifier:  %s\n", *baseURL)

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: verifier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure the verifier is running:")
		fmt.Println("  VERIFY_MOCK_EMBEDDED=true go run ./cmd/verifier")
		os.Exit(1)
	}
	fmt.Println("✓ Verifier is healthy")

	var requests []SimulationRequest
	if *all {
		for _, r := range allRules {
			acct := *account
			if acct == "" {
				acct = "DRILL_" + strings.ToUpper(strings.TrimPrefix(r, "rule_"))
			}
			requests = append(requests, SimulationRequest{AccountID: acct, Rule: r, AttackCount: *count})
		}
	} else {
		requests = append(requests, SimulationRequest{AccountID: *account, Rule: *rule, AttackCount: *count})
	}

	client := &http.Client{Timeout: *timeout}
	outcomes := make([]Outcome, len(requests))

	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			run, err := simulate(client, *baseURL, req)
			outcomes[i] = Outcome{Rule: req.Rule, Run: run, Err: err, Duration: time.Since(start)}
		}()
	}
	wg.Wait()

	failed := false
	for _, o := range outcomes {
		printOutcome(o, *verbose)
		if o.Err != nil || o.Run.Status == domain.RunError {
			failed = true
		}
	}
	printSummary(outcomes)

	if failed {
		os.Exit(1)
	}
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func simulate(client *http.Client, baseURL string, req SimulationRequest) (*domain.SimulationRun, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/api/test/fraud-simulation", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var run domain.SimulationRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, err
	}
	return &run, nil
}

func printOutcome(o Outcome, verbose bool) {
	label := o.Rule
	if label == "" {
		label = "default rule"
	}
	fmt.Printf("\n── %s ─────────────────────────────────────────────\n", label)
	if o.Err != nil {
		fmt.Printf("   ✗ ERROR: %v\n", o.Err)
		return
	}

	run := o.Run
	fmt.Printf("   Run:      %s\n", run.ID)
	fmt.Printf("   Account:  %s\n", run.AccountID)
	for i, s := range run.Steps {
		mark := "✓"
		if !s.Success {
			mark = "✗"
		}
		fmt.Printf("   %s %d. %-40s %s\n", mark, i+1, s.Name, s.Description)
		if verbose {
			for _, sub := range s.Submissions {
				fmt.Printf("        #%-3d %-22s -> %-22s %s  HTTP %d\n",
					sub.Sequence, sub.DebtorAccount, sub.CreditorAccount, formatAmount(sub.Amount), sub.StatusCode)
			}
		}
	}
	if verbose {
		for _, a := range run.FraudAlerts {
			fmt.Printf("   ⚠ [%s] %s\n", a.RuleID, a.Title)
			if a.RuleDetail != nil {
				fmt.Printf("        %s\n", a.RuleDetail.WhyTriggered)
			}
		}
	}
	if run.Error != "" {
		fmt.Printf("   ✗ %s\n", run.Error)
	}
}

func formatAmount(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return humanize.Comma(d.IntPart())
}

func printSummary(outcomes []Outcome) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        DRILL SUMMARY                          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\n   %-10s %-10s %-11s %-8s %-10s %s\n", "RULE", "STATUS", "FINAL", "ALERTS", "ACCEPTED", "TIME")

	caught := 0
	for _, o := range outcomes {
		rule := o.Rule
		if rule == "" {
			rule = "default"
		}
		if o.Err != nil {
			fmt.Printf("   %-10s %-10s %-11s %-8s %-10s %s\n", rule, "error", "-", "-", "-", o.Duration.Round(time.Millisecond))
			continue
		}

		final, accepted := "-", "-"
		if s := o.Run.Summary; s != nil {
			final = s.FinalStatus
			accepted = fmt.Sprintf("%d/%d", s.AcceptedAttacks, s.TotalAttackTransactions)
		}
		if o.Run.FraudDetected {
			caught++
		}
		fmt.Printf("   %-10s %-10s %-11s %-8d %-10s %s\n",
			rule, o.Run.Status, final, len(o.Run.FraudAlerts), accepted, o.Duration.Round(time.Millisecond))
	}

	fmt.Printf("\n   Detected: %d of %d simulations\n\n", caught, len(outcomes))
}
