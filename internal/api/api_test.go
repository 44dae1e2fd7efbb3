package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/bus"
	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/opensource-finance/osprey-verify/internal/extract"
	"github.com/opensource-finance/osprey-verify/internal/iso20022"
	"github.com/opensource-finance/osprey-verify/internal/logsource"
	"github.com/opensource-finance/osprey-verify/internal/repository"
	"github.com/opensource-finance/osprey-verify/internal/rules"
	"github.com/opensource-finance/osprey-verify/internal/scenario"
	"github.com/opensource-finance/osprey-verify/internal/simulation"
	"github.com/opensource-finance/osprey-verify/internal/tms"
	"github.com/opensource-finance/osprey-verify/internal/worker"
)

// stubEngine answers like a detection engine: transfers from debtors named
// BLOCKED_* are refused, everything else is accepted.
type stubEngine struct {
	server *httptest.Server
	sent   atomic.Int64
}

func newStubEngine(t *testing.T) *stubEngine {
	t.Helper()
	e := &stubEngine{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "up"})
	})
	mux.HandleFunc("POST /v1/evaluate/iso20022/{messageType}", func(w http.ResponseWriter, r *http.Request) {
		e.sent.Add(1)
		if strings.HasPrefix(r.PathValue("messageType"), "pacs.008") {
			body, _ := io.ReadAll(r.Body)
			msg, err := iso20022.ParsePacs008(body)
			if err == nil && strings.HasPrefix(msg.DebtorAccount(), "BLOCKED_") {
				writeJSON(w, http.StatusNotAcceptable, map[string]any{"statusCode": 406, "message": "blocked"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"statusCode": 200, "message": "Transaction is valid"})
	})
	e.server = httptest.NewServer(mux)
	t.Cleanup(e.server.Close)
	return e
}

type testEnv struct {
	server *Server
	engine *stubEngine
	logs   *logsource.Buffer
}

// createTestServer wires the API to a stub engine and an in-process log buffer.
func createTestServer(t *testing.T) *testEnv {
	t.Helper()

	cfg := domain.DefaultConfig()
	cfg.Simulation.PostBaselineDelay = 0
	cfg.Simulation.PostAttackDelay = 0
	cfg.Simulation.PostDetectDelay = 0
	cfg.Simulation.QuickStatusDelay = 0
	cfg.Simulation.FullTransactionDelay = 0

	engine := newStubEngine(t)
	catalog := rules.DefaultCatalog()

	generator, err := scenario.NewGenerator(catalog, cfg.Scenario)
	if err != nil {
		t.Fatalf("failed to create generator: %v", err)
	}

	history := repository.NewMemoryRepository(0)
	logs := logsource.NewBuffer(200)
	client := tms.NewClient(domain.TMSConfig{BaseURL: engine.server.URL, RequestTimeout: 5 * time.Second, Currency: "XTS", TenantID: "DEFAULT"})

	orch, err := simulation.NewOrchestrator(simulation.Dependencies{
		Transport: client,
		Generator: generator,
		Extractor: extract.New(catalog, rules.NewExplainer(catalog, "XTS")),
		Logs:      logs,
		History:   history,
		Catalog:   catalog,
	}, simulation.Config{
		Simulation: cfg.Simulation,
		LogSource:  cfg.LogSource,
		Currency:   "XTS",
		TenantID:   "DEFAULT",
	}, simulation.WithAccountLocks())
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	server := NewServer(cfg.Server, Dependencies{
		Orchestrator: orch,
		Catalog:      catalog,
		Logs:         logs,
		LogSource:    cfg.LogSource,
		History:      history,
		Engine:       client,
	}, "test-v1")

	return &testEnv{server: server, engine: engine, logs: logs}
}

func (e *testEnv) chatter(source, msg string, triggered bool) {
	e.logs.Append(source, extract.FormatLine(domain.DetectionEvent{
		Source:    source,
		Message:   msg,
		Triggered: triggered,
		Timestamp: time.Now(),
	}))
}

func (e *testEnv) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v: %s", err, rr.Body.String())
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	env := createTestServer(t)

	rr := env.get("/health")
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	resp := decode(t, rr)
	if resp["status"] != "healthy" {
		t.Errorf("expected status healthy, got %v", resp["status"])
	}
	if resp["version"] != "test-v1" {
		t.Errorf("expected version test-v1, got %v", resp["version"])
	}
}

func TestReadyEndpoint(t *testing.T) {
	env := createTestServer(t)

	t.Run("EngineUp", func(t *testing.T) {
		rr := env.get("/ready")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("EngineDown", func(t *testing.T) {
		env.engine.server.Close()

		rr := env.get("/ready")
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestReadyReportsDetections(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()
	collector := worker.NewCollector(eventBus, 10)
	if err := collector.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer collector.Stop()

	ev := domain.DetectionEvent{Source: "tazama-rule-901-1", RuleID: "901", Message: "The debtor has performed three or more transactions to date", Triggered: true}
	if err := bus.PublishDetection(context.Background(), eventBus, ev); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for collector.GetStats().Received == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	server := NewServer(domain.DefaultConfig().Server, Dependencies{Detections: collector}, "test-v1")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	resp := decode(t, rr)
	stats, _ := resp["detection_events"].(map[string]any)
	if stats["received"] != float64(1) {
		t.Errorf("expected 1 received detection, got %v", stats)
	}
	if stats["subscriptionCount"] != float64(1) {
		t.Errorf("expected 1 subscription, got %v", stats["subscriptionCount"])
	}
}

func TestPacs008Endpoint(t *testing.T) {
	env := createTestServer(t)

	t.Run("Form", func(t *testing.T) {
		rr := env.postForm("/api/test/pacs008", url.Values{
			"debtor_account": {"ACC_001"},
			"amount":         {"2500.50"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode(t, rr)
		if resp["status"] != "success" {
			t.Errorf("expected status success, got %v", resp["status"])
		}
		if resp["payload_sent"] == nil {
			t.Error("expected payload_sent in response")
		}
		record, _ := resp["test_record"].(map[string]any)
		if record["type"] != "pacs.008" {
			t.Errorf("expected record type pacs.008, got %v", record["type"])
		}
	})

	t.Run("JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/test/pacs008", strings.NewReader(`{"debtor_account":"BLOCKED_1","amount":100}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		resp := decode(t, rr)
		if resp["status"] != "error" {
			t.Errorf("expected status error for a refused transfer, got %v", resp["status"])
		}
		if resp["http_code"] != float64(http.StatusNotAcceptable) {
			t.Errorf("expected http_code 406, got %v", resp["http_code"])
		}
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		rr := env.postForm("/api/test/pacs008", url.Values{"amount": {"abc"}})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		rr := env.postForm("/api/test/pacs008", url.Values{"amount": {"-5"}})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		resp := decode(t, rr)
		if resp["message"] != "amount: must be greater than 0" {
			t.Errorf("unexpected message %v", resp["message"])
		}
	})
}

func TestQuickStatusEndpoint(t *testing.T) {
	env := createTestServer(t)

	t.Run("InvalidStatus", func(t *testing.T) {
		before := env.engine.sent.Load()
		rr := env.postForm("/api/test/quick-status", url.Values{"status_code": {"PDNG"}})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
		resp := decode(t, rr)
		if resp["message"] != "Invalid status code. Must be one of: ACCC, ACSC, RJCT" {
			t.Errorf("unexpected message %v", resp["message"])
		}
		if env.engine.sent.Load() != before {
			t.Error("expected nothing sent for an invalid status")
		}
	})

	t.Run("Settled", func(t *testing.T) {
		rr := env.postForm("/api/test/quick-status", url.Values{"status_code": {"acsc"}})
		resp := decode(t, rr)
		if resp["status"] != "success" {
			t.Fatalf("expected status success, got %v", resp)
		}
		record, _ := resp["test_record"].(map[string]any)
		if record["type"] != "Quick Test (ACSC)" {
			t.Errorf("expected Quick Test (ACSC), got %v", record["type"])
		}
	})
}

func TestFullTransactionEndpoint(t *testing.T) {
	env := createTestServer(t)

	tests := []struct {
		name    string
		debtor  string
		overall string
	}{
		{"Accepted", "ACC_FULL", "success"},
		{"Refused", "BLOCKED_FULL", "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.postForm("/api/test/full-transaction", url.Values{"debtor_account": {tt.debtor}})
			resp := decode(t, rr)
			if resp["overall_status"] != tt.overall {
				t.Errorf("expected overall_status %s, got %v", tt.overall, resp["overall_status"])
			}
		})
	}
}

func TestVelocityEndpoint(t *testing.T) {
	env := createTestServer(t)
	env.chatter("tazama-rule-901-1", "The debtor has performed three or more transactions to date", true)
	env.chatter("tazama-rule-901-1", "The debtor has performed two transactions to date", false)

	t.Run("Completed", func(t *testing.T) {
		rr := env.postForm("/api/test/velocity", url.Values{
			"debtor_account": {"VEL_1"},
			"debtor_name":    {"Velocity Tester"},
			"count":          {"5"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode(t, rr)
		if resp["status"] != "completed" {
			t.Errorf("expected status completed, got %v", resp["status"])
		}
		if resp["total_sent"] != float64(5) {
			t.Errorf("expected total_sent 5, got %v", resp["total_sent"])
		}
		alerts, _ := resp["fraud_alerts"].([]any)
		if len(alerts) != 1 {
			t.Fatalf("expected 1 alert, got %d", len(alerts))
		}
		if alerts[0].(map[string]any)["rule_id"] != "901" {
			t.Errorf("expected rule 901, got %v", alerts[0])
		}
		summary, _ := resp["request_summary"].(map[string]any)
		if summary["scenario"] != VelocityScenarioLabel {
			t.Errorf("expected scenario label, got %v", summary["scenario"])
		}
	})

	tests := []struct {
		name    string
		form    url.Values
		message string
	}{
		{"MissingName", url.Values{"debtor_account": {"VEL_2"}}, "debtor_name: is required"},
		{"TooMany", url.Values{"debtor_account": {"VEL_2"}, "debtor_name": {"x"}, "count": {"101"}}, "count: must be at most 100"},
		{"BelowMinimum", url.Values{"debtor_account": {"VEL_2"}, "debtor_name": {"x"}, "count": {"2"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.postForm("/api/test/velocity", tt.form)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
			resp := decode(t, rr)
			if resp["status"] != "error" {
				t.Errorf("expected status error, got %v", resp["status"])
			}
			if tt.message != "" && resp["message"] != tt.message {
				t.Errorf("expected message %q, got %v", tt.message, resp["message"])
			}
		})
	}
}

func TestVelocityCreditorEndpoint(t *testing.T) {
	env := createTestServer(t)

	rr := env.postForm("/api/test/velocity-creditor", url.Values{
		"creditor_account": {"MULE_1"},
		"creditor_name":    {"Mule"},
		"count":            {"3"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	resp := decode(t, rr)
	results, _ := resp["results"].([]any)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if r.(map[string]any)["creditor"] != "MULE_1" {
			t.Errorf("expected fixed creditor, got %v", r)
		}
	}
	summary, _ := resp["request_summary"].(map[string]any)
	if summary["scenario"] != MoneyMuleScenarioLabel {
		t.Errorf("expected money mule label, got %v", summary["scenario"])
	}
}

func TestAttackScenarioEndpoint(t *testing.T) {
	env := createTestServer(t)
	env.chatter("tazama-rule-006-1", "Two or more similar amounts detected: 5 recent transactions within tolerance", true)
	env.chatter("tazama-rule-006-1", "Some unrelated warning", true)

	t.Run("DefaultCount", func(t *testing.T) {
		rr := env.postForm("/api/test/attack-scenario", url.Values{"scenario": {"rule_018"}})
		resp := decode(t, rr)
		if resp["total_sent"] != float64(6) {
			t.Errorf("expected total_sent 6 for rule_018, got %v", resp["total_sent"])
		}
	})

	t.Run("FilteredToTarget", func(t *testing.T) {
		rr := env.postForm("/api/test/attack-scenario", url.Values{"scenario": {"rule_006"}})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decode(t, rr)
		if resp["total_sent"] != float64(5) {
			t.Errorf("expected total_sent 5, got %v", resp["total_sent"])
		}
		alerts, _ := resp["fraud_alerts"].([]any)
		if len(alerts) != 1 {
			t.Fatalf("expected only the rule 006 alert, got %d", len(alerts))
		}
	})

	t.Run("History", func(t *testing.T) {
		report := decode(t, env.postForm("/api/test/attack-scenario", url.Values{"scenario": {"rule_006"}}))
		reportID, _ := report["id"].(string)
		if reportID == "" {
			t.Fatal("expected a report id")
		}

		resp := decode(t, env.get("/api/test/history?limit=100"))
		history, _ := resp["history"].([]any)
		transfers, confirmations := 0, 0
		for _, h := range history {
			rec := h.(map[string]any)
			if rec["run_id"] != reportID {
				continue
			}
			typ, _ := rec["type"].(string)
			switch {
			case strings.HasPrefix(typ, "Scenario rule_006 ("):
				transfers++
			case typ == "pacs.002 (ACCC)":
				confirmations++
			default:
				t.Errorf("unexpected history type %q for the scenario", typ)
			}
		}
		if transfers != 5 || confirmations != 5 {
			t.Errorf("expected 5 transfers and 5 confirmations, got %d and %d", transfers, confirmations)
		}
	})

	t.Run("UnreadableOutput", func(t *testing.T) {
		rr := env.postForm("/api/test/attack-scenario", url.Values{"scenario": {"rule_902"}})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decode(t, rr)
		if resp["status"] != "partial" {
			t.Errorf("expected partial status, got %v", resp["status"])
		}
		if msg, _ := resp["detection_error"].(string); !strings.Contains(msg, "tazama-rule-902-1") {
			t.Errorf("expected detection error naming the source, got %q", msg)
		}
	})

	t.Run("UnknownScenario", func(t *testing.T) {
		rr := env.postForm("/api/test/attack-scenario", url.Values{"scenario": {"rule_999"}})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestFraudSimulationEndpoint(t *testing.T) {
	env := createTestServer(t)
	env.chatter("tazama-rule-006-1", "Two or more similar amounts detected: 5 recent transactions within tolerance", true)

	var runID string
	t.Run("Defaults", func(t *testing.T) {
		rr := env.postForm("/api/test/fraud-simulation", url.Values{})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode(t, rr)
		if resp["overall_status"] != "completed" {
			t.Errorf("expected overall_status completed, got %v", resp["overall_status"])
		}
		if resp["account_id"] != "FRAUD_SIM_001" {
			t.Errorf("expected default account, got %v", resp["account_id"])
		}
		steps, _ := resp["steps"].([]any)
		if len(steps) != 5 {
			t.Errorf("expected 5 steps, got %d", len(steps))
		}
		summary, _ := resp["summary"].(map[string]any)
		if summary["final_status"] != domain.FinalBlocked {
			t.Errorf("expected BLOCKED, got %v", summary["final_status"])
		}
		runID, _ = resp["run_id"].(string)
	})

	t.Run("GetRun", func(t *testing.T) {
		rr := env.get("/api/test/runs/" + runID)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if resp := decode(t, rr); resp["run_id"] != runID {
			t.Errorf("expected run %s, got %v", runID, resp["run_id"])
		}
	})

	t.Run("RunNotFound", func(t *testing.T) {
		rr := env.get("/api/test/runs/missing")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	tests := []struct {
		name string
		form url.Values
	}{
		{"UnknownRule", url.Values{"rule": {"rule_123"}}},
		{"BelowMinimum", url.Values{"rule": {"rule_018"}, "attack_count": {"3"}}},
		{"AboveMaximum", url.Values{"attack_count": {"21"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := env.engine.sent.Load()
			rr := env.postForm("/api/test/fraud-simulation", tt.form)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rr.Code)
			}
			if env.engine.sent.Load() != before {
				t.Error("expected nothing sent for an invalid request")
			}
		})
	}
}

func TestRulesEndpoint(t *testing.T) {
	env := createTestServer(t)

	resp := decode(t, env.get("/api/test/rules"))
	if resp["count"] != float64(4) {
		t.Errorf("expected 4 rules, got %v", resp["count"])
	}
}

func TestLogsEndpoint(t *testing.T) {
	env := createTestServer(t)
	env.chatter("tazama-rule-902-1", "The creditor has received three or more transactions to date", true)

	t.Run("Success", func(t *testing.T) {
		resp := decode(t, env.get("/api/test/logs/tazama-rule-902-1?tail=10"))
		if resp["status"] != domain.LogStatusSuccess {
			t.Errorf("expected success, got %v", resp["status"])
		}
	})

	t.Run("UnknownSource", func(t *testing.T) {
		resp := decode(t, env.get("/api/test/logs/tazama-rule-999-1"))
		if resp["status"] != domain.LogStatusError {
			t.Errorf("expected error, got %v", resp["status"])
		}
	})

	t.Run("InvalidName", func(t *testing.T) {
		rr := env.get("/api/test/logs/postgres")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidTail", func(t *testing.T) {
		rr := env.get("/api/test/logs/tazama-rule-902-1?tail=-1")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestCORSPreflight(t *testing.T) {
	env := createTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/test/pacs008", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("expected origin echoed, got %q", got)
	}
}
