package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/opensource-finance/osprey-verify/internal/logsource"
	"github.com/opensource-finance/osprey-verify/internal/rules"
	"github.com/opensource-finance/osprey-verify/internal/simulation"
	"github.com/opensource-finance/osprey-verify/internal/worker"
	"github.com/shopspring/decimal"
)

// Defaults applied by the scenario endpoints when a field is omitted.
const (
	DefaultScenarioCount   = 20
	DefaultAttackCount     = 5
	DefaultMuleAmount      = 500_000
	VelocityScenarioLabel  = "Rule 901 - Velocity Attack"
	MoneyMuleScenarioLabel = "Rule 902 - Money Mule"
)

const (
	defaultHistoryLimit  = 100
	defaultLogTail       = 100
	velocityHistoryType  = "pacs.008 (Velocity)"
	moneyMuleHistoryType = "pacs.008 (Money Mule)"
	statusSuccess        = "success"
	statusError          = "error"
)

// EngineProbe checks that the detection engine answers.
type EngineProbe interface {
	Health(ctx context.Context) error
}

// Dependencies are the collaborators of the verification API.
// Engine is optional; without it /ready reports ready. Detections is set
// in events mode and adds the collector's counters to /ready.
type Dependencies struct {
	Orchestrator *simulation.Orchestrator
	Catalog      *rules.Catalog
	Logs         domain.LogSource
	LogSource    domain.LogSourceConfig
	History      domain.HistoryRepository
	Engine       EngineProbe
	Detections   *worker.Collector
}

// Handler holds dependencies for API handlers.
type Handler struct {
	orch      *simulation.Orchestrator
	catalog   *rules.Catalog
	logs      domain.LogSource
	logSource domain.LogSourceConfig
	history   domain.HistoryRepository
	engine    EngineProbe
	detect    *worker.Collector
	validate  *validator.Validate
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies, version string) *Handler {
	return &Handler{
		orch:      deps.Orchestrator,
		catalog:   deps.Catalog,
		logs:      deps.Logs,
		logSource: deps.LogSource,
		history:   deps.History,
		engine:    deps.Engine,
		detect:    deps.Detections,
		validate:  newValidator(),
		version:   version,
	}
}

// TransactionForm is the body of the single-transaction endpoints.
type TransactionForm struct {
	DebtorAccount   string   `form:"debtor_account" validate:"omitempty,max=64"`
	DebtorName      string   `form:"debtor_name" validate:"omitempty,max=140"`
	CreditorAccount string   `form:"creditor_account" validate:"omitempty,max=64"`
	CreditorName    string   `form:"creditor_name" validate:"omitempty,max=140"`
	Amount          *float64 `form:"amount" validate:"omitempty,gt=0"`
}

func (f TransactionForm) request() simulation.TransactionRequest {
	req := simulation.TransactionRequest{
		DebtorAccount:   f.DebtorAccount,
		DebtorName:      f.DebtorName,
		CreditorAccount: f.CreditorAccount,
		CreditorName:    f.CreditorName,
	}
	if f.Amount != nil {
		req.Amount = decimal.NewFromFloat(*f.Amount)
	}
	return req
}

// QuickStatusForm adds the confirmation status to a transaction.
type QuickStatusForm struct {
	TransactionForm `form:",squash"`
	StatusCode      string `form:"status_code"`
}

// VelocityForm is the body of POST /api/test/velocity.
type VelocityForm struct {
	DebtorAccount string `form:"debtor_account" validate:"required,max=64"`
	DebtorName    string `form:"debtor_name" validate:"required,max=140"`
	Count         *int   `form:"count" validate:"omitempty,min=1,max=100"`
}

// VelocityCreditorForm is the body of POST /api/test/velocity-creditor.
type VelocityCreditorForm struct {
	CreditorAccount string   `form:"creditor_account" validate:"required,max=64"`
	CreditorName    string   `form:"creditor_name" validate:"required,max=140"`
	Count           *int     `form:"count" validate:"omitempty,min=1,max=100"`
	Amount          *float64 `form:"amount" validate:"omitempty,gt=0"`
}

// AttackScenarioForm is the body of POST /api/test/attack-scenario.
type AttackScenarioForm struct {
	Scenario string   `form:"scenario" validate:"required"`
	Count    *int     `form:"count" validate:"omitempty,min=1,max=50"`
	Amount   *float64 `form:"amount" validate:"omitempty,gt=0"`
}

// FraudSimulationForm is the body of POST /api/test/fraud-simulation.
// Bounds on attack_count depend on the rule and are checked by the orchestrator.
type FraudSimulationForm struct {
	AccountID   string `form:"account_id" validate:"omitempty,max=64"`
	Rule        string `form:"rule"`
	AttackCount *int   `form:"attack_count" validate:"omitempty,min=1"`
}

// SendPacs008 handles POST /api/test/pacs008.
func (h *Handler) SendPacs008(w http.ResponseWriter, r *http.Request) {
	var form TransactionForm
	if err := h.bind(r, &form); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.orch.SendTransaction(r.Context(), form.request()))
}

// QuickStatus handles POST /api/test/quick-status.
func (h *Handler) QuickStatus(w http.ResponseWriter, r *http.Request) {
	var form QuickStatusForm
	if err := h.bind(r, &form); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.orch.QuickStatus(r.Context(), form.request(), strings.ToUpper(form.StatusCode))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// FullTransaction handles POST /api/test/full-transaction.
func (h *Handler) FullTransaction(w http.ResponseWriter, r *http.Request) {
	var form TransactionForm
	if err := h.bind(r, &form); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.orch.FullTransaction(r.Context(), form.request()))
}

// Velocity handles POST /api/test/velocity: many transfers from one debtor.
func (h *Handler) Velocity(w http.ResponseWriter, r *http.Request) {
	var form VelocityForm
	if err := h.bind(r, &form); err != nil {
		writeError(w, err)
		return
	}

	h.runScenario(w, r, simulation.ScenarioRequest{
		Typology: domain.TypologyVelocityDebtor,
		Count:    intOr(form.Count, DefaultScenarioCount),
		Seeds: domain.SeedIdentifiers{
			DebtorAccount: form.DebtorAccount,
			DebtorName:    form.DebtorName,
		},
		Label:       VelocityScenarioLabel,
		HistoryType: fixedType(velocityHistoryType),
	})
}

// VelocityCreditor handles POST /api/test/velocity-creditor: many debtors
// paying one creditor.
func (h *Handler) VelocityCreditor(w http.ResponseWriter, r *http.Request) {
	var form VelocityCreditorForm
	if err := h.bind(r, &form); err != nil {
		writeError(w, err)
		return
	}

	amount := decimal.NewFromInt(DefaultMuleAmount)
	if form.Amount != nil {
		amount = decimal.NewFromFloat(*form.Amount)
	}

	h.runScenario(w, r, simulation.ScenarioRequest{
		Typology: domain.TypologyVelocityCreditor,
		Count:    intOr(form.Count, DefaultScenarioCount),
		Amount:   amount,
		Seeds: domain.SeedIdentifiers{
			CreditorAccount: form.CreditorAccount,
			CreditorName:    form.CreditorName,
		},
		Label:       MoneyMuleScenarioLabel,
		HistoryType: fixedType(moneyMuleHistoryType),
	})
}

// AttackScenario handles POST /api/test/attack-scenario. Only alerts of the
// scenario's own rule are reported.
func (h *Handler) AttackScenario(w http.ResponseWriter, r *http.Request) {
	var form AttackScenarioForm
	if err := h.bind(r, &form); err != nil {
		writeError(w, err)
		return
	}

	t, err := domain.ParseTypology(form.Scenario)
	if err != nil {
		writeError(w, domain.NewValidationError("scenario", "must be one of: rule_901, rule_902, rule_006, rule_018", err))
		return
	}

	count := DefaultAttackCount
	if form.Count != nil {
		count = *form.Count
	} else if minimum, err := h.orch.MinimumCount(t); err == nil && minimum > count {
		count = minimum
	}

	req := simulation.ScenarioRequest{
		Typology:     t,
		Count:        count,
		Seeds:        domain.SeedIdentifiers{DebtorName: simulation.ScenarioDebtorName},
		Label:        form.Scenario,
		HistoryType:  simulation.ScenarioHistoryType(form.Scenario),
		FilterTarget: true,
	}
	if form.Amount != nil {
		req.Amount = decimal.NewFromFloat(*form.Amount)
	}
	h.runScenario(w, r, req)
}

func (h *Handler) runScenario(w http.ResponseWriter, r *http.Request, req simulation.ScenarioRequest) {
	report, err := h.orch.RunScenario(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("scenario completed",
		"report_id", report.ID,
		"typology", req.Typology,
		"status", report.Status,
		"total_sent", report.TotalSent,
		"alerts", len(report.FraudAlerts),
	)
	writeJSON(w, http.StatusOK, report)
}

// FraudSimulation handles POST /api/test/fraud-simulation.
func (h *Handler) FraudSimulation(w http.ResponseWriter, r *http.Request) {
	var form FraudSimulationForm
	if err := h.bind(r, &form); err != nil {
		writeError(w, err)
		return
	}

	run, err := h.orch.Run(r.Context(), simulation.SimulationRequest{
		AccountID:   form.AccountID,
		Rule:        form.Rule,
		AttackCount: intOr(form.AttackCount, 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetRun handles GET /api/test/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.orch.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// History handles GET /api/test/history?limit=N.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := h.orch.History(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []*domain.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  statusSuccess,
		"count":   len(records),
		"history": records,
	})
}

// ListRules handles GET /api/test/rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	defs := h.catalog.All()
	details := make([]*domain.RuleDetail, 0, len(defs))
	for _, def := range defs {
		details = append(details, h.catalog.Detail(def.ID, ""))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": statusSuccess,
		"count":  len(details),
		"rules":  details,
	})
}

// FetchLogs handles GET /api/test/logs/{source}?tail=N. Only sources named
// with the configured prefix are served.
func (h *Handler) FetchLogs(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if !strings.HasPrefix(source, h.logSource.Prefix) {
		writeError(w, domain.NewValidationError("source", "Invalid container name", nil))
		return
	}

	tail, err := queryInt(r, "tail", defaultLogTail)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logsource.Fetch(r.Context(), h.logs, source, tail))
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.history != nil {
		if err := h.history.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the detection engine under test answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine != nil {
		if err := h.engine.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": err.Error(),
			})
			return
		}
	}
	resp := map[string]any{"ready": "true"}
	if h.detect != nil {
		resp["detection_events"] = h.detect.GetStats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	default:
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{
		"status":  statusError,
		"message": err.Error(),
	})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, domain.NewValidationError(key, "must be a non-negative integer", nil)
	}
	return n, nil
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func fixedType(name string) func(domain.TransactionSpec) string {
	return func(domain.TransactionSpec) string { return name }
}
