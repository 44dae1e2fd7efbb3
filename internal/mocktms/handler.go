// Package mocktms is an HTTP stand-in for a transaction monitoring service.
// It evaluates pacs.008 messages through the rule processor stand-in and the
// velocity gate, acknowledges pacs.002 reports and serves each rule
// processor's output on /logs.
package mocktms

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/osprey-verify/internal/bus"
	"github.com/opensource-finance/osprey-verify/internal/cache"
	"github.com/opensource-finance/osprey-verify/internal/detector"
	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/opensource-finance/osprey-verify/internal/extract"
	"github.com/opensource-finance/osprey-verify/internal/iso20022"
	"github.com/opensource-finance/osprey-verify/internal/logsource"
	"github.com/opensource-finance/osprey-verify/internal/metrics"
	"github.com/opensource-finance/osprey-verify/internal/rules"
	"github.com/opensource-finance/osprey-verify/internal/tadp"
	"github.com/opensource-finance/osprey-verify/internal/velocity"
	"github.com/shopspring/decimal"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "Osprey Verify Mock TMS"

// DefaultLogTail is used when /logs is called without tail.
const DefaultLogTail = 100

const maxBodyBytes = 1 << 20

// Handler holds dependencies for the stand-in's handlers.
type Handler struct {
	detector    *detector.Detector
	gate        *velocity.Evaluator
	processor   *tadp.Processor
	correlation domain.CorrelationStore
	logs        *logsource.Buffer
	bus         domain.EventBus

	sources        domain.LogSourceConfig
	correlationTTL time.Duration
	publish        bool
	clock          func() time.Time

	closers []func() error
}

// Dependencies are the collaborators of a Handler. Correlation and Bus are optional.
type Dependencies struct {
	Detector    *detector.Detector
	Gate        *velocity.Evaluator
	Processor   *tadp.Processor
	Correlation domain.CorrelationStore
	Logs        *logsource.Buffer
	Bus         domain.EventBus
	Clock       func() time.Time
}

// NewHandler creates a handler. Sources names each rule processor's log
// stream; detection events are published on Bus when publish is set.
func NewHandler(deps Dependencies, sources domain.LogSourceConfig, correlationTTL time.Duration, publish bool) *Handler {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Handler{
		detector:       deps.Detector,
		gate:           deps.Gate,
		processor:      deps.Processor,
		correlation:    deps.Correlation,
		logs:           deps.Logs,
		bus:            deps.Bus,
		sources:        sources,
		correlationTTL: correlationTTL,
		publish:        publish && deps.Bus != nil,
		clock:          clock,
	}
}

// NewFromConfig wires a handler from configuration: the default rule
// catalog, the configured velocity store and correlation store, and a log
// buffer. eventBus may be nil.
func NewFromConfig(cfg *domain.Config, eventBus domain.EventBus) (*Handler, error) {
	det, err := detector.New(rules.DefaultCatalog())
	if err != nil {
		return nil, err
	}

	store, err := velocity.New(cfg.Velocity)
	if err != nil {
		return nil, err
	}

	corr, err := cache.New(cfg.Mock.Correlation)
	if err != nil {
		store.Close()
		return nil, err
	}

	h := NewHandler(Dependencies{
		Detector:    det,
		Gate:        velocity.NewEvaluator(store, cfg.Velocity),
		Processor:   tadp.NewProcessor(decimal.NewFromFloat(cfg.Mock.HighValueFlag)),
		Correlation: corr,
		Logs:        logsource.NewBuffer(cfg.Mock.LogBufferLines),
		Bus:         eventBus,
	}, cfg.LogSource, cfg.Mock.Correlation.TTL, cfg.Mock.PublishEvents)
	h.closers = []func() error{store.Close, corr.Close}
	return h, nil
}

// Logs returns the buffer holding rule processor output.
func (h *Handler) Logs() *logsource.Buffer {
	return h.logs
}

// Close releases the stores built by NewFromConfig.
func (h *Handler) Close() error {
	var errs []error
	for _, c := range h.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Health handles GET /.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "up",
		"service":      ServiceName,
		"rules_loaded": h.detector.RulesLoaded(),
	})
}

// Evaluate handles POST /v1/evaluate/iso20022/{messageType}.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	messageType := chi.URLParam(r, "messageType")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"statusCode": http.StatusBadRequest,
			"message":    "unreadable request body",
		})
		return
	}

	switch {
	case strings.HasPrefix(messageType, "pacs.008"):
		h.evaluateTransfer(w, r.Context(), body)
	case strings.HasPrefix(messageType, "pacs.002"):
		h.acknowledgeStatus(w, r.Context(), body)
	case strings.HasPrefix(messageType, "pain.001"), strings.HasPrefix(messageType, "pain.013"):
		metrics.RecordVerdict(messageType, "accepted")
		writeJSON(w, http.StatusOK, &tadp.Decision{StatusCode: http.StatusOK, Message: tadp.MessageValid})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{
			"statusCode": http.StatusNotFound,
			"message":    "unsupported message type: " + messageType,
		})
	}
}

func (h *Handler) evaluateTransfer(w http.ResponseWriter, ctx context.Context, body []byte) {
	start := time.Now()

	msg, err := iso20022.ParsePacs008(body)
	if err != nil {
		slog.Warn("pacs.008 parse failed, accepting", "error", err)
		d := h.processor.Process(ctx, &tadp.DecisionInput{ParseErr: err, StartTime: start})
		metrics.RecordVerdict(iso20022.MessageTypePacs008, "parse_warning")
		writeJSON(w, d.StatusCode, d)
		return
	}

	now := h.clock().UTC()
	debtor := msg.DebtorAccount()
	amount := msg.Amount()

	h.remember(ctx, msg, now)

	res := h.detector.Observe(ctx, detector.Observation{
		MessageID:  msg.MessageID(),
		EndToEndID: msg.EndToEndID(),
		Debtor:     debtor,
		Creditor:   msg.CreditorAccount(),
		Amount:     amount,
		At:         now,
	})
	h.emit(ctx, res)

	var verdict *domain.Verdict
	v, err := h.gate.Evaluate(ctx, debtor, now)
	if err != nil {
		// out of order or store failure: the gate is skipped, never the message
		slog.Warn("velocity gate skipped", "account_id", debtor, "error", err)
	} else {
		verdict = &v
	}

	d := h.processor.Process(ctx, &tadp.DecisionInput{
		Verdict:   verdict,
		Findings:  res.Findings,
		Amount:    amount,
		Body:      body,
		StartTime: start,
	})
	metrics.RecordVerdict(iso20022.MessageTypePacs008, outcome(d))

	slog.Info("transfer evaluated",
		"message_id", msg.MessageID(),
		"account_id", debtor,
		"amount", amount.String(),
		"status_code", d.StatusCode,
		"triggered", d.TriggeredRules,
	)
	writeJSON(w, d.StatusCode, d)
}

func (h *Handler) remember(ctx context.Context, msg *iso20022.Pacs008, now time.Time) {
	if h.correlation == nil {
		return
	}
	pair := domain.Correlation{
		MessageID:     msg.MessageID(),
		EndToEndID:    msg.EndToEndID(),
		DebtorAccount: msg.DebtorAccount(),
		SubmittedAt:   now.Format(time.RFC3339Nano),
	}
	if err := h.correlation.Remember(ctx, pair, h.correlationTTL); err != nil {
		slog.Warn("failed to remember correlation", "message_id", pair.MessageID, "error", err)
	}
}

// emit writes every finding to its processor's log stream, wrapped in the
// lifecycle lines a processor prints per request, and publishes it.
func (h *Handler) emit(ctx context.Context, res detector.Result) {
	obs := res.Observation
	for _, f := range res.Findings {
		metrics.RecordFinding(f.RuleID, f.Triggered)

		source := logsource.SourceName(h.sources, f.RuleID)
		ev := domain.DetectionEvent{
			ID:            uuid.NewString(),
			Source:        source,
			RuleID:        f.RuleID,
			Message:       f.Message,
			Triggered:     f.Triggered,
			MessageID:     obs.MessageID,
			EndToEndID:    obs.EndToEndID,
			DebtorAccount: obs.Debtor,
			Timestamp:     obs.At,
		}

		h.logs.Append(source, extract.FormatLine(domain.DetectionEvent{Source: source, Message: "Start - Handle execute request", Timestamp: obs.At}))
		h.logs.Append(source, extract.FormatLine(ev))
		h.logs.Append(source, extract.FormatLine(domain.DetectionEvent{Source: source, Message: "End - Handle execute request", Timestamp: obs.At}))

		if !h.publish {
			continue
		}
		if err := bus.PublishDetection(ctx, h.bus, ev); err != nil {
			slog.Warn("failed to publish detection event", "source", source, "error", err)
		}
	}
}

func (h *Handler) acknowledgeStatus(w http.ResponseWriter, ctx context.Context, body []byte) {
	correlated := false

	msg, err := iso20022.ParsePacs002(body)
	switch {
	case err != nil:
		slog.Warn("pacs.002 parse failed, accepting", "error", err)
	case h.correlation != nil:
		pair, lookupErr := h.correlation.Lookup(ctx, msg.OriginalMessageID())
		if lookupErr != nil {
			slog.Warn("correlation lookup failed", "message_id", msg.OriginalMessageID(), "error", lookupErr)
		}
		correlated = pair.Matches(msg.OriginalMessageID(), msg.OriginalEndToEndID())
		slog.Info("status report received",
			"message_id", msg.OriginalMessageID(),
			"status", msg.Status(),
			"correlated", correlated,
		)
	}

	metrics.RecordVerdict(iso20022.MessageTypePacs002, "accepted")
	writeJSON(w, http.StatusOK, tadp.Acknowledge(correlated))
}

// Logs handles GET /logs/{source}?tail=N.
func (h *Handler) FetchLogs(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	tail := DefaultLogTail
	if s := r.URL.Query().Get("tail"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, domain.LogResponse{
				Status:  domain.LogStatusError,
				Message: "tail must be a non-negative integer",
			})
			return
		}
		tail = n
	}

	resp, _ := h.logs.Fetch(r.Context(), source, tail)
	status := http.StatusOK
	if resp.Status != domain.LogStatusSuccess {
		status = http.StatusNotFound
	}
	writeJSON(w, status, resp)
}

// Reset handles POST /admin/reset: forgets rule processor history and output.
// Velocity windows and correlations expire on their own.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.detector.Reset()
	h.logs.Reset()
	slog.Info("stand-in state reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func outcome(d *tadp.Decision) string {
	switch {
	case tadp.ShouldReject(d):
		return "rejected"
	case d.Status == domain.StatusAcceptedPending:
		return "flagged"
	case d.Message == tadp.MessageParseWarning:
		return "parse_warning"
	default:
		return "accepted"
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
