// Package extract turns detection engine output into deduplicated,
// classified and explained alerts.
//
// Two inputs are supported: raw log text from an uninstrumented engine,
// scraped line by line, and structured detection events. Both run through
// the same noise filter, dedup, classification and explanation steps.
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/opensource-finance/osprey-verify/internal/rules"
)

// messagePattern captures the quoted payload of a rule processor log line.
var messagePattern = regexp.MustCompile(`message:\s*'([^']+)'`)

// SnippetLimit is the maximum length of the log snippet kept on an alert.
const SnippetLimit = 200

// noise lists lifecycle, connection and sub-threshold messages that never
// become alerts. A message containing any of these is dropped.
var noise = []string{
	"End - Handle execute request",
	"EventHistoryDB",
	"Connecting to nats",
	"Connected to nats",
	"Start - Handle execute",
	"Cannot read properties",
	"Outgoing transfer within historical limits",
	"No similar amounts detected",
	"Insufficient transaction history",
	"has performed one transaction",
	"has performed two transactions",
	"has received one transaction",
	"has received two transactions",
}

// IsNoise reports whether msg is detector chatter rather than a finding.
func IsNoise(msg string) bool {
	for _, n := range noise {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

type classification struct {
	ruleID   string
	title    string
	desc     string
	patterns []string
}

// classifications is matched in order; the first hit wins.
var classifications = []classification{
	{
		ruleID:   domain.RuleVelocityDebtor,
		title:    "Velocity Check Failed (Rule 901)",
		desc:     "Debtor performed three or more transactions within one day.",
		patterns: []string{"debtor has performed three or more transactions"},
	},
	{
		ruleID:   domain.RuleVelocityCreditor,
		title:    "Creditor Velocity Limit (Rule 902)",
		desc:     "Creditor received too many transactions from different senders.",
		patterns: []string{"creditor has received three or more transactions"},
	},
	{
		ruleID:   domain.RuleStructuring,
		title:    "Structuring Detected (Rule 006)",
		desc:     "Multiple transactions with similar amounts detected.",
		patterns: []string{"similar amounts", "Two or more similar amounts detected"},
	},
	{
		ruleID:   domain.RuleHighValue,
		title:    "High Value Transaction (Rule 018)",
		desc:     "Transaction amount exceeds the safe limit based on history.",
		patterns: []string{"Amount exceeds", "Exceptionally large outgoing transfer detected"},
	},
}

// DefaultTitle is used for messages that match no classification.
const DefaultTitle = "Suspicious Activity"

// Classify returns the rule id, title and description for a message.
// Unclassified messages get an empty rule id, DefaultTitle and the message itself.
func Classify(msg string) (ruleID, title, desc string) {
	for _, c := range classifications {
		for _, p := range c.patterns {
			if strings.Contains(msg, p) {
				return c.ruleID, c.title, c.desc
			}
		}
	}
	return "", DefaultTitle, msg
}

// Extractor builds alerts against a rule catalog.
type Extractor struct {
	catalog   *rules.Catalog
	explainer *rules.Explainer
}

// New creates an extractor. A nil explainer uses the catalog's fallback text only.
func New(catalog *rules.Catalog, explainer *rules.Explainer) *Extractor {
	return &Extractor{catalog: catalog, explainer: explainer}
}

// Extract scrapes raw log output. Lines without a quoted message payload are
// skipped. Alerts come back in first-seen order of their unique messages;
// when targetRule is set, only alerts classified under it are kept.
func (e *Extractor) Extract(raw string, reqCtx *domain.RequestContext, targetRule string) []domain.Alert {
	target := normalizeTarget(targetRule)
	seen := make(map[string]struct{})
	alerts := []domain.Alert{}

	for _, line := range strings.Split(raw, "\n") {
		m := messagePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		msg := m[1]
		if IsNoise(msg) {
			continue
		}
		if _, dup := seen[msg]; dup {
			continue
		}
		seen[msg] = struct{}{}

		ruleID, title, desc := Classify(msg)
		if target != "" && ruleID != target {
			continue
		}
		alerts = append(alerts, e.alert(ruleID, title, desc, msg, Snippet(line), reqCtx))
	}
	return alerts
}

// ExtractFromLogs runs Extract over a log source response. Error responses yield no alerts.
func (e *Extractor) ExtractFromLogs(resp domain.LogResponse, reqCtx *domain.RequestContext, targetRule string) []domain.Alert {
	if resp.Status != domain.LogStatusSuccess {
		return []domain.Alert{}
	}
	return e.Extract(resp.Logs, reqCtx, targetRule)
}

// FromEvents builds alerts from structured detection events. The rule id
// reported by a triggered event is trusted over message classification.
func (e *Extractor) FromEvents(events []domain.DetectionEvent, reqCtx *domain.RequestContext, targetRule string) []domain.Alert {
	target := normalizeTarget(targetRule)
	seen := make(map[string]struct{})
	alerts := []domain.Alert{}

	for _, ev := range events {
		msg := ev.Message
		if msg == "" || IsNoise(msg) {
			continue
		}
		if _, dup := seen[msg]; dup {
			continue
		}
		seen[msg] = struct{}{}

		ruleID, title, desc := Classify(msg)
		if ev.Triggered && ev.RuleID != "" && ev.RuleID != ruleID {
			if def, ok := e.catalog.Get(ev.RuleID); ok {
				ruleID = def.ID
				title = fmt.Sprintf("%s (Rule %s)", def.Name, def.ID)
				desc = def.TriggerCondition
			}
		}
		if target != "" && ruleID != target {
			continue
		}
		alerts = append(alerts, e.alert(ruleID, title, desc, msg, Snippet(FormatLine(ev)), reqCtx))
	}
	return alerts
}

func (e *Extractor) alert(ruleID, title, desc, msg, snippet string, reqCtx *domain.RequestContext) domain.Alert {
	a := domain.Alert{
		RuleID:         ruleID,
		Title:          title,
		Description:    desc,
		Raw:            msg,
		LogSnippet:     snippet,
		RequestContext: reqCtx,
	}
	if ruleID == "" {
		return a
	}

	def, ok := e.catalog.Get(ruleID)
	if !ok {
		return a
	}
	why := rules.Fallback(def)
	if e.explainer != nil {
		if s := e.explainer.Explain(ruleID, reqCtx); s != "" {
			why = s
		}
	}
	a.RuleDetail = e.catalog.Detail(ruleID, why)
	return a
}

// Snippet trims a line and keeps at most its last SnippetLimit characters.
func Snippet(line string) string {
	s := strings.TrimSpace(line)
	r := []rune(s)
	if len(r) > SnippetLimit {
		return string(r[len(r)-SnippetLimit:])
	}
	return s
}

// FormatLine renders an event in the log line format the text path parses.
// Single quotes in the message are replaced so the payload stays one capture.
func FormatLine(ev domain.DetectionEvent) string {
	level := "info"
	if ev.Triggered {
		level = "warn"
	}
	msg := strings.ReplaceAll(ev.Message, "'", "\"")
	return fmt.Sprintf("%s %s %s message: '%s'", ev.Timestamp.UTC().Format(time.RFC3339Nano), level, ev.Source, msg)
}

func normalizeTarget(target string) string {
	if target == "" {
		return ""
	}
	return domain.NormalizeRuleID(target)
}
