package domain

import (
	"fmt"
	"strings"
)

// Typology names a fraud pattern the verifier knows how to provoke.
type Typology string

const (
	TypologyVelocityDebtor   Typology = "velocity-debtor"
	TypologyVelocityCreditor Typology = "velocity-creditor"
	TypologyStructuring      Typology = "structuring"
	TypologyHighValue        Typology = "high-value"
)

// Rule identifiers of the catalog.
const (
	RuleVelocityDebtor   = "901"
	RuleVelocityCreditor = "902"
	RuleStructuring      = "006"
	RuleHighValue        = "018"
)

var typologyRules = map[Typology]string{
	TypologyVelocityDebtor:   RuleVelocityDebtor,
	TypologyVelocityCreditor: RuleVelocityCreditor,
	TypologyStructuring:      RuleStructuring,
	TypologyHighValue:        RuleHighValue,
}

// Typologies lists every known typology in catalog order.
func Typologies() []Typology {
	return []Typology{
		TypologyVelocityDebtor,
		TypologyVelocityCreditor,
		TypologyStructuring,
		TypologyHighValue,
	}
}

// RuleID returns the rule the typology is meant to trigger.
func (t Typology) RuleID() string {
	return typologyRules[t]
}

// Valid reports whether t is a known typology.
func (t Typology) Valid() bool {
	_, ok := typologyRules[t]
	return ok
}

// TypologyForRule maps a rule id back to its typology.
func TypologyForRule(ruleID string) (Typology, bool) {
	for t, id := range typologyRules {
		if id == ruleID {
			return t, true
		}
	}
	return "", false
}

// ParseTypology accepts "rule_006", "006" or "structuring" style names.
func ParseTypology(s string) (Typology, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if t := Typology(s); t.Valid() {
		return t, nil
	}
	id := strings.TrimPrefix(s, "rule_")
	if t, ok := TypologyForRule(id); ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTypology, s)
}

// NormalizeRuleID turns "rule_006" into "006". Unknown ids are returned as is.
func NormalizeRuleID(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(strings.ToLower(s)), "rule_")
}
