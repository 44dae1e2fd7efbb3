package domain

// RuleDefinition is the static description of one catalog rule.
type RuleDefinition struct {
	ID               string             `json:"rule_id"`
	Name             string             `json:"rule_name"`
	TriggerCondition string             `json:"trigger_condition"`
	Config           map[string]float64 `json:"config"`
	Recommendation   string             `json:"recommendation"`

	// Expression is the CEL predicate the detector stand-in evaluates.
	// It sees the detector features plus the Config map as "params".
	Expression string `json:"expression,omitempty"`
}

// Param returns a config value, or def when absent.
func (r *RuleDefinition) Param(key string, def float64) float64 {
	if r == nil {
		return def
	}
	if v, ok := r.Config[key]; ok {
		return v
	}
	return def
}

// Rule config keys.
const (
	ParamThreshold     = "threshold"
	ParamMaxQueryRange = "maxQueryRange" // milliseconds
	ParamMaxQueryLimit = "maxQueryLimit"
	ParamTolerance     = "tolerance"
	ParamLowerLimit    = "lowerLimit"
	ParamMultiplier    = "multiplier"
	ParamMinHistory    = "minHistory"
)

// RuleDetail is attached to each classified alert.
type RuleDetail struct {
	RuleID           string             `json:"rule_id"`
	RuleName         string             `json:"rule_name"`
	TriggerCondition string             `json:"trigger_condition"`
	WhyTriggered     string             `json:"why_triggered"`
	Config           map[string]float64 `json:"config,omitempty"`
	Recommendation   string             `json:"recommendation"`
}
