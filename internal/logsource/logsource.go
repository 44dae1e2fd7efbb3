// Package logsource fetches recent output of detection engine components:
// over HTTP from the stand-in, from docker containers, or from an
// in-process ring buffer.
package logsource

import (
	"context"
	"fmt"

	"github.com/opensource-finance/osprey-verify/internal/domain"
)

// New creates the log source selected by configuration.
func New(cfg domain.LogSourceConfig) (domain.LogSource, error) {
	switch cfg.Type {
	case "", "http":
		return NewHTTPSource(cfg.URL), nil
	case "docker":
		return NewDockerSource(cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unsupported log source type: %s", cfg.Type)
	}
}

// SourceName returns the component name holding a rule's output.
func SourceName(cfg domain.LogSourceConfig, ruleID string) string {
	return cfg.Prefix + domain.NormalizeRuleID(ruleID) + cfg.Suffix
}

// Fetch calls src and folds a transport error into an error response, so
// callers that only care about lines can treat the result uniformly.
func Fetch(ctx context.Context, src domain.LogSource, source string, tail int) domain.LogResponse {
	resp, err := src.Fetch(ctx, source, tail)
	if err != nil {
		return domain.LogResponse{Status: domain.LogStatusError, Message: err.Error()}
	}
	return resp
}
