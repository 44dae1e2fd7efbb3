package cache

import (
	"fmt"

	"github.com/opensource-finance/osprey-verify/internal/domain"
)

// New creates a correlation store based on configuration.
func New(cfg domain.CorrelationConfig) (domain.CorrelationStore, error) {
	switch cfg.Type {
	case "", "memory":
		return NewLRUCache(cfg.MaxSize), nil
	case "redis":
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported correlation store type: %s", cfg.Type)
	}
}
