package domain

import (
	"context"
	"time"
)

// CorrelationStore remembers which (message id, end-to-end id) pairs were
// submitted, so a later pacs.002 can be matched to its pacs.008.
// Two implementations: local LRU and Redis.
type CorrelationStore interface {
	// Remember stores the pair for ttl.
	Remember(ctx context.Context, pair Correlation, ttl time.Duration) error

	// Lookup returns the stored pair for a message id.
	// Returns nil, nil if the message id is unknown or expired.
	Lookup(ctx context.Context, messageID string) (*Correlation, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Correlation is the identity of one submitted credit transfer.
type Correlation struct {
	MessageID     string `json:"msgId"`
	EndToEndID    string `json:"endToEndId"`
	DebtorAccount string `json:"dbtrAcctId,omitempty"`
	SubmittedAt   string `json:"submittedAt,omitempty"`
}

// Matches reports whether a confirmation's ids equal the stored pair.
func (c *Correlation) Matches(messageID, endToEndID string) bool {
	return c != nil && c.MessageID == messageID && c.EndToEndID == endToEndID
}

// CorrelationConfig holds configuration for correlation store initialization.
type CorrelationConfig struct {
	// Type is "memory" or "redis".
	Type string `json:"type" mapstructure:"type"`

	// LRU settings
	MaxSize int           `json:"maxSize" mapstructure:"max_size"`
	TTL     time.Duration `json:"ttl" mapstructure:"ttl"`

	RedisAddr     string `json:"redisAddr" mapstructure:"redis_addr"`
	RedisPassword string `json:"redisPassword" mapstructure:"redis_password"`
	RedisDB       int    `json:"redisDb" mapstructure:"redis_db"`
}
