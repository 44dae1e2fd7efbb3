// Package worker consumes detection events from the EventBus and keeps
// them per source so the verifier can read structured detections instead
// of scraping logs.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/bus"
	"github.com/opensource-finance/osprey-verify/internal/domain"
)

// DefaultRetention bounds how many events are kept per source.
const DefaultRetention = 1000

// Collector subscribes to detection events and buffers them by source.
type Collector struct {
	bus       domain.EventBus
	retention int

	mu     sync.RWMutex
	events map[string][]domain.DetectionEvent

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
	received      int64
	rejected      int64
}

// NewCollector creates a collector reading from bus.
func NewCollector(eventBus domain.EventBus, retention int) *Collector {
	if retention <= 0 {
		retention = DefaultRetention
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Collector{
		bus:       eventBus,
		retention: retention,
		events:    make(map[string][]domain.DetectionEvent),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the detection topic.
func (c *Collector) Start() error {
	sub, err := c.bus.Subscribe(c.ctx, domain.TopicDetectionEvent, c.handleMessage)
	if err != nil {
		return err
	}
	c.subscriptions = append(c.subscriptions, sub)

	slog.Info("detection collector started", "topic", domain.TopicDetectionEvent)
	return nil
}

func (c *Collector) handleMessage(ctx context.Context, msg *domain.Message) error {
	ev, err := bus.DecodeDetection(msg)
	if err != nil {
		c.mu.Lock()
		c.rejected++
		c.mu.Unlock()
		slog.Error("failed to parse detection event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	c.Record(ev)

	slog.Debug("detection event received",
		"source", ev.Source,
		"rule_id", ev.RuleID,
		"triggered", ev.Triggered,
	)
	return nil
}

// Record stores one event directly, for in-process producers.
func (c *Collector) Record(ev domain.DetectionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf := append(c.events[ev.Source], ev)
	if len(buf) > c.retention {
		buf = buf[len(buf)-c.retention:]
	}
	c.events[ev.Source] = buf
	c.received++
}

// Events returns the events of source at or after since, oldest first.
func (c *Collector) Events(ctx context.Context, source string, since time.Time) ([]domain.DetectionEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []domain.DetectionEvent
	for _, ev := range c.events[source] {
		if !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Stop unsubscribes and stops handling messages.
func (c *Collector) Stop() error {
	c.cancel()

	for _, sub := range c.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	c.subscriptions = nil

	slog.Info("detection collector stopped")
	return nil
}

// Stats reports collector activity.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Sources           []string `json:"sources"`
	Received          int64    `json:"received"`
	Rejected          int64    `json:"rejected"`
}

// GetStats returns current collector statistics.
func (c *Collector) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sources := make([]string, 0, len(c.events))
	for s := range c.events {
		sources = append(sources, s)
	}
	return Stats{
		SubscriptionCount: len(c.subscriptions),
		Sources:           sources,
		Received:          c.received,
		Rejected:          c.rejected,
	}
}
