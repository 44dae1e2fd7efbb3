package worker

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/bus"
	"github.com/opensource-finance/osprey-verify/internal/domain"
)

func publishEvent(t *testing.T, b domain.EventBus, ev domain.DetectionEvent) {
	t.Helper()
	if err := bus.PublishDetection(context.Background(), b, ev); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}

func waitForReceived(t *testing.T, c *Collector, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := c.GetStats()
		if s.Received+s.Rejected >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: stats %+v, want %d messages", c.GetStats(), n)
}

func TestCollector(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	collector := NewCollector(eventBus, 10)
	if err := collector.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer collector.Stop()

	if got := collector.GetStats().SubscriptionCount; got != 1 {
		t.Errorf("expected 1 subscription, got %d", got)
	}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	publishEvent(t, eventBus, domain.DetectionEvent{Source: "tazama-rule-901-1", RuleID: "901", Message: "old", Timestamp: base.Add(-time.Minute)})
	publishEvent(t, eventBus, domain.DetectionEvent{Source: "tazama-rule-901-1", RuleID: "901", Message: "new", Triggered: true, Timestamp: base.Add(time.Second)})
	publishEvent(t, eventBus, domain.DetectionEvent{Source: "tazama-rule-006-1", RuleID: "006", Message: "other", Timestamp: base.Add(time.Second)})
	waitForReceived(t, collector, 3)

	t.Run("FiltersBySourceAndTime", func(t *testing.T) {
		evs, err := collector.Events(context.Background(), "tazama-rule-901-1", base)
		if err != nil {
			t.Fatalf("Events failed: %v", err)
		}
		if len(evs) != 1 || evs[0].Message != "new" || !evs[0].Triggered {
			t.Errorf("unexpected events: %+v", evs)
		}
	})

	t.Run("UnknownSource", func(t *testing.T) {
		evs, err := collector.Events(context.Background(), "tazama-rule-018-1", time.Time{})
		if err != nil {
			t.Fatalf("Events failed: %v", err)
		}
		if len(evs) != 0 {
			t.Errorf("expected no events, got %d", len(evs))
		}
	})

	t.Run("RejectsMalformedPayload", func(t *testing.T) {
		before := collector.GetStats()
		eventBus.Publish(context.Background(), domain.TopicDetectionEvent, []byte("not json"))
		waitForReceived(t, collector, before.Received+before.Rejected+1)
		if collector.GetStats().Rejected != before.Rejected+1 {
			t.Error("expected malformed payload to be counted as rejected")
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := collector.Events(ctx, "tazama-rule-901-1", time.Time{}); err == nil {
			t.Error("expected error for cancelled context")
		}
	})
}

func TestCollectorRetention(t *testing.T) {
	collector := NewCollector(bus.NewChannelBus(10), 3)
	for i := 0; i < 5; i++ {
		collector.Record(domain.DetectionEvent{Source: "s", Message: string(rune('a' + i)), Timestamp: time.Unix(int64(i), 0)})
	}

	evs, _ := collector.Events(context.Background(), "s", time.Time{})
	if len(evs) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(evs))
	}
	if evs[0].Message != "c" || evs[2].Message != "e" {
		t.Errorf("expected oldest events dropped, got %+v", evs)
	}
}

func TestCollectorFillsTimestamp(t *testing.T) {
	collector := NewCollector(bus.NewChannelBus(10), 0)
	msg := &domain.Message{ID: "m1", Payload: []byte(`{"source":"s","rule_id":"902"}`), Timestamp: time.Unix(100, 0).UnixNano()}
	if err := collector.handleMessage(context.Background(), msg); err != nil {
		t.Fatalf("handleMessage failed: %v", err)
	}
	evs, _ := collector.Events(context.Background(), "s", time.Unix(99, 0))
	if len(evs) != 1 || !evs[0].Timestamp.Equal(time.Unix(100, 0)) {
		t.Errorf("expected timestamp from envelope, got %+v", evs)
	}
}

func TestCollectorStop(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	collector := NewCollector(eventBus, 0)
	if err := collector.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := collector.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if collector.GetStats().SubscriptionCount != 0 {
		t.Error("expected no subscriptions after stop")
	}
}
