package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/domain"
)

// ErrMalformedEvent is returned when a detection payload does not decode.
var ErrMalformedEvent = errors.New("malformed detection event")

// PublishDetection publishes ev on the detection topic.
func PublishDetection(ctx context.Context, b domain.EventBus, ev domain.DetectionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode detection event: %w", err)
	}
	return b.Publish(ctx, domain.TopicDetectionEvent, payload)
}

// DecodeDetection reads a detection event out of a bus message. Events
// published without a timestamp take the envelope's.
func DecodeDetection(msg *domain.Message) (domain.DetectionEvent, error) {
	var ev domain.DetectionEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ev, fmt.Errorf("%w: message %s: %v", ErrMalformedEvent, msg.ID, err)
	}
	if ev.Source == "" {
		return ev, fmt.Errorf("%w: message %s has no source", ErrMalformedEvent, msg.ID)
	}
	if ev.Timestamp.IsZero() && msg.Timestamp > 0 {
		ev.Timestamp = time.Unix(0, msg.Timestamp).UTC()
	}
	return ev, nil
}
