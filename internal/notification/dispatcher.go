package notification

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/civicplus/civicplus-backend/pkg/metrics"
)

// channelPrefix namespaces the per-user Redis Pub/Sub channels.
const channelPrefix = "notify:user:"

// Dispatcher delivers events to the reporters of affected reports. With a
// Redis client it publishes through Pub/Sub so every API instance's local
// listeners are reached; without one it delivers to the local registry only.
// Either way delivery is best effort: no persistence, no retry.
type Dispatcher struct {
	registry *Registry
	rdb      *redis.Client
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewDispatcher creates a new dispatcher. rdb may be nil for single-instance
// deployments.
func NewDispatcher(registry *Registry, rdb *redis.Client, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, rdb: rdb, metrics: m, logger: logger}
}

// Publish addresses one event to a user's implicit channel. Events for the
// same report are published in order; listeners receive them in that order.
func (d *Dispatcher) Publish(ctx context.Context, userID string, event Event) {
	if d.rdb != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			d.logger.Error("failed to encode event", zap.Error(err))
			return
		}
		if err := d.rdb.Publish(ctx, channelPrefix+userID, payload).Err(); err != nil {
			d.logger.Warn("redis publish failed, delivering locally",
				zap.String("user_id", userID), zap.Error(err))
			d.deliverLocal(userID, event)
		}
		return
	}

	d.deliverLocal(userID, event)
}

func (d *Dispatcher) deliverLocal(userID string, event Event) {
	delivered, dropped := d.registry.deliver(userID, event)
	if d.metrics != nil {
		d.metrics.NotificationsDelivered.Add(float64(delivered))
		d.metrics.NotificationsDropped.Add(float64(dropped))
	}
	if delivered == 0 {
		// No active session for this user; the event is dropped.
		d.logger.Debug("event dropped, no listener",
			zap.String("user_id", userID),
			zap.String("report_id", event.ReportID))
	}
}

// RunBridge subscribes to the per-user channels and feeds received events to
// the local registry. It blocks until ctx is cancelled. Only used when a
// Redis client is configured.
func (d *Dispatcher) RunBridge(ctx context.Context) error {
	if d.rdb == nil {
		return nil
	}

	sub := d.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			userID := strings.TrimPrefix(msg.Channel, channelPrefix)

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				d.logger.Warn("discarding malformed event payload",
					zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			d.deliverLocal(userID, event)
		}
	}
}
