package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/skeinhq/skein/pkg/domain"
)

// deliveryTimeout bounds a single subscriber side effect.
const deliveryTimeout = 10 * time.Second

// WebhookForwarder is the narrow contract to the external webhook publisher.
type WebhookForwarder interface {
	Forward(ctx context.Context, channel string, payload map[string]any) error
}

// RegisterWebhookSubscriber forwards every event to the webhook publisher,
// using the event type as the channel. The payload reaches the webhook
// target unchanged.
func RegisterWebhookSubscriber(bus *Bus, forwarder WebhookForwarder) {
	bus.Subscribe("webhook", func(ev Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		return forwarder.Forward(ctx, ev.Type(), ev.Payload())
	}, "*")
}

// UsageIncrementer is the narrow contract to the usage guardrail.
type UsageIncrementer interface {
	Increment(ctx context.Context, orgID uuid.UUID, action domain.UsageAction, amount int64) error
}

// RegisterBillingSubscriber meters processed entities. Events with
// billable=false (replay runs) are ignored.
func RegisterBillingSubscriber(bus *Bus, usage UsageIncrementer) {
	bus.Subscribe("billing", func(ev Event) error {
		batch, ok := ev.(EntityBatchProcessed)
		if !ok {
			return nil
		}
		if !batch.Billable {
			return nil
		}
		amount := batch.Inserted + batch.Updated
		if amount == 0 {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		return usage.Increment(ctx, batch.OrganizationID, domain.UsageEntities, amount)
	}, "entity.*")
}

// progressPublisher is satisfied by *redis.Client.
type progressPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// ProgressSnapshot is the compact per-event progress form streamed to
// org-scoped channels.
type ProgressSnapshot struct {
	EventType string    `json:"event_type"`
	SyncID    string    `json:"sync_id,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	Inserted  int64     `json:"inserted,omitempty"`
	Updated   int64     `json:"updated,omitempty"`
	Deleted   int64     `json:"deleted,omitempty"`
	Kept      int64     `json:"kept,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressChannel is the redis pub/sub channel for one organization.
func ProgressChannel(orgID uuid.UUID) string {
	return "progress:" + orgID.String()
}

// RegisterProgressRelay republishes sync.* and entity.* events as compact
// snapshots on the organization's progress channel.
func RegisterProgressRelay(bus *Bus, pub progressPublisher, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	bus.Subscribe("progress", func(ev Event) error {
		snap := ProgressSnapshot{EventType: ev.Type(), Timestamp: ev.OccurredAt()}
		switch e := ev.(type) {
		case SyncLifecycle:
			snap.SyncID = e.SyncID.String()
			snap.JobID = e.JobID.String()
		case EntityBatchProcessed:
			snap.SyncID = e.SyncID.String()
			snap.JobID = e.JobID.String()
			snap.Inserted = e.Inserted
			snap.Updated = e.Updated
			snap.Deleted = e.Deleted
			snap.Kept = e.Kept
		}

		raw, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		return pub.Publish(ctx, ProgressChannel(ev.Organization()), raw).Err()
	}, "sync.*", "entity.*")
}
