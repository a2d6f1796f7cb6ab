package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinhq/skein/pkg/domain"
)

func TestPatternMatching(t *testing.T) {
	cases := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		{"*", "sync.started", true},
		{"entity.*", "entity.batch_processed", true},
		{"entity.*", "sync.started", false},
		{"sync.completed", "sync.completed", true},
		{"sync.completed", "sync.failed", false},
	}
	for _, tc := range cases {
		m := compilePattern(tc.pattern)
		assert.Equal(t, tc.want, m.matches(tc.eventType),
			"pattern %q vs %q", tc.pattern, tc.eventType)
	}
}

func TestPublishFanOut(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	var got []string
	bus.Subscribe("all", func(ev Event) error {
		mu.Lock()
		got = append(got, ev.Type())
		mu.Unlock()
		return nil
	}, "*")

	orgID := uuid.New()
	bus.Publish(SyncLifecycle{Base: NewBase(TypeSyncStarted, orgID)})
	bus.Publish(EntityBatchProcessed{Base: NewBase(TypeEntityBatchProcessed, orgID)})
	bus.Publish(SyncLifecycle{Base: NewBase(TypeSyncCompleted, orgID)})
	bus.Drain()

	assert.Equal(t, []string{TypeSyncStarted, TypeEntityBatchProcessed, TypeSyncCompleted}, got,
		"single-subscriber delivery must preserve publish order")
}

func TestHandlerErrorIsolation(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var billed int64
	bus.Subscribe("webhook", func(Event) error {
		return errors.New("webhook target unreachable")
	}, "entity.*")
	bus.Subscribe("panicky", func(Event) error {
		panic("handler bug")
	}, "entity.*")

	var mu sync.Mutex
	bus.Subscribe("billing", func(ev Event) error {
		batch := ev.(EntityBatchProcessed)
		mu.Lock()
		billed += batch.Inserted + batch.Updated
		mu.Unlock()
		return nil
	}, "entity.*")

	bus.Publish(EntityBatchProcessed{
		Base:     NewBase(TypeEntityBatchProcessed, uuid.New()),
		Inserted: 3,
		Updated:  2,
		Billable: true,
	})
	bus.Drain()

	assert.Equal(t, int64(5), billed,
		"billing must run even when sibling subscribers fail")
}

func TestSubscriberFiltering(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var syncEvents int
	var mu sync.Mutex
	bus.Subscribe("sync-only", func(Event) error {
		mu.Lock()
		syncEvents++
		mu.Unlock()
		return nil
	}, "sync.*")

	orgID := uuid.New()
	bus.Publish(SyncLifecycle{Base: NewBase(TypeSyncStarted, orgID)})
	bus.Publish(EntityBatchProcessed{Base: NewBase(TypeEntityBatchProcessed, orgID)})
	bus.Drain()

	assert.Equal(t, 1, syncEvents)
}

type recordingUsage struct {
	mu     sync.Mutex
	orgs   []uuid.UUID
	totals int64
}

func (r *recordingUsage) Increment(_ context.Context, orgID uuid.UUID, action domain.UsageAction, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orgs = append(r.orgs, orgID)
	r.totals += amount
	return nil
}

func TestBillingSubscriberSkipsNonBillable(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	usage := &recordingUsage{}
	RegisterBillingSubscriber(bus, usage)

	orgID := uuid.New()
	bus.Publish(EntityBatchProcessed{
		Base: NewBase(TypeEntityBatchProcessed, orgID), Inserted: 10, Billable: false,
	})
	bus.Publish(EntityBatchProcessed{
		Base: NewBase(TypeEntityBatchProcessed, orgID), Inserted: 4, Updated: 1, Billable: true,
	})
	bus.Drain()

	assert.Equal(t, int64(5), usage.totals)
	require.Len(t, usage.orgs, 1)
	assert.Equal(t, orgID, usage.orgs[0])
}

type recordingForwarder struct {
	mu       sync.Mutex
	channels []string
	payloads []map[string]any
}

func (r *recordingForwarder) Forward(_ context.Context, channel string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channel)
	r.payloads = append(r.payloads, payload)
	return nil
}

func TestWebhookSubscriberForwardsFullPayload(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	fwd := &recordingForwarder{}
	RegisterWebhookSubscriber(bus, fwd)

	orgID := uuid.New()
	ev := SyncLifecycle{Base: NewBase(TypeSyncFailed, orgID), SyncID: uuid.New(), JobID: uuid.New(), ErrorKind: "upstream", Error: "source 502"}
	bus.Publish(ev)
	bus.Drain()

	require.Len(t, fwd.channels, 1)
	assert.Equal(t, TypeSyncFailed, fwd.channels[0])
	p := fwd.payloads[0]
	assert.Equal(t, TypeSyncFailed, p["event_type"])
	assert.Equal(t, orgID.String(), p["organization_id"])
	assert.Equal(t, "upstream", p["error_kind"])
	assert.NotEmpty(t, p["timestamp"])
}
