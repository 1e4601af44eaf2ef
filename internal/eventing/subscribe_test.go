package eventing

import (
	"context"
	"testing"
	"time"

	"moldwatch-cloud/internal/eventing/eventbus"
)

type testEvent struct {
	SiteID     string    `json:"site_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type memProcessedStore struct {
	seen map[string]bool
}

func (s *memProcessedStore) HasProcessed(_ context.Context, eventID, consumerName string) (bool, error) {
	return s.seen[eventID+"/"+consumerName], nil
}

func (s *memProcessedStore) MarkProcessed(_ context.Context, eventID, consumerName string) error {
	s.seen[eventID+"/"+consumerName] = true
	return nil
}

func TestBuildEnvelopeExtractsSiteAndTime(t *testing.T) {
	occurred := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	env, err := BuildEnvelope(testEvent{SiteID: "site-1", OccurredAt: occurred}, Meta{TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if env.SiteID != "site-1" || env.TenantID != "tenant-1" {
		t.Fatalf("unexpected envelope identity %+v", env)
	}
	if !env.OccurredAt.Equal(occurred) {
		t.Fatalf("expected occurred_at from event, got %v", env.OccurredAt)
	}
	if env.EventID == "" || env.CorrelationID != env.EventID {
		t.Fatalf("expected generated ids, got %+v", env)
	}
	if env.EventType != "eventing.testEvent" {
		t.Fatalf("unexpected event type %q", env.EventType)
	}
}

func TestSubscribeIdempotency(t *testing.T) {
	bus := eventbus.NewInMemoryBus()
	store := &memProcessedStore{seen: make(map[string]bool)}

	calls := 0
	Subscribe(bus, eventbus.EventTypeOf[testEvent](), "test.consumer", func(ctx context.Context, event any) error {
		calls++
		return nil
	}, store)

	env, err := BuildEnvelope(testEvent{SiteID: "site-1"}, Meta{TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	ctx := WithEnvelope(context.Background(), env)

	for i := 0; i < 3; i++ {
		if err := bus.Publish(ctx, testEvent{SiteID: "site-1"}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly one delivery, got %d", calls)
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	registry := NewRegistry()
	registry.Register(testEvent{})

	env, err := BuildEnvelope(testEvent{SiteID: "site-9"}, Meta{TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}

	decoded, err := registry.DecodePayload(env)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	event, ok := decoded.(testEvent)
	if !ok {
		t.Fatalf("expected testEvent, got %T", decoded)
	}
	if event.SiteID != "site-9" {
		t.Fatalf("unexpected decoded event %+v", event)
	}

	if _, err := registry.DecodePayload(Envelope{EventType: "unknown.Event"}); err == nil {
		t.Fatalf("expected error for unknown event type")
	}
}
