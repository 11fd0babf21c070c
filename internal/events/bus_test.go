package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/lilou-atelier/backend-boutique/internal/events"
	"github.com/lilou-atelier/backend-boutique/internal/store"
)

type stubStore struct {
	lastParams store.InsertDomainEventParams
	event      store.DomainEvent
}

func (s *stubStore) InsertDomainEvent(_ context.Context, arg store.InsertDomainEventParams) (store.DomainEvent, error) {
	s.lastParams = arg
	if !s.event.ID.Valid {
		id := uuid.New()
		s.event.ID = pgtype.UUID{Bytes: id, Valid: true}
	}
	s.event.Topic = arg.Topic
	s.event.AggregateID = arg.AggregateID
	s.event.Payload = arg.Payload
	if !s.event.OccurredAt.Valid {
		s.event.OccurredAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	}
	return s.event, nil
}

type captureNotifier struct {
	events []store.DomainEvent
}

func (c *captureNotifier) Notify(_ context.Context, event store.DomainEvent) error {
	c.events = append(c.events, event)
	return nil
}

func toUUID(u uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: u, Valid: true}
}

func TestEmitPersistsEvent(t *testing.T) {
	st := &stubStore{}
	notifier := &captureNotifier{}
	bus := events.Bus{
		Store:     st,
		Notifiers: []events.Notifier{notifier},
	}

	aggregate := uuid.New()
	payload := map[string]any{"orderId": "123"}
	ctx := context.Background()
	event, err := bus.Emit(ctx, events.TopicOrderConfirmed, toUUID(aggregate), payload)
	require.NoError(t, err)
	require.Equal(t, events.TopicOrderConfirmed, st.lastParams.Topic)
	require.JSONEq(t, `{"orderId":"123"}`, string(st.lastParams.Payload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, "123", decoded["orderId"])
}

func TestEmitRequiresTopicAndAggregate(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}
	_, err := bus.Emit(context.Background(), "  ", toUUID(uuid.New()), nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicStockDepleted, pgtype.UUID{}, nil)
	require.Error(t, err)
}
