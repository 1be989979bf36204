package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/scheduling-api/internal/model"
	"github.com/jwalitptl/scheduling-api/internal/repository"
	"github.com/jwalitptl/scheduling-api/pkg/messaging"
)

// Publisher hands appointment events to the notification pipeline
type Publisher interface {
	Publish(ctx context.Context, evt *model.AppointmentEvent) error
}

// OutboxPublisher stores events in the outbox table for the worker to relay
type OutboxPublisher struct {
	outboxRepo repository.OutboxRepository
}

func NewOutboxPublisher(outboxRepo repository.OutboxRepository) *OutboxPublisher {
	return &OutboxPublisher{outboxRepo: outboxRepo}
}

func (p *OutboxPublisher) Publish(ctx context.Context, evt *model.AppointmentEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	outbox := &model.OutboxEvent{
		ID:          evt.ID,
		EventType:   string(evt.Type),
		AggregateID: evt.AppointmentID,
		Payload:     payload,
	}
	if err := p.outboxRepo.Create(ctx, outbox); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

// BrokerPublisher publishes events directly, used when no outbox table exists
type BrokerPublisher struct {
	broker messaging.Broker
}

func NewBrokerPublisher(broker messaging.Broker) *BrokerPublisher {
	return &BrokerPublisher{broker: broker}
}

func (p *BrokerPublisher) Publish(ctx context.Context, evt *model.AppointmentEvent) error {
	if err := p.broker.Publish(ctx, messaging.ChannelAppointments, evt); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Decode parses an event payload received from the broker
func Decode(payload []byte) (*model.AppointmentEvent, error) {
	var evt model.AppointmentEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if evt.Appointment == nil {
		return nil, fmt.Errorf("event %s has no appointment snapshot", evt.ID)
	}
	return &evt, nil
}
