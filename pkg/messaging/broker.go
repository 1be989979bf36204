package messaging

import (
	"context"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Handler processes a single message received on a channel
type Handler func(ctx context.Context, payload []byte) error

// Channels shared by the API and the worker
const (
	ChannelAppointments       = "scheduling.appointments"
	ChannelNotificationPrefix = "scheduling.notifications."
)

// NotificationChannel is the per-user in-app notification channel
func NotificationChannel(userID string) string {
	return ChannelNotificationPrefix + userID
}
