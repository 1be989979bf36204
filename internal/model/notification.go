package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	NotificationChannelEmail = "email"
	NotificationChannelInApp = "in_app"
)

// Notification is the message delivered to the counter-party of an appointment event
type Notification struct {
	ID            uuid.UUID `json:"id"`
	UserID        string    `json:"userId"`
	Recipient     string    `json:"-"`
	EventType     EventType `json:"type"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	Subject       string    `json:"subject"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"createdAt"`
}
