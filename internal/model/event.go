package model

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventAppointmentRequested   EventType = "appointment.requested"
	EventAppointmentApproved    EventType = "appointment.approved"
	EventAppointmentRejected    EventType = "appointment.rejected"
	EventAppointmentCancelled   EventType = "appointment.cancelled"
	EventAppointmentCompleted   EventType = "appointment.completed"
	EventAppointmentRescheduled EventType = "appointment.rescheduled"
)

// AppointmentEvent is emitted after every successful lifecycle transition
type AppointmentEvent struct {
	ID            uuid.UUID    `json:"id"`
	Type          EventType    `json:"type"`
	AppointmentID uuid.UUID    `json:"appointmentId"`
	ActorID       string       `json:"actorId"`
	ActorRole     Role         `json:"actorRole,omitempty"`
	Appointment   *Appointment `json:"appointment"`
	// Previous slot, set on reschedule
	PreviousDate string    `json:"previousDate,omitempty"`
	PreviousTime string    `json:"previousTime,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

func NewAppointmentEvent(t EventType, apt *Appointment, actorID string, at time.Time) *AppointmentEvent {
	return &AppointmentEvent{
		ID:            uuid.New(),
		Type:          t,
		AppointmentID: apt.ID,
		ActorID:       actorID,
		ActorRole:     apt.RoleOf(actorID),
		Appointment:   apt.Clone(),
		OccurredAt:    at,
	}
}

// RoleOf returns the role actorID plays on the appointment, empty when not a party
func (a *Appointment) RoleOf(actorID string) Role {
	switch {
	case actorID == "":
		return ""
	case actorID == a.PatientID:
		return RolePatient
	case actorID == a.DoctorID:
		return RoleDoctor
	}
	return ""
}
