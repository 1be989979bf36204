package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLog records one lifecycle transition of an appointment
type AuditLog struct {
	ID            uuid.UUID         `json:"id" db:"id"`
	AppointmentID uuid.UUID         `json:"appointmentId" db:"appointment_id"`
	ActorID       string            `json:"actorId" db:"actor_id"`
	Action        string            `json:"action" db:"action"`
	FromStatus    AppointmentStatus `json:"fromStatus,omitempty" db:"from_status"`
	ToStatus      AppointmentStatus `json:"toStatus" db:"to_status"`
	Metadata      json.RawMessage   `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time         `json:"createdAt" db:"created_at"`
}

const (
	AuditActionRequest    = "request"
	AuditActionApprove    = "approve"
	AuditActionReject     = "reject"
	AuditActionCancel     = "cancel"
	AuditActionComplete   = "complete"
	AuditActionReschedule = "reschedule"
	AuditActionUpdate     = "update"
)
