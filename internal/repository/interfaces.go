package repository

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/scheduling-api/internal/model"
)

// Sentinel errors shared by every store implementation
var (
	ErrInvalid      = errors.New("invalid record")
	ErrNotFound     = errors.New("record not found")
	ErrSlotTaken    = errors.New("slot already held by another appointment")
	ErrStatusChange = errors.New("status changed concurrently")
	ErrUnavailable  = errors.New("store unavailable")
)

type (
	AppointmentRepository interface {
		Insert(ctx context.Context, apt *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		Update(ctx context.Context, id uuid.UUID, patch model.AppointmentPatch) (*model.Appointment, error)
		Query(ctx context.Context, filters model.AppointmentFilters) iter.Seq2[*model.Appointment, error]
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	AuditRepository interface {
		Create(ctx context.Context, log *model.AuditLog) error
		ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.AuditLog, error)
	}
)

// Collect drains a query sequence into a slice
func Collect(seq iter.Seq2[*model.Appointment, error]) ([]*model.Appointment, error) {
	var out []*model.Appointment
	for apt, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, apt)
	}
	return out, nil
}
