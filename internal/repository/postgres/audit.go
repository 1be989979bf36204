package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/scheduling-api/internal/model"
)

func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	query := `
        INSERT INTO appointment_audit (
            id, appointment_id, actor_id, action, from_status, to_status, metadata, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	metadata := []byte("{}")
	if len(log.Metadata) > 0 {
		metadata = log.Metadata
	}

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.AppointmentID,
		log.ActorID,
		log.Action,
		string(log.FromStatus),
		string(log.ToStatus),
		metadata,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func (r *auditRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.AuditLog, error) {
	query := `
        SELECT id, appointment_id, actor_id, action, from_status, to_status,
               metadata, created_at
        FROM appointment_audit
        WHERE appointment_id = $1
        ORDER BY created_at ASC, id ASC
    `

	logs := make([]*model.AuditLog, 0)
	if err := r.db.SelectContext(ctx, &logs, query, appointmentID); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}
