package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/scheduling-api/internal/model"
	"github.com/jwalitptl/scheduling-api/internal/repository"
)

const appointmentColumns = `id, patient_id, doctor_id, patient_name, doctor_name,
	patient_email, doctor_email, appointment_date, appointment_time, duration_minutes,
	type, mode, status, reason, notes, location, meeting_link, rejection_reason,
	cancelled_by, created_at, updated_at`

func (r *appointmentRepository) Insert(ctx context.Context, apt *model.Appointment) error {
	if apt.Duration == 0 {
		apt.Duration = model.DefaultDurationMinutes
	}
	apt.Status = model.AppointmentStatusPending
	if err := apt.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrInvalid, err)
	}
	if apt.ID == uuid.Nil {
		apt.ID = uuid.New()
	}
	now := time.Now().UTC()
	apt.CreatedAt = now
	apt.UpdatedAt = now

	query := `
		INSERT INTO appointments (` + appointmentColumns + `)
		VALUES (
			:id, :patient_id, :doctor_id, :patient_name, :doctor_name,
			:patient_email, :doctor_email, :appointment_date, :appointment_time, :duration_minutes,
			:type, :mode, :status, :reason, :notes, :location, :meeting_link, :rejection_reason,
			:cancelled_by, :created_at, :updated_at
		)
	`
	if _, err := r.db.NamedExecContext(ctx, query, apt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: duplicate id %s", repository.ErrInvalid, apt.ID)
		}
		return fmt.Errorf("failed to create appointment: %w", classify(err))
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	var apt model.Appointment
	if err := r.db.GetContext(ctx, &apt, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get appointment: %w", classify(err))
	}
	return &apt, nil
}

// Update locks the row, checks the expected status and writes the merged record.
// The partial unique index on held slots rejects a second confirmation of the
// same doctor, date and time even across rows.
func (r *appointmentRepository) Update(ctx context.Context, id uuid.UUID, patch model.AppointmentPatch) (*model.Appointment, error) {
	var updated model.Appointment

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var current model.Appointment
		query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &current, query, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrNotFound
			}
			return fmt.Errorf("failed to lock appointment: %w", classify(err))
		}
		if patch.ExpectStatus != nil && current.Status != *patch.ExpectStatus {
			return repository.ErrStatusChange
		}

		next := current
		patch.Apply(&next)
		if err := next.Validate(); err != nil {
			return fmt.Errorf("%w: %v", repository.ErrInvalid, err)
		}

		query = `
			UPDATE appointments SET
				doctor_id = $2, doctor_name = $3, appointment_date = $4, appointment_time = $5,
				duration_minutes = $6, type = $7, mode = $8, status = $9, reason = $10,
				notes = $11, location = $12, meeting_link = $13, rejection_reason = $14,
				cancelled_by = $15, updated_at = GREATEST($16, updated_at)
			WHERE id = $1
			RETURNING ` + appointmentColumns
		err := tx.GetContext(ctx, &updated, query,
			id,
			next.DoctorID,
			next.DoctorName,
			next.Date,
			next.Time,
			next.Duration,
			next.Type,
			next.Mode,
			next.Status,
			next.Reason,
			next.Notes,
			next.Location,
			next.MeetingLink,
			next.RejectionReason,
			next.CancelledBy,
			time.Now().UTC(),
		)
		if err != nil {
			if isSlotViolation(err) {
				return repository.ErrSlotTaken
			}
			return fmt.Errorf("failed to update appointment: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *appointmentRepository) Query(ctx context.Context, filters model.AppointmentFilters) iter.Seq2[*model.Appointment, error] {
	return func(yield func(*model.Appointment, error) bool) {
		query, args := buildAppointmentQuery(filters)

		rows, err := r.db.QueryxContext(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("failed to query appointments: %w", classify(err)))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var apt model.Appointment
			if err := rows.StructScan(&apt); err != nil {
				yield(nil, fmt.Errorf("failed to scan appointment: %w", err))
				return
			}
			if !yield(&apt, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to iterate appointments: %w", classify(err)))
		}
	}
}

func buildAppointmentQuery(filters model.AppointmentFilters) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filters.PatientID != "" {
		add("patient_id = $%d", filters.PatientID)
	}
	switch {
	case filters.DoctorID != "" && filters.IncludeUnassigned:
		add("(doctor_id = $%d OR doctor_id = '')", filters.DoctorID)
	case filters.DoctorID != "":
		add("doctor_id = $%d", filters.DoctorID)
	}
	if len(filters.Statuses) > 0 {
		statuses := make([]string, len(filters.Statuses))
		for i, s := range filters.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}
	if filters.DateFrom != "" {
		add("appointment_date >= $%d", filters.DateFrom)
	}
	if filters.DateTo != "" {
		add("appointment_date <= $%d", filters.DateTo)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(appointmentColumns)
	sb.WriteString(" FROM appointments")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY appointment_date, appointment_time, created_at, id")
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	return sb.String(), args
}
