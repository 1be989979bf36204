package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/scheduling-api/internal/model"
)

func TestOutboxRepository_Create(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewOutboxRepository(db)

	event := &model.OutboxEvent{
		EventType:   string(model.EventAppointmentApproved),
		AggregateID: uuid.New(),
		Payload:     json.RawMessage(`{"type":"appointment.approved"}`),
	}

	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(sqlmock.AnyArg(), event.EventType, event.AggregateID, []byte(event.Payload), model.OutboxStatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), event))
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, model.OutboxStatusPending, event.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_CreateRequiresPayload(t *testing.T) {
	db, _ := setupMock(t)
	repo := NewOutboxRepository(db)

	assert.Error(t, repo.Create(context.Background(), &model.OutboxEvent{EventType: "x"}))
	assert.Error(t, repo.Create(context.Background(), nil))
}

func TestOutboxRepository_GetPendingEvents(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewOutboxRepository(db)

	older := time.Now().Add(-time.Minute)
	newer := time.Now()
	cols := []string{"id", "event_type", "aggregate_id", "payload", "status", "error_message",
		"retry_count", "retry_at", "created_at", "processed_at", "updated_at"}
	rows := sqlmock.NewRows(cols).
		AddRow(uuid.New().String(), "appointment.approved", uuid.New().String(), []byte(`{}`), "pending", nil, 0, nil, newer, nil, newer).
		AddRow(uuid.New().String(), "appointment.requested", uuid.New().String(), []byte(`{}`), "pending", nil, 1, nil, older, nil, older)

	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs("pending", 50, outboxLease).
		WillReturnRows(rows)

	events, err := repo.GetPendingEvents(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "appointment.requested", events[0].EventType)
	assert.Equal(t, 1, events[0].RetryCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_MarkFailed(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewOutboxRepository(db)
	id := uuid.New()
	retryAt := time.Now().Add(time.Minute)

	mock.ExpectExec("UPDATE outbox_events").
		WithArgs("pending", "boom", &retryAt, id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE outbox_events").
		WithArgs("failed", "boom", nil, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkFailed(context.Background(), id, "boom", &retryAt))
	require.NoError(t, repo.MarkFailed(context.Background(), id, "boom", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_DeleteProcessedBefore(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewOutboxRepository(db)
	before := time.Now().Add(-24 * time.Hour)

	mock.ExpectExec("DELETE FROM outbox_events").
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteProcessedBefore(context.Background(), before)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
