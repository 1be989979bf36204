package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/scheduling-api/internal/model"
	"github.com/jwalitptl/scheduling-api/internal/repository"
)

func newAppointment(patient, doctor, date, clock string) *model.Appointment {
	return &model.Appointment{
		PatientID:   patient,
		DoctorID:    doctor,
		PatientName: "Patient " + patient,
		DoctorName:  "Dr. " + doctor,
		Date:        date,
		Time:        clock,
		Type:        model.AppointmentTypeConsultation,
		Mode:        model.AppointmentModeInPerson,
		Reason:      "Checkup",
		Location:    "Room 1",
	}
}

func fixedClock() func() time.Time {
	t := time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestInsertThenGetRoundTrip(t *testing.T) {
	repo := NewAppointmentRepository(WithClock(fixedClock()))
	ctx := context.Background()

	input := newAppointment("p1", "lee", "2024-09-10", "14:00")
	require.NoError(t, repo.Insert(ctx, input))

	assert.NotEqual(t, uuid.Nil, input.ID)
	assert.Equal(t, model.AppointmentStatusPending, input.Status)
	assert.Equal(t, model.DefaultDurationMinutes, input.Duration)
	assert.Equal(t, input.CreatedAt, input.UpdatedAt)

	got, err := repo.Get(ctx, input.ID)
	require.NoError(t, err)
	assert.Equal(t, input, got)
}

func TestInsertRejectsMissingReason(t *testing.T) {
	repo := NewAppointmentRepository()
	apt := newAppointment("p1", "lee", "2024-09-10", "14:00")
	apt.Reason = "  "

	err := repo.Insert(context.Background(), apt)
	assert.ErrorIs(t, err, repository.ErrInvalid)
}

func TestGetUnknown(t *testing.T) {
	repo := NewAppointmentRepository()

	_, err := repo.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUpdateExpectStatus(t *testing.T) {
	repo := NewAppointmentRepository(WithClock(fixedClock()))
	ctx := context.Background()
	apt := newAppointment("p1", "lee", "2024-09-10", "14:00")
	require.NoError(t, repo.Insert(ctx, apt))

	updated, err := repo.Update(ctx, apt.ID, model.AppointmentPatch{
		ExpectStatus: model.Ptr(model.AppointmentStatusPending),
		Status:       model.Ptr(model.AppointmentStatusConfirmed),
	})
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, updated.Status)
	assert.True(t, updated.UpdatedAt.After(apt.UpdatedAt))

	_, err = repo.Update(ctx, apt.ID, model.AppointmentPatch{
		ExpectStatus: model.Ptr(model.AppointmentStatusPending),
		Status:       model.Ptr(model.AppointmentStatusRejected),
	})
	assert.ErrorIs(t, err, repository.ErrStatusChange)
}

func TestUpdateUnknown(t *testing.T) {
	repo := NewAppointmentRepository()

	_, err := repo.Update(context.Background(), uuid.New(), model.AppointmentPatch{})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUpdateEnforcesSlotUniqueness(t *testing.T) {
	repo := NewAppointmentRepository()
	ctx := context.Background()
	first := newAppointment("p1", "lee", "2024-09-10", "14:00")
	second := newAppointment("p2", "lee", "2024-09-10", "14:00")
	require.NoError(t, repo.Insert(ctx, first))
	require.NoError(t, repo.Insert(ctx, second))

	confirm := model.AppointmentPatch{Status: model.Ptr(model.AppointmentStatusConfirmed)}
	_, err := repo.Update(ctx, first.ID, confirm)
	require.NoError(t, err)

	_, err = repo.Update(ctx, second.ID, confirm)
	assert.ErrorIs(t, err, repository.ErrSlotTaken)

	// cancelling the holder frees the slot
	_, err = repo.Update(ctx, first.ID, model.AppointmentPatch{Status: model.Ptr(model.AppointmentStatusCancelled)})
	require.NoError(t, err)
	_, err = repo.Update(ctx, second.ID, confirm)
	assert.NoError(t, err)
}

func TestUpdateRescheduleMovesHeldSlot(t *testing.T) {
	repo := NewAppointmentRepository()
	ctx := context.Background()
	first := newAppointment("p1", "lee", "2024-09-10", "14:00")
	second := newAppointment("p2", "lee", "2024-09-10", "14:00")
	require.NoError(t, repo.Insert(ctx, first))
	require.NoError(t, repo.Insert(ctx, second))

	confirm := model.AppointmentPatch{Status: model.Ptr(model.AppointmentStatusConfirmed)}
	_, err := repo.Update(ctx, first.ID, confirm)
	require.NoError(t, err)
	_, err = repo.Update(ctx, first.ID, model.AppointmentPatch{Time: model.Ptr("15:00")})
	require.NoError(t, err)

	_, err = repo.Update(ctx, second.ID, confirm)
	assert.NoError(t, err)
}

func TestConcurrentApprovalsOnlyOneWins(t *testing.T) {
	repo := NewAppointmentRepository()
	ctx := context.Background()

	const n = 20
	ids := make([]uuid.UUID, n)
	for i := range ids {
		apt := newAppointment(uuid.NewString(), "lee", "2024-09-10", "14:00")
		require.NoError(t, repo.Insert(ctx, apt))
		ids[i] = apt.ID
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			<-start
			_, err := repo.Update(ctx, id, model.AppointmentPatch{
				ExpectStatus: model.Ptr(model.AppointmentStatusPending),
				Status:       model.Ptr(model.AppointmentStatusConfirmed),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, repository.ErrSlotTaken):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
}

func TestQueryOrderingAndFilters(t *testing.T) {
	repo := NewAppointmentRepository(WithClock(fixedClock()))
	ctx := context.Background()

	late := newAppointment("p1", "lee", "2024-09-11", "09:00")
	early := newAppointment("p1", "lee", "2024-09-10", "15:00")
	earliest := newAppointment("p1", "lee", "2024-09-10", "08:30")
	other := newAppointment("p2", "kim", "2024-09-10", "08:00")
	for _, apt := range []*model.Appointment{late, early, earliest, other} {
		require.NoError(t, repo.Insert(ctx, apt))
	}

	got, err := repository.Collect(repo.Query(ctx, model.AppointmentFilters{PatientID: "p1"}))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, earliest.ID, got[0].ID)
	assert.Equal(t, early.ID, got[1].ID)
	assert.Equal(t, late.ID, got[2].ID)

	again, err := repository.Collect(repo.Query(ctx, model.AppointmentFilters{PatientID: "p1"}))
	require.NoError(t, err)
	assert.Equal(t, got, again)

	ranged, err := repository.Collect(repo.Query(ctx, model.AppointmentFilters{
		DoctorID: "lee",
		DateFrom: "2024-09-11",
		DateTo:   "2024-09-11",
	}))
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, late.ID, ranged[0].ID)

	limited, err := repository.Collect(repo.Query(ctx, model.AppointmentFilters{Limit: 2}))
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := repository.Collect(repo.Query(ctx, model.AppointmentFilters{
		Statuses: []model.AppointmentStatus{model.AppointmentStatusConfirmed},
	}))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQueryStopsEarly(t *testing.T) {
	repo := NewAppointmentRepository()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Insert(ctx, newAppointment("p1", "lee", "2024-09-10", "14:00")))
	}

	seen := 0
	for range repo.Query(ctx, model.AppointmentFilters{}) {
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	repo := NewAppointmentRepository()
	ctx := context.Background()
	apt := newAppointment("p1", "lee", "2024-09-10", "14:00")
	require.NoError(t, repo.Insert(ctx, apt))

	got, err := repo.Get(ctx, apt.ID)
	require.NoError(t, err)
	got.Status = model.AppointmentStatusCompleted

	again, err := repo.Get(ctx, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusPending, again.Status)
}
