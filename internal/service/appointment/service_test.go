package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/scheduling-api/internal/meeting"
	"github.com/jwalitptl/scheduling-api/internal/model"
	"github.com/jwalitptl/scheduling-api/internal/repository"
	"github.com/jwalitptl/scheduling-api/internal/repository/memory"
	"github.com/jwalitptl/scheduling-api/internal/service/audit"
	apperrors "github.com/jwalitptl/scheduling-api/pkg/errors"
	"github.com/jwalitptl/scheduling-api/pkg/logger"
	"github.com/jwalitptl/scheduling-api/pkg/metrics"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// ticker returns a strictly increasing clock for store timestamps
func ticker(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.AppointmentEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt *model.AppointmentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	svc    *Service
	repo   repository.AppointmentRepository
	events *recordingPublisher
	clock  *fakeClock
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	clock := &fakeClock{t: time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)}
	repo := memory.NewAppointmentRepository(memory.WithClock(ticker(clock.Now())))
	events := &recordingPublisher{}
	links, err := meeting.NewLinkProvider("https://meet.example.com", "")
	require.NoError(t, err)

	cfg := Config{
		Location:        time.UTC,
		StoreTimeout:    time.Second,
		DefaultLocation: "Main clinic, room 2",
		WorkDayStart:    "09:00",
		WorkDayEnd:      "17:00",
		SlotStepMinutes: 30,
		Alternatives:    3,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	svc := NewService(repo, events, links, audit.NewService(memory.NewAuditRepository()), cfg,
		logger.Nop(), metrics.New("test", nil), WithClock(clock.Now))

	return &fixture{svc: svc, repo: repo, events: events, clock: clock}
}

func (f *fixture) request(t *testing.T, patientID, date, clock string, mode model.AppointmentMode) *model.Appointment {
	t.Helper()
	apt, err := f.svc.RequestAppointment(context.Background(), &model.CreateAppointmentRequest{
		RequesterID:   patientID,
		RequesterRole: model.RolePatient,
		DoctorID:      "dr-lee",
		DoctorName:    "Dr. Lee",
		Date:          date,
		Time:          clock,
		Type:          model.AppointmentTypeConsultation,
		Mode:          mode,
		Reason:        "Persistent cough",
	})
	require.NoError(t, err)
	return apt
}

func assertKind(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperrors.KindOf(err), "unexpected error: %v", err)
}

func TestBookingScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.request(t, "p-ann", "2024-09-10", "14:00", model.AppointmentModeInPerson)
	assert.Equal(t, model.AppointmentStatusPending, first.Status)
	assert.Equal(t, "p-ann", first.PatientID)
	assert.Equal(t, 30, first.Duration)

	confirmed, err := f.svc.Approve(ctx, first.ID, "dr-lee", "")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, confirmed.Status)
	assert.Equal(t, "Main clinic, room 2", confirmed.Location)

	second := f.request(t, "p-bob", "2024-09-10", "14:00", model.AppointmentModeInPerson)
	_, err = f.svc.Approve(ctx, second.ID, "dr-lee", "")
	assertKind(t, err, apperrors.ErrConflict)

	appErr := apperrors.AsAppError(err)
	assert.Equal(t, apperrors.SlotTakenMessage, appErr.Message)
	alternatives, ok := appErr.Details["alternatives"].([]model.TimeSlot)
	require.True(t, ok)
	require.Len(t, alternatives, 3)
	for _, slot := range alternatives {
		assert.NotEqual(t, "2024-09-10 14:00", slot.Date+" "+slot.Time)
	}

	stillPending, err := f.svc.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusPending, stillPending.Status)

	assert.Equal(t, []model.EventType{
		model.EventAppointmentRequested,
		model.EventAppointmentApproved,
		model.EventAppointmentRequested,
	}, f.events.types())
}

func TestRejectThenApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.request(t, "p-ann", "2024-09-10", "14:00", model.AppointmentModeInPerson)

	rejected, err := f.svc.Reject(ctx, apt.ID, "dr-lee", "Unavailable")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusRejected, rejected.Status)
	assert.Equal(t, "Unavailable", rejected.RejectionReason)

	_, err = f.svc.Approve(ctx, apt.ID, "dr-lee", "")
	assertKind(t, err, apperrors.ErrInvalidTransition)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.request(t, "p-ann", "2024-09-10", "14:00", model.AppointmentModeInPerson)

	_, err := f.svc.Reject(ctx, apt.ID, "dr-lee", "   ")
	assertKind(t, err, apperrors.ErrValidation)

	_, err = f.svc.Reject(ctx, uuid.New(), "dr-lee", "")
	assertKind(t, err, apperrors.ErrValidation)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := func() *model.CreateAppointmentRequest {
		return &model.CreateAppointmentRequest{
			RequesterID:   "p-ann",
			RequesterRole: model.RolePatient,
			DoctorName:    "Dr. Lee",
			Date:          "2024-09-10",
			Time:          "14:00",
			Reason:        "Checkup",
		}
	}

	tests := []struct {
		name   string
		mutate func(*model.CreateAppointmentRequest)
	}{
		{"past slot", func(r *model.CreateAppointmentRequest) { r.Date = "2024-08-30" }},
		{"now is not future", func(r *model.CreateAppointmentRequest) { r.Date, r.Time = "2024-09-01", "08:00" }},
		{"empty reason", func(r *model.CreateAppointmentRequest) { r.Reason = " " }},
		{"bad date", func(r *model.CreateAppointmentRequest) { r.Date = "10/09/2024" }},
		{"bad time", func(r *model.CreateAppointmentRequest) { r.Time = "2pm" }},
		{"no counter-party", func(r *model.CreateAppointmentRequest) { r.DoctorName = "" }},
		{"unknown role", func(r *model.CreateAppointmentRequest) { r.RequesterRole = "nurse" }},
		{"unknown type", func(r *model.CreateAppointmentRequest) { r.Type = "surgery" }},
		{"unknown mode", func(r *model.CreateAppointmentRequest) { r.Mode = "carrier-pigeon" }},
		{"doctor without patient", func(r *model.CreateAppointmentRequest) {
			r.RequesterRole, r.RequesterID = model.RoleDoctor, "dr-lee"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base()
			tt.mutate(req)
			_, err := f.svc.RequestAppointment(ctx, req)
			assertKind(t, err, apperrors.ErrValidation)
		})
	}
}

func TestRequestByDoctorForNamedPatient(t *testing.T) {
	f := newFixture(t)

	apt, err := f.svc.RequestAppointment(context.Background(), &model.CreateAppointmentRequest{
		RequesterID:   "dr-lee",
		RequesterRole: model.RoleDoctor,
		PatientName:   "Ann Smith",
		Date:          "2024-09-12",
		Time:          "10:30",
		Reason:        "Follow-up on labs",
		Type:          model.AppointmentTypeFollowUp,
	})
	require.NoError(t, err)
	assert.Equal(t, "dr-lee", apt.DoctorID)
	assert.Empty(t, apt.PatientID)
	assert.Equal(t, model.AppointmentModeInPerson, apt.Mode)

	stored, err := f.svc.Get(context.Background(), apt.ID)
	require.NoError(t, err)
	assert.Equal(t, apt.CreatedAt, stored.CreatedAt)
	assert.Equal(t, "Ann Smith", stored.PatientName)
}

func TestCancelCompletedIsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.request(t, "p-ann", "2024-09-10", "14:00", model.AppointmentModeInPerson)

	_, err := f.svc.Approve(ctx, apt.ID, "dr-lee", "Room 4")
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, apt.ID, "dr-lee")
	assertKind(t, err, apperrors.ErrValidation)

	f.clock.Set(time.Date(2024, 9, 10, 14, 30, 0, 0, time.UTC))
	completed, err := f.svc.Complete(ctx, apt.ID, "dr-lee")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCompleted, completed.Status)

	_, err = f.svc.Cancel(ctx, apt.ID, "p-ann")
	assertKind(t, err, apperrors.ErrInvalidTransition)
}

func TestVideoLinkLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.request(t, "p-ann", "2024-09-10", "15:00", model.AppointmentModeVideo)

	confirmed, err := f.svc.Approve(ctx, apt.ID, "dr-lee", "")
	require.NoError(t, err)
	assert.Equal(t, "https://meet.example.com/"+apt.ID.String(), confirmed.MeetingLink)

	cancelled, err := f.svc.Cancel(ctx, apt.ID, "dr-lee")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, cancelled.Status)
	assert.Equal(t, "dr-lee", cancelled.CancelledBy)
	assert.Empty(t, cancelled.MeetingLink)
}

func TestInPersonApproveNeedsLocation(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.DefaultLocation = "" })
	apt := f.request(t, "p-ann", "2024-09-10", "14:00", model.AppointmentModeInPerson)

	_, err := f.svc.Approve(context.Background(), apt.ID, "dr-lee", "")
	assertKind(t, err, apperrors.ErrValidation)

	confirmed, err := f.svc.Approve(context.Background(), apt.ID, "dr-lee", "Room 9")
	require.NoError(t, err)
	assert.Equal(t, "Room 9", confirmed.Location)
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.request(t, "p-ann", "2024-09-10", "14:00", model.AppointmentModeInPerson)

	_, err := f.svc.Approve(ctx, apt.ID, "dr-other", "")
	assertKind(t, err, apperrors.ErrForbidden)

	_, err = f.svc.Cancel(ctx, apt.ID, "stranger")
	assertKind(t, err, apperrors.ErrForbidden)

	_, err = f.svc.Reschedule(ctx, apt.ID, "stranger", "2024-09-11", "09:00")
	assertKind(t, err, apperrors.ErrForbidden)

	_, err = f.svc.Approve(ctx, uuid.New(), "dr-lee", "")
	assertKind(t, err, apperrors.ErrNotFound)
}

func TestApproveClaimsUnassignedRequest(t *testing.T) {
	f := newFixture(t)

	apt, err := f.svc.RequestAppointment(context.Background(), &model.CreateAppointmentRequest{
		RequesterID:   "p-ann",
		RequesterRole: model.RolePatient,
		DoctorName:    "Any cardiologist",
		Date:          "2024-09-10",
		Time:          "11:00",
		Reason:        "Palpitations",
	})
	require.NoError(t, err)
	assert.Empty(t, apt.DoctorID)

	confirmed, err := f.svc.Approve(context.Background(), apt.ID, "dr-kim", "")
	require.NoError(t, err)
	assert.Equal(t, "dr-kim", confirmed.DoctorID)
}

func TestConcurrentApprovalsExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const contenders = 12
	ids := make([]uuid.UUID, contenders)
	for i := range ids {
		ids[i] = f.request(t, "patient-"+string(rune('a'+i)), "2024-09-10", "14:00", model.AppointmentModeVideo).ID
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	start := make(chan struct{})
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			<-start
			_, err := f.svc.Approve(ctx, id, "dr-lee", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperrors.Is(err, apperrors.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, contenders-1, conflicts)

	confirmed, err := repository.Collect(f.repo.Query(ctx, model.AppointmentFilters{
		DoctorID: "dr-lee",
		Statuses: []model.AppointmentStatus{model.AppointmentStatusConfirmed},
	}))
	require.NoError(t, err)
	assert.Len(t, confirmed, 1)
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	held := f.request(t, "p-ann", "2024-09-10", "14:00", model.AppointmentModeVideo)
	_, err := f.svc.Approve(ctx, held.ID, "dr-lee", "")
	require.NoError(t, err)

	moving := f.request(t, "p-bob", "2024-09-10", "15:00", model.AppointmentModeVideo)
	_, err = f.svc.Approve(ctx, moving.ID, "dr-lee", "")
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, moving.ID, "p-bob", "2024-09-10", "14:00")
	assertKind(t, err, apperrors.ErrConflict)

	_, err = f.svc.Reschedule(ctx, moving.ID, "p-bob", "2024-08-01", "14:00")
	assertKind(t, err, apperrors.ErrValidation)

	moved, err := f.svc.Reschedule(ctx, moving.ID, "p-bob", "2024-09-11", "09:30")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, moved.Status)
	assert.Equal(t, "2024-09-11", moved.Date)
	assert.Equal(t, "09:30", moved.Time)

	last := f.events.events[len(f.events.events)-1]
	assert.Equal(t, model.EventAppointmentRescheduled, last.Type)
	assert.Equal(t, "2024-09-10", last.PreviousDate)
	assert.Equal(t, "15:00", last.PreviousTime)

	// the freed 15:00 slot can be taken by someone else
	other := f.request(t, "p-cat", "2024-09-10", "15:00", model.AppointmentModeVideo)
	_, err = f.svc.Approve(ctx, other.ID, "dr-lee", "")
	assert.NoError(t, err)

	_, err = f.svc.Cancel(ctx, held.ID, "p-ann")
	require.NoError(t, err)
	_, err = f.svc.Reschedule(ctx, held.ID, "p-ann", "2024-09-12", "10:00")
	assertKind(t, err, apperrors.ErrInvalidTransition)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.request(t, "p-ann", "2024-09-10", "14:00", model.AppointmentModeInPerson)

	updated, err := f.svc.Update(ctx, apt.ID, &model.UpdateAppointmentRequest{
		ActorID: "p-ann",
		Notes:   model.Ptr("Bring previous x-rays"),
		Reason:  model.Ptr("Cough and fever"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Bring previous x-rays", updated.Notes)
	assert.Equal(t, "Cough and fever", updated.Reason)
	assert.False(t, updated.UpdatedAt.Before(apt.UpdatedAt))

	moved, err := f.svc.Update(ctx, apt.ID, &model.UpdateAppointmentRequest{
		ActorID: "dr-lee",
		Time:    model.Ptr("16:00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "16:00", moved.Time)
	assert.Equal(t, "2024-09-10", moved.Date)

	_, err = f.svc.Update(ctx, apt.ID, &model.UpdateAppointmentRequest{ActorID: "p-ann", Reason: model.Ptr("")})
	assertKind(t, err, apperrors.ErrValidation)

	_, err = f.svc.Update(ctx, apt.ID, &model.UpdateAppointmentRequest{ActorID: "p-ann", Mode: model.Ptr(model.AppointmentMode("fax"))})
	assertKind(t, err, apperrors.ErrValidation)
}

func TestFailedUpdateLeavesRecordUntouched(t *testing.T) {
	ctx := context.Background()

	t.Run("past slot", func(t *testing.T) {
		f := newFixture(t)
		apt := f.request(t, "p-ann", "2024-09-10", "14:00", model.AppointmentModeInPerson)
		before, err := f.repo.Get(ctx, apt.ID)
		require.NoError(t, err)

		_, err = f.svc.Update(ctx, apt.ID, &model.UpdateAppointmentRequest{
			ActorID: "p-ann",
			Notes:   model.Ptr("changed"),
			Date:    model.Ptr("2024-08-01"),
		})
		assertKind(t, err, apperrors.ErrValidation)

		after, err := f.repo.Get(ctx, apt.ID)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("slot taken", func(t *testing.T) {
		f := newFixture(t)
		held := f.request(t, "p-ann", "2024-09-10", "14:00", model.AppointmentModeVideo)
		_, err := f.svc.Approve(ctx, held.ID, "dr-lee", "")
		require.NoError(t, err)
		moving := f.request(t, "p-bob", "2024-09-10", "15:00", model.AppointmentModeVideo)
		_, err = f.svc.Approve(ctx, moving.ID, "dr-lee", "")
		require.NoError(t, err)

		before, err := f.repo.Get(ctx, moving.ID)
		require.NoError(t, err)
		published := len(f.events.types())

		_, err = f.svc.Update(ctx, moving.ID, &model.UpdateAppointmentRequest{
			ActorID: "p-bob",
			Mode:    model.Ptr(model.AppointmentModePhone),
			Time:    model.Ptr("14:00"),
		})
		assertKind(t, err, apperrors.ErrConflict)

		after, err := f.repo.Get(ctx, moving.ID)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		assert.Equal(t, model.AppointmentModeVideo, after.Mode)
		assert.NotEmpty(t, after.MeetingLink)
		assert.Len(t, f.events.types(), published)
	})
}

func TestUpdateFieldsAndSlotIsOneReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.request(t, "p-ann", "2024-09-10", "14:00", model.AppointmentModeVideo)
	_, err := f.svc.Approve(ctx, apt.ID, "dr-lee", "")
	require.NoError(t, err)
	published := len(f.events.types())

	updated, err := f.svc.Update(ctx, apt.ID, &model.UpdateAppointmentRequest{
		ActorID: "p-ann",
		Notes:   model.Ptr("Running late"),
		Time:    model.Ptr("15:30"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Running late", updated.Notes)
	assert.Equal(t, "15:30", updated.Time)

	types := f.events.types()
	require.Len(t, types, published+1)
	assert.Equal(t, model.EventAppointmentRescheduled, types[len(types)-1])

	// field-only edits emit no event
	_, err = f.svc.Update(ctx, apt.ID, &model.UpdateAppointmentRequest{ActorID: "p-ann", Notes: model.Ptr("On time")})
	require.NoError(t, err)
	assert.Len(t, f.events.types(), published+1)
}

func TestUpdateSwitchingConfirmedToVideoAddsLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.request(t, "p-ann", "2024-09-10", "14:00", model.AppointmentModeInPerson)
	_, err := f.svc.Approve(ctx, apt.ID, "dr-lee", "Room 1")
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, apt.ID, &model.UpdateAppointmentRequest{
		ActorID: "p-ann",
		Mode:    model.Ptr(model.AppointmentModeVideo),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, updated.MeetingLink)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.request(t, "p-ann", "2024-09-10", "14:00", model.AppointmentModeInPerson)
	_, err := f.svc.Reject(ctx, apt.ID, "dr-lee", "Unavailable")
	require.NoError(t, err)

	history, err := f.svc.History(ctx, apt.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.AuditActionRequest, history[0].Action)
	assert.Equal(t, model.AppointmentStatusPending, history[0].ToStatus)
	assert.Equal(t, model.AuditActionReject, history[1].Action)
	assert.Equal(t, model.AppointmentStatusPending, history[1].FromStatus)
	assert.Equal(t, model.AppointmentStatusRejected, history[1].ToStatus)

	_, err = f.svc.History(ctx, uuid.New())
	assertKind(t, err, apperrors.ErrNotFound)
}

type slowRepo struct {
	repository.AppointmentRepository
}

func (slowRepo) Get(ctx context.Context, _ uuid.UUID) (*model.Appointment, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStoreTimeoutIsTransient(t *testing.T) {
	svc := NewService(slowRepo{}, nil, nil, nil, Config{StoreTimeout: 20 * time.Millisecond}, logger.Nop(), nil)

	_, err := svc.Get(context.Background(), uuid.New())
	assertKind(t, err, apperrors.ErrTransient)

	_, err = svc.Cancel(context.Background(), uuid.New(), "p-ann")
	assertKind(t, err, apperrors.ErrTransient)
}

func TestMapStoreError(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, Config{}, logger.Nop(), nil)

	assert.Equal(t, apperrors.ErrNotFound, apperrors.KindOf(svc.mapStoreError(repository.ErrNotFound)))
	assert.Equal(t, apperrors.ErrValidation, apperrors.KindOf(svc.mapStoreError(repository.ErrInvalid)))
	assert.Equal(t, apperrors.ErrConflict, apperrors.KindOf(svc.mapStoreError(repository.ErrSlotTaken)))
	assert.Equal(t, apperrors.ErrTransient, apperrors.KindOf(svc.mapStoreError(repository.ErrUnavailable)))
	assert.Equal(t, apperrors.ErrTransient, apperrors.KindOf(svc.mapStoreError(context.DeadlineExceeded)))
	assert.Equal(t, apperrors.ErrInternal, apperrors.KindOf(svc.mapStoreError(assert.AnError)))
	assert.NoError(t, svc.mapStoreError(nil))
}
