package appointment

import (
	"context"
	"sort"
	"time"

	"github.com/jwalitptl/scheduling-api/internal/model"
	"github.com/jwalitptl/scheduling-api/internal/repository"
	apperrors "github.com/jwalitptl/scheduling-api/pkg/errors"
)

// maxSuggestionDays bounds how far ahead SuggestSlots looks for free times
const maxSuggestionDays = 14

// ListForPatient returns the patient's appointments split into upcoming and history
func (s *Service) ListForPatient(ctx context.Context, patientID string, opts model.ListOptions) (*model.AppointmentView, error) {
	if patientID == "" {
		return nil, apperrors.NewValidation("userId is required")
	}
	return s.list(ctx, model.AppointmentFilters{
		PatientID: patientID,
		Statuses:  opts.Statuses,
		DateFrom:  opts.DateFrom,
		DateTo:    opts.DateTo,
	})
}

// ListForDoctor returns the doctor's appointments split into upcoming and history
func (s *Service) ListForDoctor(ctx context.Context, doctorID string, opts model.ListOptions) (*model.AppointmentView, error) {
	if doctorID == "" {
		return nil, apperrors.NewValidation("userId is required")
	}
	return s.list(ctx, model.AppointmentFilters{
		DoctorID: doctorID,
		Statuses: opts.Statuses,
		DateFrom: opts.DateFrom,
		DateTo:   opts.DateTo,
	})
}

// ListForRole dispatches to the patient or doctor view
func (s *Service) ListForRole(ctx context.Context, userID string, role model.Role, opts model.ListOptions) (*model.AppointmentView, error) {
	switch role {
	case model.RolePatient:
		return s.ListForPatient(ctx, userID, opts)
	case model.RoleDoctor:
		return s.ListForDoctor(ctx, userID, opts)
	}
	return nil, apperrors.NewValidationf("role must be patient or doctor, got %q", role)
}

// Upcoming returns at most limit upcoming appointments, soonest first. A
// non-positive limit returns all of them.
func (s *Service) Upcoming(ctx context.Context, userID string, role model.Role, limit int) ([]*model.Appointment, error) {
	view, err := s.ListForRole(ctx, userID, role, model.ListOptions{
		Statuses: []model.AppointmentStatus{model.AppointmentStatusPending, model.AppointmentStatusConfirmed},
		DateFrom: s.today(),
	})
	if err != nil {
		return nil, err
	}
	upcoming := view.Upcoming
	if limit > 0 && len(upcoming) > limit {
		upcoming = upcoming[:limit]
	}
	return upcoming, nil
}

// PendingApprovals returns the doctor's pending requests, oldest request first.
// With includeUnassigned, requests naming no doctor id are queued as well so
// any doctor can claim them on approval.
func (s *Service) PendingApprovals(ctx context.Context, doctorID string, includeUnassigned bool) ([]*model.Appointment, error) {
	if doctorID == "" {
		return nil, apperrors.NewValidation("userId is required")
	}
	pending, err := s.collect(ctx, model.AppointmentFilters{
		DoctorID:          doctorID,
		IncludeUnassigned: includeUnassigned,
		Statuses:          []model.AppointmentStatus{model.AppointmentStatusPending},
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return pending, nil
}

// SuggestSlots returns up to n free start times for the doctor on or after
// date, within working hours and not in the past.
func (s *Service) SuggestSlots(ctx context.Context, doctorID, date string, duration, n int) ([]model.TimeSlot, error) {
	if doctorID == "" {
		return nil, apperrors.NewValidation("doctorId is required")
	}
	if !model.ValidDate(date) {
		return nil, apperrors.NewValidation("date must be YYYY-MM-DD")
	}
	if duration <= 0 {
		duration = s.config.DefaultDuration
	}
	if n <= 0 {
		n = 1
	}

	day, _ := time.ParseInLocation(model.DateLayout, date, s.config.Location)
	lastDay := day.AddDate(0, 0, maxSuggestionDays-1)

	held, err := s.collect(ctx, model.AppointmentFilters{
		DoctorID: doctorID,
		Statuses: []model.AppointmentStatus{model.AppointmentStatusConfirmed, model.AppointmentStatusCompleted},
		DateFrom: date,
		DateTo:   lastDay.Format(model.DateLayout),
	})
	if err != nil {
		return nil, err
	}

	busy := make(map[string][]interval)
	for _, h := range held {
		start, err := h.StartsAt(s.config.Location)
		if err != nil {
			continue
		}
		busy[h.Date] = append(busy[h.Date], interval{start, start.Add(time.Duration(h.Duration) * time.Minute)})
	}

	now := s.now()
	step := time.Duration(s.config.SlotStepMinutes) * time.Minute
	length := time.Duration(duration) * time.Minute
	slots := make([]model.TimeSlot, 0, n)

	for d := day; !d.After(lastDay) && len(slots) < n; d = d.AddDate(0, 0, 1) {
		dateStr := d.Format(model.DateLayout)
		open, err1 := model.ParseSlot(dateStr, s.config.WorkDayStart, s.config.Location)
		closeAt, err2 := model.ParseSlot(dateStr, s.config.WorkDayEnd, s.config.Location)
		if err1 != nil || err2 != nil {
			return nil, apperrors.NewInternal(firstErr(err1, err2))
		}

		for start := open; !start.Add(length).After(closeAt) && len(slots) < n; start = start.Add(step) {
			if !start.After(now) {
				continue
			}
			candidate := interval{start, start.Add(length)}
			if candidate.overlapsAny(busy[dateStr]) {
				continue
			}
			slots = append(slots, model.TimeSlot{
				Date:     dateStr,
				Time:     start.Format(model.TimeLayout),
				Duration: duration,
			})
		}
	}
	return slots, nil
}

func (s *Service) list(ctx context.Context, filters model.AppointmentFilters) (*model.AppointmentView, error) {
	all, err := s.collect(ctx, filters)
	if err != nil {
		return nil, err
	}

	today := s.today()
	view := &model.AppointmentView{
		All:      all,
		Upcoming: make([]*model.Appointment, 0),
		History:  make([]*model.Appointment, 0),
	}
	for _, apt := range all {
		if isUpcoming(apt, today) {
			view.Upcoming = append(view.Upcoming, apt)
		} else {
			view.History = append(view.History, apt)
		}
	}
	return view, nil
}

// collect drains a store query under the store timeout
func (s *Service) collect(ctx context.Context, filters model.AppointmentFilters) ([]*model.Appointment, error) {
	var out []*model.Appointment
	err := s.withTimeout(ctx, "query", func(ctx context.Context) error {
		var err error
		out, err = repository.Collect(s.repo.Query(ctx, filters))
		return err
	})
	if err != nil {
		return nil, s.mapStoreError(err)
	}
	if out == nil {
		out = make([]*model.Appointment, 0)
	}
	return out, nil
}

func (s *Service) today() string {
	return s.now().In(s.config.Location).Format(model.DateLayout)
}

func isUpcoming(apt *model.Appointment, today string) bool {
	open := apt.Status == model.AppointmentStatusPending || apt.Status == model.AppointmentStatusConfirmed
	return open && apt.Date >= today
}

type interval struct {
	start, end time.Time
}

func (i interval) overlapsAny(others []interval) bool {
	for _, o := range others {
		if i.start.Before(o.end) && o.start.Before(i.end) {
			return true
		}
	}
	return false
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
