package appointment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/scheduling-api/internal/meeting"
	"github.com/jwalitptl/scheduling-api/internal/model"
	"github.com/jwalitptl/scheduling-api/internal/repository"
	"github.com/jwalitptl/scheduling-api/internal/service/audit"
	"github.com/jwalitptl/scheduling-api/internal/service/event"
	apperrors "github.com/jwalitptl/scheduling-api/pkg/errors"
	"github.com/jwalitptl/scheduling-api/pkg/logger"
	"github.com/jwalitptl/scheduling-api/pkg/metrics"
)

const DefaultStoreTimeout = 5 * time.Second

// Config holds the scheduling rules applied by the service
type Config struct {
	Location        *time.Location
	StoreTimeout    time.Duration
	DefaultDuration int
	DefaultLocation string
	WorkDayStart    string
	WorkDayEnd      string
	SlotStepMinutes int
	Alternatives    int
}

type Service struct {
	repo     repository.AppointmentRepository
	events   event.Publisher
	meetings meeting.Provider
	auditor  *audit.Service
	config   Config
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for past/future checks
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(
	repo repository.AppointmentRepository,
	events event.Publisher,
	meetings meeting.Provider,
	auditor *audit.Service,
	config Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
	opts ...Option,
) *Service {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = DefaultStoreTimeout
	}
	if config.DefaultDuration <= 0 {
		config.DefaultDuration = model.DefaultDurationMinutes
	}
	if config.WorkDayStart == "" {
		config.WorkDayStart = "09:00"
	}
	if config.WorkDayEnd == "" {
		config.WorkDayEnd = "17:00"
	}
	if config.SlotStepMinutes <= 0 {
		config.SlotStepMinutes = 30
	}

	s := &Service{
		repo:     repo,
		events:   events,
		meetings: meetings,
		auditor:  auditor,
		config:   config,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestAppointment creates a pending appointment on behalf of a patient or a doctor
func (s *Service) RequestAppointment(ctx context.Context, req *model.CreateAppointmentRequest) (apt *model.Appointment, err error) {
	defer func() { s.metrics.ObserveTransition("request", err) }()

	apt = &model.Appointment{
		PatientID:    strings.TrimSpace(req.PatientID),
		DoctorID:     strings.TrimSpace(req.DoctorID),
		PatientName:  strings.TrimSpace(req.PatientName),
		DoctorName:   strings.TrimSpace(req.DoctorName),
		PatientEmail: req.PatientEmail,
		DoctorEmail:  req.DoctorEmail,
		Date:         req.Date,
		Time:         req.Time,
		Duration:     req.Duration,
		Type:         req.Type,
		Mode:         req.Mode,
		Reason:       strings.TrimSpace(req.Reason),
		Notes:        req.Notes,
		Location:     req.Location,
	}

	requester := strings.TrimSpace(req.RequesterID)
	switch req.RequesterRole {
	case model.RolePatient:
		if requester != "" {
			apt.PatientID = requester
		}
		if apt.PatientID == "" {
			return nil, apperrors.NewValidation("requesterId is required")
		}
		if apt.DoctorID == "" && apt.DoctorName == "" {
			return nil, apperrors.NewValidation("doctorId or doctorName is required")
		}
	case model.RoleDoctor:
		if requester != "" {
			apt.DoctorID = requester
		}
		if apt.DoctorID == "" {
			return nil, apperrors.NewValidation("requesterId is required")
		}
		if apt.PatientID == "" && apt.PatientName == "" {
			return nil, apperrors.NewValidation("patientId or patientName is required")
		}
	default:
		return nil, apperrors.NewValidationf("requesterRole must be patient or doctor, got %q", req.RequesterRole)
	}

	if apt.Type == "" {
		apt.Type = model.AppointmentTypeConsultation
	}
	if apt.Mode == "" {
		apt.Mode = model.AppointmentModeInPerson
	}
	if apt.Duration == 0 {
		apt.Duration = s.config.DefaultDuration
	}
	apt.Status = model.AppointmentStatusPending

	if err := apt.Validate(); err != nil {
		return nil, apperrors.NewValidation(err.Error())
	}
	if err := s.requireFuture(apt.Date, apt.Time); err != nil {
		return nil, err
	}

	err = s.withTimeout(ctx, "insert", func(ctx context.Context) error {
		return s.repo.Insert(ctx, apt)
	})
	if err != nil {
		return nil, s.mapStoreError(err)
	}

	s.afterTransition(ctx, apt, requester, model.EventAppointmentRequested, model.AuditActionRequest, "", nil)
	return apt, nil
}

// Get returns a single appointment
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var apt *model.Appointment
	err := s.withTimeout(ctx, "get", func(ctx context.Context) error {
		var err error
		apt, err = s.repo.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, s.mapStoreError(err)
	}
	return apt, nil
}

// Approve confirms a pending appointment. The caller claims an unassigned request.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, doctorID, location string) (apt *model.Appointment, err error) {
	defer func() { s.metrics.ObserveTransition("approve", err) }()

	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, apperrors.NewValidation("doctorId is required")
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(current.Status, model.AppointmentStatusConfirmed) {
		return nil, transitionError(current.Status, model.AppointmentStatusConfirmed)
	}
	if err := authorizeDoctor(current, doctorID); err != nil {
		return nil, err
	}

	patch := model.AppointmentPatch{
		Status:   model.Ptr(model.AppointmentStatusConfirmed),
		DoctorID: model.Ptr(doctorID),
	}

	switch current.Mode {
	case model.AppointmentModeInPerson:
		loc := firstNonEmpty(location, current.Location, s.config.DefaultLocation)
		if loc == "" {
			return nil, apperrors.NewValidation("location is required for in-person appointments")
		}
		patch.Location = model.Ptr(loc)
	case model.AppointmentModeVideo:
		link, err := s.meetings.Link(ctx, current.ID)
		if err != nil {
			return nil, apperrors.NewInternal(err)
		}
		patch.MeetingLink = model.Ptr(link)
	}

	held := *current
	held.DoctorID = doctorID
	if err := s.checkSlotFree(ctx, &held); err != nil {
		return nil, err
	}

	return s.transition(ctx, current, doctorID, patch, model.EventAppointmentApproved, model.AuditActionApprove, nil)
}

// Reject declines a pending appointment with a mandatory reason
func (s *Service) Reject(ctx context.Context, id uuid.UUID, doctorID, reason string) (apt *model.Appointment, err error) {
	defer func() { s.metrics.ObserveTransition("reject", err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.NewValidation("reason is required to reject an appointment")
	}
	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, apperrors.NewValidation("doctorId is required")
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(current.Status, model.AppointmentStatusRejected) {
		return nil, transitionError(current.Status, model.AppointmentStatusRejected)
	}
	if err := authorizeDoctor(current, doctorID); err != nil {
		return nil, err
	}

	patch := model.AppointmentPatch{
		Status:          model.Ptr(model.AppointmentStatusRejected),
		DoctorID:        model.Ptr(doctorID),
		RejectionReason: model.Ptr(reason),
	}
	return s.transition(ctx, current, doctorID, patch, model.EventAppointmentRejected, model.AuditActionReject,
		map[string]interface{}{"reason": reason})
}

// Cancel moves a pending or confirmed appointment to cancelled on behalf of either party
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actorID string) (apt *model.Appointment, err error) {
	defer func() { s.metrics.ObserveTransition("cancel", err) }()

	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, apperrors.NewValidation("actorId is required")
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(current.Status, model.AppointmentStatusCancelled) {
		return nil, transitionError(current.Status, model.AppointmentStatusCancelled)
	}
	if !current.HasParty(actorID) {
		return nil, apperrors.NewForbidden("only the patient or the doctor can cancel this appointment")
	}

	patch := model.AppointmentPatch{
		Status:      model.Ptr(model.AppointmentStatusCancelled),
		CancelledBy: model.Ptr(actorID),
		MeetingLink: model.Ptr(""),
	}
	return s.transition(ctx, current, actorID, patch, model.EventAppointmentCancelled, model.AuditActionCancel, nil)
}

// Complete marks a confirmed appointment whose start time has passed as completed
func (s *Service) Complete(ctx context.Context, id uuid.UUID, doctorID string) (apt *model.Appointment, err error) {
	defer func() { s.metrics.ObserveTransition("complete", err) }()

	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, apperrors.NewValidation("doctorId is required")
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(current.Status, model.AppointmentStatusCompleted) {
		return nil, transitionError(current.Status, model.AppointmentStatusCompleted)
	}
	if current.DoctorID != doctorID {
		return nil, apperrors.NewForbidden("only the assigned doctor can complete this appointment")
	}

	start, err := current.StartsAt(s.config.Location)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	if start.After(s.now()) {
		return nil, apperrors.NewValidation("appointment has not started yet")
	}

	patch := model.AppointmentPatch{Status: model.Ptr(model.AppointmentStatusCompleted)}
	return s.transition(ctx, current, doctorID, patch, model.EventAppointmentCompleted, model.AuditActionComplete, nil)
}

// Reschedule moves a pending or confirmed appointment to a new future slot without changing its status
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, actorID, date, clock string) (apt *model.Appointment, err error) {
	defer func() { s.metrics.ObserveTransition("reschedule", err) }()

	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, apperrors.NewValidation("actorId is required")
	}
	if !model.ValidDate(date) {
		return nil, apperrors.NewValidation("appointmentDate must be YYYY-MM-DD")
	}
	if !model.ValidTime(clock) {
		return nil, apperrors.NewValidation("appointmentTime must be HH:MM")
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.reschedule(ctx, current, actorID, date, clock)
}

func (s *Service) reschedule(ctx context.Context, current *model.Appointment, actorID, date, clock string) (*model.Appointment, error) {
	if !reschedulable(current.Status) {
		return nil, apperrors.NewInvalidTransition(string(current.Status), "rescheduled")
	}
	if !current.HasParty(actorID) {
		return nil, apperrors.NewForbidden("only the patient or the doctor can reschedule this appointment")
	}
	if err := s.requireFuture(date, clock); err != nil {
		return nil, err
	}
	if current.Date == date && current.Time == clock {
		return current, nil
	}

	moved := *current
	moved.Date, moved.Time = date, clock
	if current.Status.HoldsSlot() {
		if err := s.checkSlotFree(ctx, &moved); err != nil {
			return nil, err
		}
	}

	patch := model.AppointmentPatch{
		Date: model.Ptr(date),
		Time: model.Ptr(clock),
	}
	meta := map[string]interface{}{
		"previousDate": current.Date,
		"previousTime": current.Time,
	}
	return s.transition(ctx, current, actorID, patch, model.EventAppointmentRescheduled, model.AuditActionReschedule, meta)
}

// Update edits the narrative and classification fields of an open appointment.
// A changed date or time moves the slot in the same write, so a failed update
// leaves the record untouched.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req *model.UpdateAppointmentRequest) (apt *model.Appointment, err error) {
	defer func() { s.metrics.ObserveTransition("update", err) }()

	actorID := strings.TrimSpace(req.ActorID)
	if actorID == "" {
		return nil, apperrors.NewValidation("actorId is required")
	}
	if req.Type != nil && !req.Type.Valid() {
		return nil, apperrors.NewValidationf("unknown appointment type %q", *req.Type)
	}
	if req.Mode != nil && !req.Mode.Valid() {
		return nil, apperrors.NewValidationf("unknown appointment mode %q", *req.Mode)
	}
	if req.Reason != nil && strings.TrimSpace(*req.Reason) == "" {
		return nil, apperrors.NewValidation("reason cannot be empty")
	}
	if req.Duration != nil && *req.Duration <= 0 {
		return nil, apperrors.NewValidation("duration must be positive")
	}
	if req.Date != nil && !model.ValidDate(*req.Date) {
		return nil, apperrors.NewValidation("appointmentDate must be YYYY-MM-DD")
	}
	if req.Time != nil && !model.ValidTime(*req.Time) {
		return nil, apperrors.NewValidation("appointmentTime must be HH:MM")
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !reschedulable(current.Status) {
		return nil, apperrors.NewInvalidTransition(string(current.Status), "updated")
	}
	if !current.HasParty(actorID) {
		return nil, apperrors.NewForbidden("only the patient or the doctor can update this appointment")
	}

	patch := model.AppointmentPatch{
		Type:     req.Type,
		Mode:     req.Mode,
		Duration: req.Duration,
		Notes:    req.Notes,
		Location: req.Location,
	}
	if req.Reason != nil {
		patch.Reason = model.Ptr(strings.TrimSpace(*req.Reason))
	}

	date, clock := current.Date, current.Time
	if req.Date != nil {
		date = *req.Date
	}
	if req.Time != nil {
		clock = *req.Time
	}
	moved := date != current.Date || clock != current.Time
	if moved {
		if err := s.requireFuture(date, clock); err != nil {
			return nil, err
		}
		patch.Date = model.Ptr(date)
		patch.Time = model.Ptr(clock)
	}

	if !moved && !hasFieldChanges(patch) {
		return current, nil
	}

	next := *current
	patch.Apply(&next)

	if next.Status == model.AppointmentStatusConfirmed {
		switch {
		case next.Mode == model.AppointmentModeVideo && next.MeetingLink == "":
			link, err := s.meetings.Link(ctx, next.ID)
			if err != nil {
				return nil, apperrors.NewInternal(err)
			}
			patch.MeetingLink = model.Ptr(link)
		case next.Mode != model.AppointmentModeVideo && next.MeetingLink != "":
			patch.MeetingLink = model.Ptr("")
		}
		if next.Mode == model.AppointmentModeInPerson && strings.TrimSpace(next.Location) == "" {
			return nil, apperrors.NewValidation("location is required for in-person appointments")
		}
	}

	if !moved {
		patch.ExpectStatus = model.Ptr(current.Status)
		updated, err := s.update(ctx, current, patch)
		if err != nil {
			return nil, err
		}
		s.afterTransition(ctx, updated, actorID, "", model.AuditActionUpdate, current.Status, nil)
		return updated, nil
	}

	if current.Status.HoldsSlot() {
		if err := s.checkSlotFree(ctx, &next); err != nil {
			return nil, err
		}
	}
	meta := map[string]interface{}{
		"previousDate": current.Date,
		"previousTime": current.Time,
	}
	return s.transition(ctx, current, actorID, patch, model.EventAppointmentRescheduled, model.AuditActionReschedule, meta)
}

// History returns the recorded transitions of an appointment
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*model.AuditLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.auditor == nil {
		return []*model.AuditLog{}, nil
	}

	var logs []*model.AuditLog
	err := s.withTimeout(ctx, "history", func(ctx context.Context) error {
		var err error
		logs, err = s.auditor.History(ctx, id)
		return err
	})
	if err != nil {
		return nil, s.mapStoreError(err)
	}
	return logs, nil
}

// transition writes patch conditioned on the status current was read with,
// then emits the event and the audit entry.
func (s *Service) transition(
	ctx context.Context,
	current *model.Appointment,
	actorID string,
	patch model.AppointmentPatch,
	eventType model.EventType,
	action string,
	meta map[string]interface{},
) (*model.Appointment, error) {
	patch.ExpectStatus = model.Ptr(current.Status)

	updated, err := s.update(ctx, current, patch)
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, updated, actorID, eventType, action, current.Status, meta)
	return updated, nil
}

func (s *Service) update(ctx context.Context, current *model.Appointment, patch model.AppointmentPatch) (*model.Appointment, error) {
	var updated *model.Appointment
	err := s.withTimeout(ctx, "update", func(ctx context.Context) error {
		var err error
		updated, err = s.repo.Update(ctx, current.ID, patch)
		return err
	})

	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, repository.ErrStatusChange):
		target := current.Status
		if patch.Status != nil {
			target = *patch.Status
		}
		if latest, getErr := s.Get(ctx, current.ID); getErr == nil {
			return nil, transitionError(latest.Status, target)
		}
		return nil, transitionError(current.Status, target)
	case errors.Is(err, repository.ErrSlotTaken):
		next := *current
		patch.Apply(&next)
		return nil, s.conflict(ctx, &next)
	}
	return nil, s.mapStoreError(err)
}

// afterTransition publishes the event and writes the audit entry. Failures are
// logged and never surface to the caller.
func (s *Service) afterTransition(
	ctx context.Context,
	apt *model.Appointment,
	actorID string,
	eventType model.EventType,
	action string,
	from model.AppointmentStatus,
	meta map[string]interface{},
) {
	now := s.now().UTC()

	if s.events != nil && eventType != "" {
		evt := model.NewAppointmentEvent(eventType, apt, actorID, now)
		if eventType == model.EventAppointmentRescheduled && meta != nil {
			evt.PreviousDate, _ = meta["previousDate"].(string)
			evt.PreviousTime, _ = meta["previousTime"].(string)
		}
		err := s.withTimeout(ctx, "publish", func(ctx context.Context) error {
			return s.events.Publish(ctx, evt)
		})
		if err != nil {
			s.logger.Error(err, "Failed to publish appointment event",
				"appointment_id", apt.ID.String(), "event_type", string(eventType))
		}
	}

	if s.auditor != nil {
		entry := audit.Entry{
			AppointmentID: apt.ID,
			ActorID:       actorID,
			Action:        action,
			From:          from,
			To:            apt.Status,
			Metadata:      meta,
		}
		err := s.withTimeout(ctx, "audit", func(ctx context.Context) error {
			return s.auditor.Log(ctx, entry)
		})
		if err != nil {
			s.logger.Error(err, "Failed to write audit log",
				"appointment_id", apt.ID.String(), "action", action)
		}
	}
}

// checkSlotFree is an early conflict check. The store re-validates on write.
func (s *Service) checkSlotFree(ctx context.Context, apt *model.Appointment) error {
	if apt.DoctorID == "" {
		return nil
	}
	holders, err := s.collect(ctx, model.AppointmentFilters{
		DoctorID: apt.DoctorID,
		Statuses: []model.AppointmentStatus{model.AppointmentStatusConfirmed, model.AppointmentStatusCompleted},
		DateFrom: apt.Date,
		DateTo:   apt.Date,
	})
	if err != nil {
		return err
	}
	for _, h := range holders {
		if h.ID != apt.ID && h.Time == apt.Time {
			return s.conflict(ctx, apt)
		}
	}
	return nil
}

func (s *Service) conflict(ctx context.Context, apt *model.Appointment) error {
	s.metrics.ObserveConflict()
	appErr := apperrors.NewConflict(repository.ErrSlotTaken)

	if s.config.Alternatives > 0 && apt.DoctorID != "" {
		slots, err := s.SuggestSlots(ctx, apt.DoctorID, apt.Date, apt.Duration, s.config.Alternatives)
		if err != nil {
			s.logger.Warn("Failed to suggest alternative slots", "doctor_id", apt.DoctorID, "error", err.Error())
		} else {
			appErr.WithDetail("alternatives", slots)
		}
	}
	return appErr
}

func (s *Service) requireFuture(date, clock string) error {
	start, err := model.ParseSlot(date, clock, s.config.Location)
	if err != nil {
		return apperrors.NewValidation("appointmentDate and appointmentTime must form a valid slot")
	}
	if !start.After(s.now()) {
		return apperrors.NewValidation("appointment must be scheduled in the future")
	}
	return nil
}

// withTimeout bounds a single store call by the configured store timeout
func (s *Service) withTimeout(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	timer := s.metrics.StoreTimer(op)
	defer timer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	return fn(ctx)
}

func (s *Service) mapStoreError(err error) error {
	var appErr *apperrors.AppError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("appointment", err)
	case errors.Is(err, repository.ErrInvalid):
		return apperrors.NewValidation(err.Error())
	case errors.Is(err, repository.ErrSlotTaken):
		return apperrors.NewConflict(err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, repository.ErrUnavailable):
		return apperrors.NewTransient(err)
	}
	return apperrors.NewInternal(err)
}

func authorizeDoctor(apt *model.Appointment, doctorID string) error {
	if apt.DoctorID != "" && apt.DoctorID != doctorID {
		return apperrors.NewForbidden("appointment is assigned to another doctor")
	}
	return nil
}

func transitionError(from, to model.AppointmentStatus) error {
	return apperrors.NewInvalidTransition(string(from), string(to))
}

func reschedulable(s model.AppointmentStatus) bool {
	return s == model.AppointmentStatusPending || s == model.AppointmentStatusConfirmed
}

func hasFieldChanges(p model.AppointmentPatch) bool {
	return p.Type != nil || p.Mode != nil || p.Duration != nil || p.Reason != nil ||
		p.Notes != nil || p.Location != nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
