package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusRejected  AppointmentStatus = "rejected"
)

type AppointmentType string

const (
	AppointmentTypeConsultation AppointmentType = "consultation"
	AppointmentTypeFollowUp     AppointmentType = "follow-up"
	AppointmentTypeCheckup      AppointmentType = "checkup"
	AppointmentTypeEmergency    AppointmentType = "emergency"
)

type AppointmentMode string

const (
	AppointmentModeInPerson AppointmentMode = "in-person"
	AppointmentModeVideo    AppointmentMode = "video"
	AppointmentModePhone    AppointmentMode = "phone"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	DefaultDurationMinutes = 30
)

// Role of the caller issuing a command
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

var transitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentStatusPending:   {AppointmentStatusConfirmed, AppointmentStatusRejected, AppointmentStatusCancelled},
	AppointmentStatusConfirmed: {AppointmentStatusCompleted, AppointmentStatusCancelled},
}

// CanTransition reports whether the lifecycle allows moving from one status to another
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible
func (s AppointmentStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusPending, AppointmentStatusConfirmed, AppointmentStatusCompleted,
		AppointmentStatusCancelled, AppointmentStatusRejected:
		return true
	}
	return false
}

// HoldsSlot reports whether the status reserves the doctor's slot
func (s AppointmentStatus) HoldsSlot() bool {
	return s == AppointmentStatusConfirmed || s == AppointmentStatusCompleted
}

func (t AppointmentType) Valid() bool {
	switch t {
	case AppointmentTypeConsultation, AppointmentTypeFollowUp, AppointmentTypeCheckup, AppointmentTypeEmergency:
		return true
	}
	return false
}

func (m AppointmentMode) Valid() bool {
	switch m {
	case AppointmentModeInPerson, AppointmentModeVideo, AppointmentModePhone:
		return true
	}
	return false
}

type Appointment struct {
	ID              uuid.UUID         `db:"id" json:"_id"`
	PatientID       string            `db:"patient_id" json:"patientId"`
	DoctorID        string            `db:"doctor_id" json:"doctorId"`
	PatientName     string            `db:"patient_name" json:"patientName"`
	DoctorName      string            `db:"doctor_name" json:"doctorName"`
	PatientEmail    string            `db:"patient_email" json:"patientEmail,omitempty"`
	DoctorEmail     string            `db:"doctor_email" json:"doctorEmail,omitempty"`
	Date            string            `db:"appointment_date" json:"appointmentDate"`
	Time            string            `db:"appointment_time" json:"appointmentTime"`
	Duration        int               `db:"duration_minutes" json:"duration"`
	Type            AppointmentType   `db:"type" json:"type"`
	Mode            AppointmentMode   `db:"mode" json:"mode"`
	Status          AppointmentStatus `db:"status" json:"status"`
	Reason          string            `db:"reason" json:"reason"`
	Notes           string            `db:"notes" json:"notes,omitempty"`
	Location        string            `db:"location" json:"location,omitempty"`
	MeetingLink     string            `db:"meeting_link" json:"meetingLink,omitempty"`
	RejectionReason string            `db:"rejection_reason" json:"rejectionReason,omitempty"`
	CancelledBy     string            `db:"cancelled_by" json:"cancelledBy,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updatedAt"`
}

// StartsAt resolves the appointment's date and time in loc
func (a *Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	return ParseSlot(a.Date, a.Time, loc)
}

// SlotKey identifies the doctor's slot held by a confirmed appointment
func (a *Appointment) SlotKey() string {
	return a.DoctorID + "|" + a.Date + "|" + a.Time
}

// HasParty reports whether actorID is the patient or the doctor of the appointment
func (a *Appointment) HasParty(actorID string) bool {
	return actorID != "" && (actorID == a.PatientID || actorID == a.DoctorID)
}

// Clone returns a copy safe to hand out of a store
func (a *Appointment) Clone() *Appointment {
	c := *a
	return &c
}

// Validate checks the fields every stored appointment must carry
func (a *Appointment) Validate() error {
	switch {
	case a.PatientID == "" && a.PatientName == "":
		return fmt.Errorf("patient must be identified by id or name")
	case a.DoctorID == "" && a.DoctorName == "":
		return fmt.Errorf("doctor must be identified by id or name")
	case !ValidDate(a.Date):
		return fmt.Errorf("appointmentDate must be YYYY-MM-DD")
	case !ValidTime(a.Time):
		return fmt.Errorf("appointmentTime must be HH:MM")
	case a.Duration <= 0:
		return fmt.Errorf("duration must be positive")
	case strings.TrimSpace(a.Reason) == "":
		return fmt.Errorf("reason is required")
	case !a.Type.Valid():
		return fmt.Errorf("unknown appointment type %q", a.Type)
	case !a.Mode.Valid():
		return fmt.Errorf("unknown appointment mode %q", a.Mode)
	case !a.Status.Valid():
		return fmt.Errorf("unknown status %q", a.Status)
	}
	return nil
}

// ParseSlot parses a YYYY-MM-DD date and HH:MM time in loc
func ParseSlot(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot %q %q: %w", date, clock, err)
	}
	return t, nil
}

// ValidDate reports whether s is a YYYY-MM-DD calendar date
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// ValidTime reports whether s is an HH:MM time of day
func ValidTime(s string) bool {
	_, err := time.Parse(TimeLayout, s)
	return err == nil && len(s) == len(TimeLayout)
}

// AppointmentPatch lists the fields an update may change. Nil fields are left untouched.
type AppointmentPatch struct {
	// ExpectStatus makes the write conditional on the stored status
	ExpectStatus *AppointmentStatus

	Status          *AppointmentStatus
	DoctorID        *string
	DoctorName      *string
	Date            *string
	Time            *string
	Duration        *int
	Type            *AppointmentType
	Mode            *AppointmentMode
	Reason          *string
	Notes           *string
	Location        *string
	MeetingLink     *string
	RejectionReason *string
	CancelledBy     *string
}

// Apply merges the patch into a
func (p *AppointmentPatch) Apply(a *Appointment) {
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.DoctorID != nil {
		a.DoctorID = *p.DoctorID
	}
	if p.DoctorName != nil {
		a.DoctorName = *p.DoctorName
	}
	if p.Date != nil {
		a.Date = *p.Date
	}
	if p.Time != nil {
		a.Time = *p.Time
	}
	if p.Duration != nil {
		a.Duration = *p.Duration
	}
	if p.Type != nil {
		a.Type = *p.Type
	}
	if p.Mode != nil {
		a.Mode = *p.Mode
	}
	if p.Reason != nil {
		a.Reason = *p.Reason
	}
	if p.Notes != nil {
		a.Notes = *p.Notes
	}
	if p.Location != nil {
		a.Location = *p.Location
	}
	if p.MeetingLink != nil {
		a.MeetingLink = *p.MeetingLink
	}
	if p.RejectionReason != nil {
		a.RejectionReason = *p.RejectionReason
	}
	if p.CancelledBy != nil {
		a.CancelledBy = *p.CancelledBy
	}
}

// AppointmentFilters selects appointments in a store query
type AppointmentFilters struct {
	PatientID string
	DoctorID  string
	// IncludeUnassigned widens a DoctorID filter to requests with no doctor yet
	IncludeUnassigned bool
	Statuses  []AppointmentStatus
	// DateFrom and DateTo are inclusive YYYY-MM-DD bounds
	DateFrom string
	DateTo   string
	Limit    int
}

// Matches reports whether a satisfies the filters
func (f AppointmentFilters) Matches(a *Appointment) bool {
	if f.PatientID != "" && a.PatientID != f.PatientID {
		return false
	}
	if f.DoctorID != "" && a.DoctorID != f.DoctorID && !(f.IncludeUnassigned && a.DoctorID == "") {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.DateFrom != "" && a.Date < f.DateFrom {
		return false
	}
	if f.DateTo != "" && a.Date > f.DateTo {
		return false
	}
	return true
}

// Less orders appointments by date, time, creation and id
func Less(a, b *Appointment) bool {
	if a.Date != b.Date {
		return a.Date < b.Date
	}
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// TimeSlot is a free start time offered when a slot is taken
type TimeSlot struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Duration int    `json:"duration"`
}

func Ptr[T any](v T) *T {
	return &v
}
