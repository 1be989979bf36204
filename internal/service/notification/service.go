package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/jwalitptl/scheduling-api/internal/email"
	"github.com/jwalitptl/scheduling-api/internal/model"
	"github.com/jwalitptl/scheduling-api/internal/service/event"
	"github.com/jwalitptl/scheduling-api/pkg/logger"
	"github.com/jwalitptl/scheduling-api/pkg/messaging"
	"github.com/jwalitptl/scheduling-api/pkg/metrics"
)

// Dispatcher turns appointment events into notifications for the other party
type Dispatcher struct {
	broker   messaging.Broker
	emailSvc email.Service
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewDispatcher(broker messaging.Broker, emailSvc email.Service, logger *logger.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		broker:   broker,
		emailSvc: emailSvc,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Run consumes appointment events until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("notification dispatcher started", "channel", messaging.ChannelAppointments)
	return messaging.Consume(ctx, d.broker, messaging.ChannelAppointments, d.Handle, func(err error) {
		d.logger.Error(err, "failed to dispatch notification")
	})
}

// Handle decodes one broker payload and dispatches it
func (d *Dispatcher) Handle(ctx context.Context, payload []byte) error {
	evt, err := event.Decode(payload)
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, evt)
}

// Dispatch delivers the event to its recipient by email, when an address is
// known, and always in-app when the recipient has a user id.
func (d *Dispatcher) Dispatch(ctx context.Context, evt *model.AppointmentEvent) error {
	n := d.build(evt)
	if n == nil {
		d.logger.Debug("no recipient for event", "event_id", evt.ID, "type", evt.Type)
		return nil
	}

	var result *multierror.Error

	if n.Recipient != "" {
		err := d.emailSvc.SendCustom(ctx, n.Recipient, n.Subject, n.Content)
		d.metrics.ObserveNotification(model.NotificationChannelEmail, err)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("email for appointment %s: %w", evt.AppointmentID, err))
		}
	}

	if n.UserID != "" {
		err := d.broker.Publish(ctx, messaging.NotificationChannel(n.UserID), n)
		d.metrics.ObserveNotification(model.NotificationChannelInApp, err)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("in-app notification for appointment %s: %w", evt.AppointmentID, err))
		}
	}

	return result.ErrorOrNil()
}

func (d *Dispatcher) build(evt *model.AppointmentEvent) *model.Notification {
	apt := evt.Appointment
	userID, recipient, name := apt.PatientID, apt.PatientEmail, apt.PatientName
	if recipientRole(evt) == model.RoleDoctor {
		userID, recipient, name = apt.DoctorID, apt.DoctorEmail, apt.DoctorName
	}
	if userID == "" && recipient == "" {
		return nil
	}

	subject, body := render(evt)
	return &model.Notification{
		ID:            uuid.New(),
		UserID:        userID,
		Recipient:     recipient,
		EventType:     evt.Type,
		AppointmentID: evt.AppointmentID,
		Subject:       subject,
		Content:       greeting(name) + body,
		CreatedAt:     d.now().UTC(),
	}
}

// recipientRole picks the counter-party of the actor. Without a known actor,
// requests go to the doctor and every other outcome goes to the patient.
func recipientRole(evt *model.AppointmentEvent) model.Role {
	switch evt.ActorRole {
	case model.RolePatient:
		return model.RoleDoctor
	case model.RoleDoctor:
		return model.RolePatient
	}
	if evt.Type == model.EventAppointmentRequested {
		return model.RoleDoctor
	}
	return model.RolePatient
}

func greeting(name string) string {
	if name == "" {
		return "Hello,\n\n"
	}
	return fmt.Sprintf("Hello %s,\n\n", name)
}

func render(evt *model.AppointmentEvent) (string, string) {
	apt := evt.Appointment
	slot := fmt.Sprintf("%s at %s", apt.Date, apt.Time)

	switch evt.Type {
	case model.EventAppointmentRequested:
		return "New appointment request",
			fmt.Sprintf("%s requested a %s appointment on %s.\nReason: %s", partyName(apt.PatientName, "A patient"), apt.Mode, slot, apt.Reason)
	case model.EventAppointmentApproved:
		body := fmt.Sprintf("Your appointment on %s was confirmed by %s.", slot, partyName(apt.DoctorName, "your doctor"))
		switch {
		case apt.MeetingLink != "":
			body += "\nJoin the video call: " + apt.MeetingLink
		case apt.Location != "":
			body += "\nLocation: " + apt.Location
		}
		return "Appointment confirmed", body
	case model.EventAppointmentRejected:
		return "Appointment request declined",
			fmt.Sprintf("Your appointment request for %s was declined.\nReason: %s", slot, apt.RejectionReason)
	case model.EventAppointmentCancelled:
		return "Appointment cancelled",
			fmt.Sprintf("The appointment on %s has been cancelled.", slot)
	case model.EventAppointmentCompleted:
		return "Appointment completed",
			fmt.Sprintf("Your appointment on %s has been marked as completed.", slot)
	case model.EventAppointmentRescheduled:
		return "Appointment rescheduled",
			fmt.Sprintf("The appointment on %s %s was moved to %s.", evt.PreviousDate, evt.PreviousTime, slot)
	}
	return "Appointment update", fmt.Sprintf("The appointment on %s was updated.", slot)
}

func partyName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
