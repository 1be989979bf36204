package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/scheduling-api/internal/model"
	"github.com/jwalitptl/scheduling-api/internal/repository"
)

type Service struct {
	repo repository.AuditRepository
	now  func() time.Time
}

func NewService(repo repository.AuditRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Entry describes one lifecycle transition to record
type Entry struct {
	AppointmentID uuid.UUID
	ActorID       string
	Action        string
	From          model.AppointmentStatus
	To            model.AppointmentStatus
	Metadata      map[string]interface{}
}

// Log creates an audit log entry
func (s *Service) Log(ctx context.Context, entry Entry) error {
	var metadata json.RawMessage
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		metadata = raw
	}

	log := &model.AuditLog{
		ID:            uuid.New(),
		AppointmentID: entry.AppointmentID,
		ActorID:       entry.ActorID,
		Action:        entry.Action,
		FromStatus:    entry.From,
		ToStatus:      entry.To,
		Metadata:      metadata,
		CreatedAt:     s.now().UTC(),
	}

	return s.repo.Create(ctx, log)
}

// History returns the transitions of an appointment oldest first
func (s *Service) History(ctx context.Context, appointmentID uuid.UUID) ([]*model.AuditLog, error) {
	return s.repo.ListByAppointment(ctx, appointmentID)
}
