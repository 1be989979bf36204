package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/scheduling-api/internal/model"
	"github.com/jwalitptl/scheduling-api/internal/repository"
)

type auditRepository struct {
	mu   sync.RWMutex
	logs map[uuid.UUID][]*model.AuditLog
}

func NewAuditRepository() repository.AuditRepository {
	return &auditRepository{logs: make(map[uuid.UUID][]*model.AuditLog)}
}

func (r *auditRepository) Create(_ context.Context, log *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := *log
	r.logs[log.AppointmentID] = append(r.logs[log.AppointmentID], &entry)
	return nil
}

func (r *auditRepository) ListByAppointment(_ context.Context, appointmentID uuid.UUID) ([]*model.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.logs[appointmentID]
	out := make([]*model.AuditLog, 0, len(entries))
	for _, e := range entries {
		entry := *e
		out = append(out, &entry)
	}
	return out, nil
}
