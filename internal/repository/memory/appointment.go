package memory

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/scheduling-api/internal/model"
	"github.com/jwalitptl/scheduling-api/internal/repository"
)

type appointmentRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*model.Appointment
	// slots maps a held slot key to the appointment holding it
	slots map[string]uuid.UUID
	now   func() time.Time
}

type Option func(*appointmentRepository)

// WithClock overrides the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(r *appointmentRepository) {
		r.now = now
	}
}

func NewAppointmentRepository(opts ...Option) repository.AppointmentRepository {
	r := &appointmentRepository{
		items: make(map[uuid.UUID]*model.Appointment),
		slots: make(map[string]uuid.UUID),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *appointmentRepository) Insert(ctx context.Context, apt *model.Appointment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if apt.Duration == 0 {
		apt.Duration = model.DefaultDurationMinutes
	}
	apt.Status = model.AppointmentStatusPending
	if err := apt.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrInvalid, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if apt.ID == uuid.Nil {
		apt.ID = uuid.New()
	}
	if _, exists := r.items[apt.ID]; exists {
		return fmt.Errorf("%w: duplicate id %s", repository.ErrInvalid, apt.ID)
	}
	now := r.now().UTC()
	apt.CreatedAt = now
	apt.UpdatedAt = now

	r.items[apt.ID] = apt.Clone()
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	apt, ok := r.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return apt.Clone(), nil
}

func (r *appointmentRepository) Update(ctx context.Context, id uuid.UUID, patch model.AppointmentPatch) (*model.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if patch.ExpectStatus != nil && current.Status != *patch.ExpectStatus {
		return nil, repository.ErrStatusChange
	}

	next := current.Clone()
	patch.Apply(next)
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalid, err)
	}

	if next.Status.HoldsSlot() {
		if holder, taken := r.slots[next.SlotKey()]; taken && holder != id {
			return nil, repository.ErrSlotTaken
		}
	}

	now := r.now().UTC()
	if now.Before(current.UpdatedAt) {
		now = current.UpdatedAt
	}
	next.UpdatedAt = now

	if current.Status.HoldsSlot() {
		delete(r.slots, current.SlotKey())
	}
	if next.Status.HoldsSlot() {
		r.slots[next.SlotKey()] = id
	}
	r.items[id] = next

	return next.Clone(), nil
}

func (r *appointmentRepository) Query(ctx context.Context, filters model.AppointmentFilters) iter.Seq2[*model.Appointment, error] {
	return func(yield func(*model.Appointment, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}

		r.mu.RLock()
		matched := make([]*model.Appointment, 0)
		for _, apt := range r.items {
			if filters.Matches(apt) {
				matched = append(matched, apt.Clone())
			}
		}
		r.mu.RUnlock()

		sort.Slice(matched, func(i, j int) bool {
			return model.Less(matched[i], matched[j])
		})
		if filters.Limit > 0 && len(matched) > filters.Limit {
			matched = matched[:filters.Limit]
		}

		for _, apt := range matched {
			if !yield(apt, nil) {
				return
			}
		}
	}
}
