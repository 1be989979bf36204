package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/scheduling-api/internal/model"
	"github.com/jwalitptl/scheduling-api/pkg/logger"
	"github.com/jwalitptl/scheduling-api/pkg/messaging"
	"github.com/jwalitptl/scheduling-api/pkg/metrics"
)

type failure struct {
	msg     string
	retryAt *time.Time
}

type fakeOutboxRepo struct {
	mu        sync.Mutex
	pending   []*model.OutboxEvent
	processed []uuid.UUID
	failed    map[uuid.UUID]failure
}

func newFakeOutboxRepo(events ...*model.OutboxEvent) *fakeOutboxRepo {
	return &fakeOutboxRepo{pending: events, failed: make(map[uuid.UUID]failure)}
}

func (r *fakeOutboxRepo) Create(_ context.Context, event *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, event)
	return nil
}

func (r *fakeOutboxRepo) GetPendingEvents(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) < limit {
		limit = len(r.pending)
	}
	out := r.pending[:limit]
	r.pending = r.pending[limit:]
	return out, nil
}

func (r *fakeOutboxRepo) MarkProcessed(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, id)
	return nil
}

func (r *fakeOutboxRepo) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, retryAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[id] = failure{msg: errMsg, retryAt: retryAt}
	return nil
}

func (r *fakeOutboxRepo) DeleteProcessedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type flakyBroker struct {
	messaging.Broker
	mu       sync.Mutex
	failures int
	calls    int
	channels []string
}

func (b *flakyBroker) Publish(_ context.Context, channel string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.failures > 0 {
		b.failures--
		return errors.New("broker unavailable")
	}
	b.channels = append(b.channels, channel)
	return nil
}

func testConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		MaxRetries:    3,
	}
}

func outboxEvent(retries int) *model.OutboxEvent {
	return &model.OutboxEvent{
		ID:          uuid.New(),
		EventType:   string(model.EventAppointmentRequested),
		AggregateID: uuid.New(),
		Payload:     json.RawMessage(`{}`),
		Status:      model.OutboxStatusPending,
		RetryCount:  retries,
	}
}

func TestOutboxProcessor_PublishesAndMarksProcessed(t *testing.T) {
	first, second := outboxEvent(0), outboxEvent(0)
	repo := newFakeOutboxRepo(first, second)
	broker := &flakyBroker{}
	p := NewOutboxProcessor(repo, broker, testConfig(), logger.Nop(), metrics.New("test", nil))

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, repo.processed)
	assert.Equal(t, []string{messaging.ChannelAppointments, messaging.ChannelAppointments}, broker.channels)
}

func TestOutboxProcessor_RetriesWithinAttempt(t *testing.T) {
	evt := outboxEvent(0)
	repo := newFakeOutboxRepo(evt)
	broker := &flakyBroker{failures: 1}
	p := NewOutboxProcessor(repo, broker, testConfig(), logger.Nop(), nil)

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, broker.calls)
	assert.Empty(t, repo.failed)
}

func TestOutboxProcessor_SchedulesRetry(t *testing.T) {
	evt := outboxEvent(0)
	repo := newFakeOutboxRepo(evt)
	broker := &flakyBroker{failures: 5}
	p := NewOutboxProcessor(repo, broker, testConfig(), logger.Nop(), nil)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f, ok := repo.failed[evt.ID]
	require.True(t, ok)
	assert.Equal(t, "broker unavailable", f.msg)
	require.NotNil(t, f.retryAt)
	assert.Equal(t, now.Add(time.Second), *f.retryAt)
}

func TestOutboxProcessor_ParksAfterMaxRetries(t *testing.T) {
	evt := outboxEvent(2)
	repo := newFakeOutboxRepo(evt)
	p := NewOutboxProcessor(repo, &flakyBroker{failures: 5}, testConfig(), logger.Nop(), nil)

	_, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)

	f, ok := repo.failed[evt.ID]
	require.True(t, ok)
	assert.Nil(t, f.retryAt)
}

func TestNewOutboxProcessorValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	assert.Panics(t, func() {
		NewOutboxProcessor(newFakeOutboxRepo(), &flakyBroker{}, cfg, logger.Nop(), nil)
	})
}

func TestOutboxProcessor_StartStopsOnCancel(t *testing.T) {
	repo := newFakeOutboxRepo(outboxEvent(0))
	cfg := testConfig()
	cfg.PollInterval = 5 * time.Millisecond
	p := NewOutboxProcessor(repo, &flakyBroker{}, cfg, logger.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.processed) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}
}
