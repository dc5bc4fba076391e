package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/poyrazK/cardgate/internal/core/domain"
	"github.com/poyrazK/cardgate/internal/core/ports"
)

// FixedClock implements ports.Clock with a settable instant.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t.UTC()}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t.UTC()
	c.mu.Unlock()
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// MockPublisher implements ports.EventPublisher and records every event.
type MockPublisher struct {
	mu          sync.Mutex
	Events      []domain.CardEvent
	FailPublish bool
	Closed      bool
}

func (m *MockPublisher) Publish(_ context.Context, ev domain.CardEvent) error {
	if m.FailPublish {
		return errors.New("publish failed")
	}
	m.mu.Lock()
	m.Events = append(m.Events, ev)
	m.mu.Unlock()
	return nil
}

func (m *MockPublisher) Close() error {
	m.Closed = true
	return nil
}

// Snapshot returns a copy of the recorded events.
func (m *MockPublisher) Snapshot() []domain.CardEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CardEvent(nil), m.Events...)
}

// StubService implements ports.CardService for transport tests. Unset
// function fields return zero values.
type StubService struct {
	ValidateFn     func(ctx context.Context, fullCode, machineCode string) (*domain.Outcome, error)
	StatusFn       func(ctx context.Context, fullCode string) (*domain.Card, error)
	GenerateFn     func(ctx context.Context, prefix string, count, length int) ([]domain.Card, error)
	ListFn         func(ctx context.Context, filter domain.CardFilter) ([]domain.Card, int, error)
	UpdateFn       func(ctx context.Context, id string, update ports.CardUpdate) (*domain.Card, error)
	DeleteFn       func(ctx context.Context, id string) error
	StatsFn        func(ctx context.Context) (*domain.CardStats, error)
	ExpireStaleFn  func(ctx context.Context) (int, error)
	ExportUnusedFn func(ctx context.Context, prefix string) ([]domain.Card, error)
	HealthErrs     map[string]error
	Clock          *FixedClock

	mu         sync.Mutex
	sweepCalls int
}

var _ ports.CardService = (*StubService)(nil)

func (s *StubService) Validate(ctx context.Context, fullCode, machineCode string) (*domain.Outcome, error) {
	if s.ValidateFn == nil {
		return &domain.Outcome{Kind: domain.OutcomeNotFound}, nil
	}
	return s.ValidateFn(ctx, fullCode, machineCode)
}

func (s *StubService) Status(ctx context.Context, fullCode string) (*domain.Card, error) {
	if s.StatusFn == nil {
		return nil, domain.ErrCardNotFound
	}
	return s.StatusFn(ctx, fullCode)
}

func (s *StubService) GenerateCards(ctx context.Context, prefix string, count, length int) ([]domain.Card, error) {
	if s.GenerateFn == nil {
		return nil, nil
	}
	return s.GenerateFn(ctx, prefix, count, length)
}

func (s *StubService) ListCards(ctx context.Context, filter domain.CardFilter) ([]domain.Card, int, error) {
	if s.ListFn == nil {
		return []domain.Card{}, 0, nil
	}
	return s.ListFn(ctx, filter)
}

func (s *StubService) UpdateCard(ctx context.Context, id string, update ports.CardUpdate) (*domain.Card, error) {
	if s.UpdateFn == nil {
		return nil, domain.ErrCardNotFound
	}
	return s.UpdateFn(ctx, id, update)
}

func (s *StubService) DeleteCard(ctx context.Context, id string) error {
	if s.DeleteFn == nil {
		return nil
	}
	return s.DeleteFn(ctx, id)
}

func (s *StubService) Stats(ctx context.Context) (*domain.CardStats, error) {
	if s.StatsFn == nil {
		return &domain.CardStats{}, nil
	}
	return s.StatsFn(ctx)
}

func (s *StubService) ExpireStale(ctx context.Context) (int, error) {
	s.mu.Lock()
	s.sweepCalls++
	s.mu.Unlock()
	if s.ExpireStaleFn == nil {
		return 0, nil
	}
	return s.ExpireStaleFn(ctx)
}

// SweepCalls reports how many times ExpireStale ran.
func (s *StubService) SweepCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepCalls
}

func (s *StubService) ExportUnused(ctx context.Context, prefix string) ([]domain.Card, error) {
	if s.ExportUnusedFn == nil {
		return []domain.Card{}, nil
	}
	return s.ExportUnusedFn(ctx, prefix)
}

func (s *StubService) HealthCheck(_ context.Context) map[string]error {
	res := map[string]error{"database": nil}
	for k, v := range s.HealthErrs {
		res[k] = v
	}
	return res
}

func (s *StubService) Now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}
