package testutil

import (
	"context"

	"github.com/poyrazK/cardgate/internal/core/domain"
	"github.com/stretchr/testify/mock"
)

// MockRepo is a testify mock of ports.CardRepository.
type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) GetCardByCode(ctx context.Context, fullCode string) (*domain.Card, error) {
	args := m.Called(fullCode)
	card, _ := args.Get(0).(*domain.Card)
	return card, args.Error(1)
}

func (m *MockRepo) GetCardByID(ctx context.Context, id string) (*domain.Card, error) {
	args := m.Called(id)
	card, _ := args.Get(0).(*domain.Card)
	return card, args.Error(1)
}

func (m *MockRepo) CreateCard(ctx context.Context, card *domain.Card) error {
	args := m.Called(card)
	return args.Error(0)
}

func (m *MockRepo) UpdateCard(ctx context.Context, card *domain.Card, expectedVersion int64) error {
	args := m.Called(card, expectedVersion)
	return args.Error(0)
}

func (m *MockRepo) DeleteCard(ctx context.Context, id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockRepo) ListCards(ctx context.Context, filter domain.CardFilter) ([]domain.Card, int, error) {
	args := m.Called(filter)
	cards, _ := args.Get(0).([]domain.Card)
	return cards, args.Int(1), args.Error(2)
}

func (m *MockRepo) ListCardsByStatus(ctx context.Context, status domain.Status) ([]domain.Card, error) {
	args := m.Called(status)
	cards, _ := args.Get(0).([]domain.Card)
	return cards, args.Error(1)
}

func (m *MockRepo) CardStats(ctx context.Context) (*domain.CardStats, error) {
	args := m.Called()
	stats, _ := args.Get(0).(*domain.CardStats)
	return stats, args.Error(1)
}

func (m *MockRepo) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
