package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/poyrazK/cardgate/internal/core/domain"
)

// MemoryRepository implements ports.CardRepository in process memory with the
// same compare-and-swap and uniqueness semantics as PostgresRepository.
// Every read returns a copy.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]*domain.Card
	byCode map[string]string // full_code -> id
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*domain.Card),
		byCode: make(map[string]string),
	}
}

func (r *MemoryRepository) GetCardByCode(_ context.Context, fullCode string) (*domain.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCode[fullCode]
	if !ok {
		return nil, nil
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) GetCardByID(_ context.Context, id string) (*domain.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) CreateCard(_ context.Context, card *domain.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byCode[card.FullCode]; exists {
		return domain.ErrCodeConflict
	}
	card.Version = 1
	r.byID[card.ID] = card.Clone()
	r.byCode[card.FullCode] = card.ID
	return nil
}

func (r *MemoryRepository) UpdateCard(_ context.Context, card *domain.Card, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[card.ID]
	if !ok || stored.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	if card.FullCode != stored.FullCode {
		if _, taken := r.byCode[card.FullCode]; taken {
			return domain.ErrCodeConflict
		}
		delete(r.byCode, stored.FullCode)
		r.byCode[card.FullCode] = card.ID
	}
	card.Version = expectedVersion + 1
	r.byID[card.ID] = card.Clone()
	return nil
}

func (r *MemoryRepository) DeleteCard(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.byID[id]; ok {
		delete(r.byCode, c.FullCode)
		delete(r.byID, id)
	}
	return nil
}

func (r *MemoryRepository) ListCards(_ context.Context, filter domain.CardFilter) ([]domain.Card, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []domain.Card
	for _, c := range r.byID {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.Prefix != "" && c.Prefix != filter.Prefix {
			continue
		}
		if filter.Search != "" && !matchesSearch(c, filter.Search) {
			continue
		}
		matched = append(matched, *c.Clone())
	}
	sortNewestFirst(matched)

	total := len(matched)
	if filter.Offset >= total {
		return []domain.Card{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < total {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

func (r *MemoryRepository) ListCardsByStatus(_ context.Context, status domain.Status) ([]domain.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var cards []domain.Card
	for _, c := range r.byID {
		if c.Status == status {
			cards = append(cards, *c.Clone())
		}
	}
	sortNewestFirst(cards)
	return cards, nil
}

func (r *MemoryRepository) CardStats(_ context.Context) (*domain.CardStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &domain.CardStats{Total: len(r.byID)}
	prefixes := make(map[string]struct{})
	for _, c := range r.byID {
		switch c.Status {
		case domain.StatusUnused:
			stats.Unused++
		case domain.StatusActive:
			stats.Active++
		case domain.StatusExpired:
			stats.Expired++
		}
		prefixes[c.Prefix] = struct{}{}
	}
	stats.Prefixes = len(prefixes)
	return stats, nil
}

func (r *MemoryRepository) Ping(_ context.Context) error {
	return nil
}

func matchesSearch(c *domain.Card, term string) bool {
	term = strings.ToUpper(term)
	if strings.Contains(strings.ToUpper(c.FullCode), term) {
		return true
	}
	return c.MachineCode != nil && strings.Contains(strings.ToUpper(*c.MachineCode), term)
}

func sortNewestFirst(cards []domain.Card) {
	sort.Slice(cards, func(i, j int) bool {
		if cards[i].CreatedAt.Equal(cards[j].CreatedAt) {
			return cards[i].FullCode < cards[j].FullCode
		}
		return cards[i].CreatedAt.After(cards[j].CreatedAt)
	})
}
