package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/poyrazK/cardgate/internal/adapters/repository"
	"github.com/poyrazK/cardgate/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func seedCard(t *testing.T, repo *repository.MemoryRepository, prefix, code string) *domain.Card {
	t.Helper()
	card := &domain.Card{
		ID:        prefix + "-" + code + "-id",
		Prefix:    prefix,
		Code:      code,
		FullCode:  domain.JoinCode(prefix, code),
		Status:    domain.StatusUnused,
		CreatedAt: t0.Add(-24 * time.Hour),
		UpdatedAt: t0.Add(-24 * time.Hour),
	}
	require.NoError(t, repo.CreateCard(context.Background(), card))
	return card
}

func newEngine(repo *repository.MemoryRepository) *LifecycleEngine {
	return NewLifecycleEngine(repo, domain.DefaultPolicy(), nil)
}

func TestValidate_Scenario(t *testing.T) {
	repo := repository.NewMemoryRepository()
	seedCard(t, repo, "VIP", "DEMO123456")
	engine := newEngine(repo)
	ctx := context.Background()

	out, err := engine.Validate(ctx, "VIP-DEMO123456", "M1", t0)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeActivated, out.Kind)
	assert.Equal(t, t0.Add(3*time.Hour), out.ExpireAt)
	assert.Equal(t, 3.0, domain.RoundHours(out.Remaining))

	stored, _ := repo.GetCardByCode(ctx, "VIP-DEMO123456")
	assert.Equal(t, domain.StatusActive, stored.Status)
	assert.True(t, stored.BoundTo("M1"))
	assert.Equal(t, t0, *stored.UsedAt)

	out, err = engine.Validate(ctx, "VIP-DEMO123456", "M1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeValid, out.Kind)
	assert.Equal(t, 2.0, domain.RoundHours(out.Remaining))
	assert.True(t, out.Authorized())

	out, err = engine.Validate(ctx, "VIP-DEMO123456", "M2", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeMachineMismatch, out.Kind)
	assert.False(t, out.Authorized())

	out, err = engine.Validate(ctx, "VIP-DEMO123456", "M1", t0.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeExpired, out.Kind)
	assert.True(t, out.Transitioned)

	stored, _ = repo.GetCardByCode(ctx, "VIP-DEMO123456")
	assert.Equal(t, domain.StatusExpired, stored.Status)
	assert.True(t, stored.BoundTo("M1"), "binding is kept after expiry")

	// expiry is final
	out, err = engine.Validate(ctx, "VIP-DEMO123456", "M1", t0.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeExpired, out.Kind)
	assert.False(t, out.Transitioned)
}

func TestValidate_NotFoundDoesNotMutate(t *testing.T) {
	repo := repository.NewMemoryRepository()
	seedCard(t, repo, "VIP", "DEMO123456")
	engine := newEngine(repo)

	out, err := engine.Validate(context.Background(), "ZZZ-NOPE", "M1", t0)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNotFound, out.Kind)

	stats, _ := repo.CardStats(context.Background())
	assert.Equal(t, 1, stats.Unused)
}

func TestValidate_ExpiryBoundary(t *testing.T) {
	repo := repository.NewMemoryRepository()
	seedCard(t, repo, "VIP", "EDGE000001")
	engine := newEngine(repo)
	ctx := context.Background()

	_, err := engine.Validate(ctx, "VIP-EDGE000001", "M1", t0)
	require.NoError(t, err)

	out, err := engine.Validate(ctx, "VIP-EDGE000001", "M1", t0.Add(3*time.Hour-time.Nanosecond))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeValid, out.Kind)

	// at exactly expire_at the card is expired, even for the wrong machine
	out, err = engine.Validate(ctx, "VIP-EDGE000001", "M2", t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeExpired, out.Kind)
}

func TestValidate_RemainingNeverIncreases(t *testing.T) {
	repo := repository.NewMemoryRepository()
	seedCard(t, repo, "VIP", "MONO000001")
	engine := newEngine(repo)
	ctx := context.Background()

	_, err := engine.Validate(ctx, "VIP-MONO000001", "M1", t0)
	require.NoError(t, err)

	last := 3 * time.Hour
	for i := 1; i <= 10; i++ {
		out, err := engine.Validate(ctx, "VIP-MONO000001", "M1", t0.Add(time.Duration(i)*17*time.Minute))
		require.NoError(t, err)
		require.Equal(t, domain.OutcomeValid, out.Kind)
		assert.LessOrEqual(t, out.Remaining, last)
		assert.Equal(t, t0.Add(3*time.Hour), out.ExpireAt, "validation never extends the window")
		last = out.Remaining
	}
}

func TestValidate_ConcurrentActivation(t *testing.T) {
	repo := repository.NewMemoryRepository()
	seedCard(t, repo, "VIP", "RACE000001")
	engine := newEngine(repo)

	const n = 16
	outcomes := make([]*domain.Outcome, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = engine.Validate(context.Background(), "VIP-RACE000001", fmt.Sprintf("M%d", i), t0)
		}(i)
	}
	wg.Wait()

	activated := 0
	winner := ""
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		switch outcomes[i].Kind {
		case domain.OutcomeActivated:
			activated++
			winner = fmt.Sprintf("M%d", i)
		case domain.OutcomeMachineMismatch:
		default:
			t.Errorf("unexpected outcome %s", outcomes[i].Kind)
		}
	}
	assert.Equal(t, 1, activated)

	stored, _ := repo.GetCardByCode(context.Background(), "VIP-RACE000001")
	assert.True(t, stored.BoundTo(winner))
}

// conflictRepo loses every compare-and-swap.
type conflictRepo struct {
	*repository.MemoryRepository
	updates int
}

func (r *conflictRepo) UpdateCard(context.Context, *domain.Card, int64) error {
	r.updates++
	return domain.ErrVersionConflict
}

func TestValidate_RetriesExhausted(t *testing.T) {
	mem := repository.NewMemoryRepository()
	seedCard(t, mem, "VIP", "BUSY000001")
	repo := &conflictRepo{MemoryRepository: mem}
	engine := NewLifecycleEngine(repo, domain.DefaultPolicy(), nil)

	_, err := engine.Validate(context.Background(), "VIP-BUSY000001", "M1", t0)
	assert.ErrorIs(t, err, domain.ErrStoreConflict)
	assert.Equal(t, domain.DefaultActivationAttempts, repo.updates)
}

// slowRepo blocks lookups until the context gives up.
type slowRepo struct {
	*repository.MemoryRepository
}

func (r *slowRepo) GetCardByCode(ctx context.Context, _ string) (*domain.Card, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (r *slowRepo) ListCardsByStatus(ctx context.Context, _ domain.Status) ([]domain.Card, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestValidate_StoreTimeout(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.StoreTimeout = 20 * time.Millisecond
	engine := NewLifecycleEngine(&slowRepo{repository.NewMemoryRepository()}, policy, nil)

	_, err := engine.Validate(context.Background(), "VIP-SLOW000001", "M1", t0)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = engine.ExpireStale(context.Background(), t0)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

// corruptRepo hands back a row that breaks the binding invariant.
type corruptRepo struct {
	*repository.MemoryRepository
}

func (r *corruptRepo) GetCardByCode(context.Context, string) (*domain.Card, error) {
	return &domain.Card{ID: "x", FullCode: "VIP-BAD", Status: domain.StatusActive}, nil
}

func TestValidate_IntegrityViolation(t *testing.T) {
	engine := NewLifecycleEngine(&corruptRepo{repository.NewMemoryRepository()}, domain.DefaultPolicy(), nil)

	_, err := engine.Validate(context.Background(), "VIP-BAD", "M1", t0)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
}

func TestExpireStale_AgreesWithLazyPath(t *testing.T) {
	ctx := context.Background()
	instants := []time.Duration{3*time.Hour - time.Nanosecond, 3 * time.Hour, 3*time.Hour + time.Minute}

	for _, offset := range instants {
		t.Run(offset.String(), func(t *testing.T) {
			lazyRepo := repository.NewMemoryRepository()
			sweepRepo := repository.NewMemoryRepository()
			seedCard(t, lazyRepo, "VIP", "BOTH000001")
			seedCard(t, sweepRepo, "VIP", "BOTH000001")
			lazy := newEngine(lazyRepo)
			sweep := newEngine(sweepRepo)

			_, err := lazy.Validate(ctx, "VIP-BOTH000001", "M1", t0)
			require.NoError(t, err)
			_, err = sweep.Validate(ctx, "VIP-BOTH000001", "M1", t0)
			require.NoError(t, err)

			at := t0.Add(offset)
			out, err := lazy.Validate(ctx, "VIP-BOTH000001", "M1", at)
			require.NoError(t, err)
			expired, err := sweep.ExpireStale(ctx, at)
			require.NoError(t, err)

			assert.Equal(t, out.Kind == domain.OutcomeExpired, len(expired) == 1)

			a, _ := lazyRepo.GetCardByCode(ctx, "VIP-BOTH000001")
			b, _ := sweepRepo.GetCardByCode(ctx, "VIP-BOTH000001")
			assert.Equal(t, a.Status, b.Status)
		})
	}
}

func TestExpireStale_OnlyTouchesElapsedCards(t *testing.T) {
	repo := repository.NewMemoryRepository()
	engine := newEngine(repo)
	ctx := context.Background()

	seedCard(t, repo, "VIP", "OLD0000001")
	seedCard(t, repo, "VIP", "NEW0000001")
	seedCard(t, repo, "VIP", "IDLE000001")

	_, err := engine.Validate(ctx, "VIP-OLD0000001", "M1", t0)
	require.NoError(t, err)
	_, err = engine.Validate(ctx, "VIP-NEW0000001", "M2", t0.Add(2*time.Hour))
	require.NoError(t, err)

	expired, err := engine.ExpireStale(ctx, t0.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "VIP-OLD0000001", expired[0].FullCode)

	stats, _ := repo.CardStats(ctx)
	assert.Equal(t, domain.CardStats{Total: 3, Unused: 1, Active: 1, Expired: 1, Prefixes: 1}, *stats)

	// a second sweep at the same instant is a no-op
	expired, err = engine.ExpireStale(ctx, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestRefresh(t *testing.T) {
	repo := repository.NewMemoryRepository()
	seedCard(t, repo, "VIP", "STAT000001")
	engine := newEngine(repo)
	ctx := context.Background()

	card, changed, err := engine.Refresh(ctx, "VIP-NONE", t0)
	require.NoError(t, err)
	assert.Nil(t, card)
	assert.False(t, changed)

	_, err = engine.Validate(ctx, "VIP-STAT000001", "M1", t0)
	require.NoError(t, err)

	card, changed, err = engine.Refresh(ctx, "VIP-STAT000001", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, card.Status)
	assert.False(t, changed)

	card, changed, err = engine.Refresh(ctx, "VIP-STAT000001", t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, card.Status)
	assert.True(t, changed)
}
