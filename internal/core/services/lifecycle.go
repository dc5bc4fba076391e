package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poyrazK/cardgate/internal/core/domain"
	"github.com/poyrazK/cardgate/internal/core/ports"
	"github.com/poyrazK/cardgate/internal/infrastructure/metrics"
)

// LifecycleEngine runs the card state machine UNUSED -> ACTIVE -> EXPIRED.
// It never caches cards: every decision starts from a fresh read, and every
// write is a compare-and-swap on the card version.
type LifecycleEngine struct {
	repo   ports.CardRepository
	policy domain.Policy
	logger *slog.Logger
}

func NewLifecycleEngine(repo ports.CardRepository, policy domain.Policy, logger *slog.Logger) *LifecycleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleEngine{
		repo:   repo,
		policy: policy,
		logger: logger.With("component", "lifecycle"),
	}
}

// Validate executes the activation/validation protocol for one request.
// NotFound, MachineMismatch and Expired are outcomes, not errors. Errors are
// reserved for store failures, exhausted retries and integrity violations.
func (e *LifecycleEngine) Validate(ctx context.Context, fullCode, machineCode string, now time.Time) (*domain.Outcome, error) {
	now = now.UTC()
	for attempt := 1; attempt <= e.policy.MaxActivationAttempts; attempt++ {
		card, err := e.load(ctx, fullCode)
		if err != nil {
			return nil, err
		}
		if card == nil {
			return &domain.Outcome{Kind: domain.OutcomeNotFound}, nil
		}

		outcome, err := e.decide(ctx, card, machineCode, now)
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.ActivationRetries.Inc()
			e.logger.Debug("lost compare-and-swap, re-reading card", "code", fullCode, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		return outcome, nil
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", domain.ErrStoreConflict, fullCode, e.policy.MaxActivationAttempts)
}

func (e *LifecycleEngine) decide(ctx context.Context, card *domain.Card, machineCode string, now time.Time) (*domain.Outcome, error) {
	if domain.ShouldExpire(card, now) {
		if err := e.expire(ctx, card, now); err != nil {
			return nil, err
		}
		metrics.ExpiredTransitions.WithLabelValues("lazy").Inc()
		return &domain.Outcome{Kind: domain.OutcomeExpired, Card: card, Transitioned: true}, nil
	}

	switch card.Status {
	case domain.StatusUnused:
		expected := card.Version
		if err := card.Activate(machineCode, now, e.policy.ValidityWindow); err != nil {
			return nil, err
		}
		if err := e.update(ctx, card, expected); err != nil {
			return nil, err
		}
		return &domain.Outcome{
			Kind:         domain.OutcomeActivated,
			Card:         card,
			ExpireAt:     *card.ExpireAt,
			Remaining:    e.policy.ValidityWindow,
			Transitioned: true,
		}, nil

	case domain.StatusActive:
		if !card.BoundTo(machineCode) {
			return &domain.Outcome{Kind: domain.OutcomeMachineMismatch, Card: card}, nil
		}
		return &domain.Outcome{
			Kind:      domain.OutcomeValid,
			Card:      card,
			ExpireAt:  *card.ExpireAt,
			Remaining: card.Remaining(now),
		}, nil

	case domain.StatusExpired:
		return &domain.Outcome{Kind: domain.OutcomeExpired, Card: card}, nil
	}

	// load() already rejects unknown statuses.
	e.logger.Error("card in unknown state", "code", card.FullCode, "status", string(card.Status))
	return nil, fmt.Errorf("%w: card %s has status %q", domain.ErrIntegrity, card.FullCode, card.Status)
}

// Refresh applies the lazy expiry check and returns the current card, or nil
// when it does not exist. The bool reports whether this call expired it.
func (e *LifecycleEngine) Refresh(ctx context.Context, fullCode string, now time.Time) (*domain.Card, bool, error) {
	now = now.UTC()
	for attempt := 1; attempt <= e.policy.MaxActivationAttempts; attempt++ {
		card, err := e.load(ctx, fullCode)
		if err != nil || card == nil {
			return nil, false, err
		}
		if !domain.ShouldExpire(card, now) {
			return card, false, nil
		}
		err = e.expire(ctx, card, now)
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.ActivationRetries.Inc()
			continue
		}
		if err != nil {
			return nil, false, err
		}
		metrics.ExpiredTransitions.WithLabelValues("lazy").Inc()
		return card, true, nil
	}
	return nil, false, fmt.Errorf("%w: %s after %d attempts", domain.ErrStoreConflict, fullCode, e.policy.MaxActivationAttempts)
}

// ExpireStale is the sweep: it moves every ACTIVE card whose window has
// closed at now to EXPIRED, using the same transition as Validate. Cards
// changed concurrently are skipped; the next read or sweep handles them.
func (e *LifecycleEngine) ExpireStale(ctx context.Context, now time.Time) ([]*domain.Card, error) {
	now = now.UTC()

	listCtx, cancel := context.WithTimeout(ctx, e.policy.StoreTimeout)
	active, err := e.repo.ListCardsByStatus(listCtx, domain.StatusActive)
	cancel()
	if err != nil {
		return nil, storeErr(err)
	}

	var expired []*domain.Card
	var errs []error
	for i := range active {
		card := &active[i]
		if !domain.ShouldExpire(card, now) {
			continue
		}
		err := e.expire(ctx, card, now)
		switch {
		case errors.Is(err, domain.ErrVersionConflict):
			e.logger.Debug("card changed during sweep, skipping", "code", card.FullCode)
		case err != nil:
			errs = append(errs, fmt.Errorf("expire %s: %w", card.FullCode, err))
		default:
			expired = append(expired, card)
		}
	}
	metrics.ExpiredTransitions.WithLabelValues("sweep").Add(float64(len(expired)))
	return expired, errors.Join(errs...)
}

func (e *LifecycleEngine) expire(ctx context.Context, card *domain.Card, now time.Time) error {
	expected := card.Version
	if !card.Expire(now) {
		return nil
	}
	return e.update(ctx, card, expected)
}

func (e *LifecycleEngine) load(ctx context.Context, fullCode string) (*domain.Card, error) {
	ctx, cancel := context.WithTimeout(ctx, e.policy.StoreTimeout)
	defer cancel()

	card, err := e.repo.GetCardByCode(ctx, fullCode)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrity) || errors.Is(err, domain.ErrInvalidStatus) {
			e.logger.Error("card row failed to load", "code", fullCode, "error", err)
			return nil, fmt.Errorf("%w: %v", domain.ErrIntegrity, err)
		}
		return nil, storeErr(err)
	}
	if card == nil {
		return nil, nil
	}
	if err := card.CheckInvariants(); err != nil {
		e.logger.Error("card violates lifecycle invariants", "code", fullCode, "error", err)
		return nil, err
	}
	return card, nil
}

func (e *LifecycleEngine) update(ctx context.Context, card *domain.Card, expectedVersion int64) error {
	ctx, cancel := context.WithTimeout(ctx, e.policy.StoreTimeout)
	defer cancel()

	if err := e.repo.UpdateCard(ctx, card, expectedVersion); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		return storeErr(err)
	}
	return nil
}

// storeErr maps timeouts onto ErrStoreUnavailable so callers can retry.
func storeErr(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}
