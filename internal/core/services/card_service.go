package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poyrazK/cardgate/internal/core/domain"
	"github.com/poyrazK/cardgate/internal/core/ports"
	"github.com/poyrazK/cardgate/internal/infrastructure/metrics"
)

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

type cardService struct {
	repo      ports.CardRepository
	engine    *LifecycleEngine
	generator *CodeGenerator
	publisher ports.EventPublisher
	clock     ports.Clock
	policy    domain.Policy
	logger    *slog.Logger
	checks    map[string]func(context.Context) error
}

// Option customises the card service.
type Option func(*cardService)

// WithPublisher sends lifecycle events to p.
func WithPublisher(p ports.EventPublisher) Option {
	return func(s *cardService) { s.publisher = p }
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c ports.Clock) Option {
	return func(s *cardService) { s.clock = c }
}

// WithHealthCheck adds a named dependency to HealthCheck.
func WithHealthCheck(name string, check func(context.Context) error) Option {
	return func(s *cardService) { s.checks[name] = check }
}

func NewCardService(repo ports.CardRepository, policy domain.Policy, logger *slog.Logger, opts ...Option) ports.CardService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &cardService{
		repo:   repo,
		clock:  SystemClock{},
		policy: policy,
		logger: logger.With("component", "card_service"),
		checks: map[string]func(context.Context) error{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = NewLifecycleEngine(repo, policy, logger)
	s.generator = NewCodeGenerator(repo, policy, s.clock, logger)
	return s
}

func (s *cardService) Now() time.Time {
	return s.clock.Now().UTC()
}

func (s *cardService) Validate(ctx context.Context, fullCode, machineCode string) (*domain.Outcome, error) {
	start := time.Now()
	defer func() { metrics.ValidationDuration.Observe(time.Since(start).Seconds()) }()

	fullCode = strings.TrimSpace(fullCode)
	machineCode = strings.TrimSpace(machineCode)
	if err := domain.ValidateMachineCode(machineCode); err != nil {
		return nil, err
	}

	outcome, err := s.engine.Validate(ctx, fullCode, machineCode, s.Now())
	if err != nil {
		metrics.ValidationsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, domain.ErrIntegrity) {
			s.logger.Error("validation hit a data integrity violation", "code", fullCode, "error", err)
		} else {
			s.logger.Warn("validation failed", "code", fullCode, "error", err)
		}
		return nil, err
	}
	metrics.ValidationsTotal.WithLabelValues(string(outcome.Kind)).Inc()

	switch outcome.Kind {
	case domain.OutcomeActivated:
		s.logger.Info("card activated", "code", fullCode, "machine_code", machineCode, "expire_at", outcome.ExpireAt)
		s.publish(ctx, domain.EventActivated, outcome.Card)
	case domain.OutcomeValid:
		s.logger.Info("card validated", "code", fullCode, "remaining_hours", domain.RoundHours(outcome.Remaining))
	case domain.OutcomeMachineMismatch:
		s.logger.Warn("machine code mismatch", "code", fullCode, "machine_code", machineCode)
	case domain.OutcomeExpired:
		s.logger.Warn("card expired", "code", fullCode)
		if outcome.Transitioned {
			s.publish(ctx, domain.EventExpired, outcome.Card)
		}
	case domain.OutcomeNotFound:
		s.logger.Warn("card not found", "code", fullCode)
	}
	return outcome, nil
}

func (s *cardService) Status(ctx context.Context, fullCode string) (*domain.Card, error) {
	card, expired, err := s.engine.Refresh(ctx, strings.TrimSpace(fullCode), s.Now())
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, domain.ErrCardNotFound
	}
	if expired {
		s.publish(ctx, domain.EventExpired, card)
	}
	return card, nil
}

func (s *cardService) GenerateCards(ctx context.Context, prefix string, count, length int) ([]domain.Card, error) {
	return s.generator.GenerateBatch(ctx, strings.TrimSpace(prefix), count, length)
}

func (s *cardService) ListCards(ctx context.Context, filter domain.CardFilter) ([]domain.Card, int, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	cards, total, err := s.repo.ListCards(ctx, filter)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	return cards, total, nil
}

// UpdateCard applies an administrative override. A prefix change rewrites the
// full code; a status override may reset a card to UNUSED or close an ACTIVE
// card early. Anything else would break the binding invariants.
func (s *cardService) UpdateCard(ctx context.Context, id string, update ports.CardUpdate) (*domain.Card, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	card, err := s.repo.GetCardByID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if card == nil {
		return nil, domain.ErrCardNotFound
	}
	expected := card.Version
	now := s.Now()

	if update.Prefix != nil {
		prefix := strings.TrimSpace(*update.Prefix)
		if err := domain.ValidatePrefix(prefix); err != nil {
			return nil, err
		}
		card.Prefix = prefix
		card.FullCode = domain.JoinCode(prefix, card.Code)
	}

	if update.Status != nil && *update.Status != card.Status {
		switch {
		case *update.Status == domain.StatusUnused:
			card.Status = domain.StatusUnused
			card.MachineCode = nil
			card.UsedAt = nil
			card.ExpireAt = nil
		case *update.Status == domain.StatusExpired && card.Status == domain.StatusActive:
			card.Status = domain.StatusExpired
		default:
			return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, card.Status, *update.Status)
		}
	}

	card.UpdatedAt = now
	if err := s.repo.UpdateCard(ctx, card, expected); err != nil {
		return nil, storeErr(err)
	}
	s.logger.Info("card edited", "id", id, "code", card.FullCode, "status", string(card.Status))
	return card, nil
}

func (s *cardService) DeleteCard(ctx context.Context, id string) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.repo.DeleteCard(ctx, id); err != nil {
		return storeErr(err)
	}
	s.logger.Info("card deleted", "id", id)
	return nil
}

func (s *cardService) Stats(ctx context.Context) (*domain.CardStats, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	stats, err := s.repo.CardStats(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return stats, nil
}

// ExpireStale runs the sweep and publishes an event per expired card.
func (s *cardService) ExpireStale(ctx context.Context) (int, error) {
	expired, err := s.engine.ExpireStale(ctx, s.Now())
	for _, card := range expired {
		s.publish(ctx, domain.EventExpired, card)
	}
	if len(expired) > 0 {
		s.logger.Info("expired stale cards", "count", len(expired))
	}
	return len(expired), err
}

func (s *cardService) ExportUnused(ctx context.Context, prefix string) ([]domain.Card, error) {
	listCtx, cancel := s.storeContext(ctx)
	defer cancel()

	cards, err := s.repo.ListCardsByStatus(listCtx, domain.StatusUnused)
	if err != nil {
		return nil, storeErr(err)
	}
	if prefix == "" {
		return cards, nil
	}
	filtered := cards[:0]
	for _, c := range cards {
		if c.Prefix == prefix {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

func (s *cardService) HealthCheck(ctx context.Context) map[string]error {
	pingCtx, cancel := s.storeContext(ctx)
	defer cancel()

	res := map[string]error{"database": storeErr(s.repo.Ping(pingCtx))}
	for name, check := range s.checks {
		res[name] = check(ctx)
	}
	return res
}

// storeContext bounds a single admin store call so a stalled store surfaces
// as ErrStoreUnavailable instead of hanging the caller.
func (s *cardService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.policy.StoreTimeout)
}

// publish is best-effort: the transition is already persisted.
func (s *cardService) publish(ctx context.Context, t domain.EventType, card *domain.Card) {
	if s.publisher == nil {
		return
	}
	ev := domain.NewCardEvent(t, card, s.Now())
	if err := s.publisher.Publish(ctx, ev); err != nil {
		metrics.EventPublishFailures.Inc()
		s.logger.Warn("failed to publish card event", "type", string(t), "code", card.FullCode, "error", err)
	}
}
