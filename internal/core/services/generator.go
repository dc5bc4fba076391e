package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poyrazK/cardgate/internal/core/domain"
	"github.com/poyrazK/cardgate/internal/core/ports"
	"github.com/poyrazK/cardgate/internal/infrastructure/metrics"
)

// CodeGenerator creates UNUSED cards with unique full codes.
type CodeGenerator struct {
	repo   ports.CardRepository
	policy domain.Policy
	clock  ports.Clock
	random io.Reader
	logger *slog.Logger
}

func NewCodeGenerator(repo ports.CardRepository, policy domain.Policy, clock ports.Clock, logger *slog.Logger) *CodeGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CodeGenerator{
		repo:   repo,
		policy: policy,
		clock:  clock,
		random: rand.Reader,
		logger: logger.With("component", "generator"),
	}
}

// RandomCode draws length characters uniformly from alphabet. Bytes that
// would bias the modulo are rejected and redrawn.
func RandomCode(r io.Reader, alphabet string, length int) (string, error) {
	n := len(alphabet)
	limit := 256 - 256%n
	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%n])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// Generate inserts one new card for prefix with a random suffix of the given
// length, retrying on collisions up to the policy bound.
func (g *CodeGenerator) Generate(ctx context.Context, prefix string, length int) (*domain.Card, error) {
	if err := domain.ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	if err := domain.ValidateCodeLength(length); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < g.policy.MaxGenerationAttempts; attempt++ {
		code, err := RandomCode(g.random, g.policy.Alphabet, length)
		if err != nil {
			return nil, err
		}
		fullCode := domain.JoinCode(prefix, code)

		lookupCtx, cancel := context.WithTimeout(ctx, g.policy.StoreTimeout)
		existing, err := g.repo.GetCardByCode(lookupCtx, fullCode)
		cancel()
		if err != nil {
			return nil, storeErr(err)
		}
		if existing != nil {
			metrics.GenerationCollisions.Inc()
			continue
		}

		now := g.clock.Now().UTC()
		card := &domain.Card{
			ID:        uuid.New().String(),
			Prefix:    prefix,
			Code:      code,
			FullCode:  fullCode,
			Status:    domain.StatusUnused,
			CreatedAt: now,
			UpdatedAt: now,
		}
		insertCtx, cancel := context.WithTimeout(ctx, g.policy.StoreTimeout)
		err = g.repo.CreateCard(insertCtx, card)
		cancel()
		if errors.Is(err, domain.ErrCodeConflict) {
			// inserted by someone else between lookup and insert
			metrics.GenerationCollisions.Inc()
			continue
		}
		if err != nil {
			return nil, storeErr(err)
		}
		metrics.CardsGenerated.WithLabelValues(prefix).Inc()
		return card, nil
	}

	return nil, fmt.Errorf("%w: prefix %s, length %d, %d attempts", domain.ErrGenerationExhausted, prefix, length, g.policy.MaxGenerationAttempts)
}

// GenerateBatch generates count cards. On failure it returns the cards
// created so far together with the error.
func (g *CodeGenerator) GenerateBatch(ctx context.Context, prefix string, count, length int) ([]domain.Card, error) {
	if count < 1 || count > domain.MaxBatchSize {
		return nil, fmt.Errorf("%w: must be between 1 and %d, got %d", domain.ErrInvalidCount, domain.MaxBatchSize, count)
	}
	if length == 0 {
		length = g.policy.DefaultCodeLength
	}

	start := time.Now()
	cards := make([]domain.Card, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return cards, err
		}
		card, err := g.Generate(ctx, prefix, length)
		if err != nil {
			g.logger.Error("batch generation stopped", "prefix", prefix, "generated", len(cards), "requested", count, "error", err)
			return cards, err
		}
		cards = append(cards, *card)
		if (i+1)%100 == 0 {
			g.logger.Info("batch generation progress", "prefix", prefix, "generated", i+1, "requested", count)
		}
	}
	g.logger.Info("batch generation complete", "prefix", prefix, "count", len(cards), "duration", time.Since(start))
	return cards, nil
}
