package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/poyrazK/cardgate/internal/adapters/repository"
	"github.com/poyrazK/cardgate/internal/core/domain"
	"github.com/poyrazK/cardgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// zeroReader always yields zero bytes, so every draw is the same code.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestRandomCode_RejectsBiasedBytes(t *testing.T) {
	// 256 % 3 == 1, so byte 255 must be skipped
	r := bytes.NewReader([]byte{255, 0, 1, 2, 0, 0})
	code, err := RandomCode(r, "ABC", 3)
	require.NoError(t, err)
	assert.Equal(t, "ABC", code)
}

func TestRandomCode_ShortRead(t *testing.T) {
	_, err := RandomCode(bytes.NewReader([]byte{1}), domain.CodeAlphabet, 4)
	assert.Error(t, err)
}

func TestRandomCode_Alphabet(t *testing.T) {
	code, err := RandomCode(rand.Reader, domain.CodeAlphabet, 64)
	require.NoError(t, err)
	assert.Len(t, code, 64)
	for _, c := range code {
		assert.True(t, strings.ContainsRune(domain.CodeAlphabet, c), "unexpected rune %q", c)
	}
}

func newGenerator(repo *repository.MemoryRepository) *CodeGenerator {
	return NewCodeGenerator(repo, domain.DefaultPolicy(), testutil.NewFixedClock(t0), nil)
}

func TestGenerate(t *testing.T) {
	repo := repository.NewMemoryRepository()
	gen := newGenerator(repo)

	card, err := gen.Generate(context.Background(), "VIP", 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnused, card.Status)
	assert.Len(t, card.Code, 10)
	assert.Equal(t, "VIP-"+card.Code, card.FullCode)
	assert.Nil(t, card.MachineCode)
	assert.Nil(t, card.ExpireAt)
	assert.Equal(t, t0, card.CreatedAt)
	assert.NotEmpty(t, card.ID)

	stored, _ := repo.GetCardByCode(context.Background(), card.FullCode)
	require.NotNil(t, stored)
}

func TestGenerate_InvalidInput(t *testing.T) {
	gen := newGenerator(repository.NewMemoryRepository())

	_, err := gen.Generate(context.Background(), "bad-prefix", 10)
	assert.ErrorIs(t, err, domain.ErrInvalidPrefix)

	_, err = gen.Generate(context.Background(), "VIP", 3)
	assert.ErrorIs(t, err, domain.ErrInvalidLength)

	_, err = gen.GenerateBatch(context.Background(), "VIP", 0, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidCount)
}

func TestGenerate_Exhaustion(t *testing.T) {
	repo := repository.NewMemoryRepository()
	policy := domain.DefaultPolicy()
	policy.MaxGenerationAttempts = 5
	gen := NewCodeGenerator(repo, policy, testutil.NewFixedClock(t0), nil)
	gen.random = zeroReader{}

	first, err := gen.Generate(context.Background(), "VIP", 6)
	require.NoError(t, err)
	assert.Equal(t, "VIP-AAAAAA", first.FullCode)

	_, err = gen.Generate(context.Background(), "VIP", 6)
	assert.ErrorIs(t, err, domain.ErrGenerationExhausted)

	// same suffix under another prefix is a different full code
	other, err := gen.Generate(context.Background(), "STD", 6)
	require.NoError(t, err)
	assert.Equal(t, "STD-AAAAAA", other.FullCode)
}

func TestGenerateBatch(t *testing.T) {
	repo := repository.NewMemoryRepository()
	gen := newGenerator(repo)

	cards, err := gen.GenerateBatch(context.Background(), "VIP", 250, 0)
	require.NoError(t, err)
	require.Len(t, cards, 250)

	seen := make(map[string]bool)
	for _, c := range cards {
		assert.False(t, seen[c.FullCode], "duplicate %s", c.FullCode)
		seen[c.FullCode] = true
		assert.Len(t, c.Code, domain.DefaultCodeLength)
	}

	stats, _ := repo.CardStats(context.Background())
	assert.Equal(t, 250, stats.Unused)
}

func TestGenerateBatch_PartialOnExhaustion(t *testing.T) {
	repo := repository.NewMemoryRepository()
	policy := domain.DefaultPolicy()
	policy.MaxGenerationAttempts = 3
	gen := NewCodeGenerator(repo, policy, testutil.NewFixedClock(t0), nil)
	gen.random = zeroReader{}

	cards, err := gen.GenerateBatch(context.Background(), "VIP", 5, 6)
	assert.ErrorIs(t, err, domain.ErrGenerationExhausted)
	assert.Len(t, cards, 1)
}
