package domain

import (
	"fmt"
	"time"
)

const (
	// DefaultValidityWindow is how long a card stays valid after activation.
	DefaultValidityWindow = 3 * time.Hour
	// CodeAlphabet is the character set random suffixes are drawn from.
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	DefaultCodeLength         = 10
	MinCodeLength             = 6
	MaxCodeLength             = 64
	DefaultGenerationAttempts = 100
	DefaultActivationAttempts = 3
	DefaultStoreTimeout       = 5 * time.Second
	MaxBatchSize              = 10000
)

// Policy is the immutable configuration the lifecycle engine and code
// generator are built with.
type Policy struct {
	ValidityWindow        time.Duration
	Alphabet              string
	DefaultCodeLength     int
	MaxGenerationAttempts int
	MaxActivationAttempts int
	StoreTimeout          time.Duration
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		ValidityWindow:        DefaultValidityWindow,
		Alphabet:              CodeAlphabet,
		DefaultCodeLength:     DefaultCodeLength,
		MaxGenerationAttempts: DefaultGenerationAttempts,
		MaxActivationAttempts: DefaultActivationAttempts,
		StoreTimeout:          DefaultStoreTimeout,
	}
}

// Validate checks that every field is usable.
func (p Policy) Validate() error {
	if p.ValidityWindow <= 0 {
		return fmt.Errorf("validity window must be positive, got %s", p.ValidityWindow)
	}
	if len(p.Alphabet) < 2 || len(p.Alphabet) > 256 {
		return fmt.Errorf("alphabet must have between 2 and 256 characters")
	}
	if p.DefaultCodeLength < MinCodeLength || p.DefaultCodeLength > MaxCodeLength {
		return fmt.Errorf("%w: default length %d", ErrInvalidLength, p.DefaultCodeLength)
	}
	if p.MaxGenerationAttempts < 1 {
		return fmt.Errorf("generation attempts must be at least 1")
	}
	if p.MaxActivationAttempts < 1 {
		return fmt.Errorf("activation attempts must be at least 1")
	}
	if p.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive, got %s", p.StoreTimeout)
	}
	return nil
}
