package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var validPrefixRegex = regexp.MustCompile(`^[A-Za-z0-9_]{1,16}$`)

const maxMachineCodeLength = 128

// ValidatePrefix checks a card prefix: 1-16 letters, digits or underscores.
func ValidatePrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("%w: prefix cannot be empty", ErrInvalidPrefix)
	}
	if !validPrefixRegex.MatchString(prefix) {
		return fmt.Errorf("%w: '%s' must be 1-16 characters of A-Z, a-z, 0-9 or _", ErrInvalidPrefix, prefix)
	}
	return nil
}

// ValidateCodeLength checks the random suffix length requested for generation.
func ValidateCodeLength(length int) error {
	if length < MinCodeLength || length > MaxCodeLength {
		return fmt.Errorf("%w: %d (must be %d-%d)", ErrInvalidLength, length, MinCodeLength, MaxCodeLength)
	}
	return nil
}

// ValidateMachineCode rejects machine identifiers the store cannot hold.
func ValidateMachineCode(machineCode string) error {
	if strings.TrimSpace(machineCode) == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidMachineCode)
	}
	if len(machineCode) > maxMachineCodeLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidMachineCode, maxMachineCodeLength)
	}
	return nil
}
