package domain

import "errors"

var (
	ErrCardNotFound        = errors.New("card not found")
	ErrGenerationExhausted = errors.New("could not generate a unique code")
	ErrCodeConflict        = errors.New("full code already exists")
	ErrVersionConflict     = errors.New("card was modified concurrently")
	ErrStoreConflict       = errors.New("card update contention, retries exhausted")
	ErrStoreUnavailable    = errors.New("card store unavailable")
	ErrIntegrity           = errors.New("card data integrity violation")
	ErrInvalidStatus       = errors.New("invalid card status")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidPrefix       = errors.New("invalid prefix")
	ErrInvalidLength       = errors.New("invalid code length")
	ErrInvalidCount        = errors.New("invalid batch size")
	ErrInvalidMachineCode  = errors.New("invalid machine code")
)
