// Package domain contains the core business logic and entities for cardgate.
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Status is the lifecycle state of a card.
type Status string

const (
	// StatusUnused marks a card that has never been validated.
	StatusUnused Status = "UNUSED"
	// StatusActive marks a card bound to a machine inside its validity window.
	StatusActive Status = "ACTIVE"
	// StatusExpired is terminal.
	StatusExpired Status = "EXPIRED"
)

// ParseStatus converts text into a Status. Input is case-insensitive;
// anything other than the three known names is rejected.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusUnused:
		return StatusUnused, nil
	case StatusActive:
		return StatusActive, nil
	case StatusExpired:
		return StatusExpired, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusUnused || s == StatusActive || s == StatusExpired
}

// Card is a single-use activation code.
type Card struct {
	ID          string     `json:"id"`
	Prefix      string     `json:"prefix"`
	Code        string     `json:"code"`
	FullCode    string     `json:"full_code"`
	Status      Status     `json:"status"`
	MachineCode *string    `json:"machine_code"`
	UsedAt      *time.Time `json:"used_at"`
	ExpireAt    *time.Time `json:"expire_at"`
	Version     int64      `json:"-"` // compare-and-swap token, bumped on every write
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JoinCode builds the full code from a prefix and a random suffix.
func JoinCode(prefix, code string) string {
	return prefix + "-" + code
}

// Clone returns a deep copy so callers never share pointer fields.
func (c *Card) Clone() *Card {
	if c == nil {
		return nil
	}
	cp := *c
	if c.MachineCode != nil {
		m := *c.MachineCode
		cp.MachineCode = &m
	}
	if c.UsedAt != nil {
		u := *c.UsedAt
		cp.UsedAt = &u
	}
	if c.ExpireAt != nil {
		e := *c.ExpireAt
		cp.ExpireAt = &e
	}
	return &cp
}

// BoundTo reports whether the card is bound to machineCode.
func (c *Card) BoundTo(machineCode string) bool {
	return c.MachineCode != nil && *c.MachineCode == machineCode
}

// Activate binds the card to machineCode and starts the validity window.
// The card must be UNUSED.
func (c *Card) Activate(machineCode string, now time.Time, window time.Duration) error {
	if c.Status != StatusUnused {
		return fmt.Errorf("%w: activate from %s", ErrInvalidTransition, c.Status)
	}
	now = now.UTC()
	expires := now.Add(window)
	c.Status = StatusActive
	c.MachineCode = &machineCode
	c.UsedAt = &now
	c.ExpireAt = &expires
	c.UpdatedAt = now
	return nil
}

// ShouldExpire reports whether an ACTIVE card has reached its expiry at now.
// Lazy validation and the periodic sweep both decide with this function.
func ShouldExpire(c *Card, now time.Time) bool {
	if c.Status != StatusActive || c.ExpireAt == nil {
		return false
	}
	return !now.Before(*c.ExpireAt)
}

// Expire moves an ACTIVE card past its expiry to EXPIRED. It returns false
// and leaves the card untouched when ShouldExpire is false.
func (c *Card) Expire(now time.Time) bool {
	if !ShouldExpire(c, now) {
		return false
	}
	c.Status = StatusExpired
	c.UpdatedAt = now.UTC()
	return true
}

// Remaining returns the time left until expiry, never negative.
func (c *Card) Remaining(now time.Time) time.Duration {
	if c.ExpireAt == nil {
		return 0
	}
	d := c.ExpireAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// CheckInvariants verifies the binding and expiry fields agree with Status.
func (c *Card) CheckInvariants() error {
	if !c.Status.Valid() {
		return fmt.Errorf("%w: card %s has status %q", ErrIntegrity, c.FullCode, c.Status)
	}
	bound := c.Status != StatusUnused
	if (c.MachineCode != nil) != bound || (c.ExpireAt != nil) != bound {
		return fmt.Errorf("%w: card %s in %s has inconsistent binding", ErrIntegrity, c.FullCode, c.Status)
	}
	return nil
}

// RoundHours converts d to hours rounded to two decimals.
func RoundHours(d time.Duration) float64 {
	return math.Round(d.Hours()*100) / 100
}

// CardFilter narrows administrative listings.
type CardFilter struct {
	Status Status
	Prefix string
	Search string // substring of full_code or machine_code
	Limit  int
	Offset int
}

// CardStats summarises the card table.
type CardStats struct {
	Total    int `json:"total"`
	Unused   int `json:"unused"`
	Active   int `json:"active"`
	Expired  int `json:"expired"`
	Prefixes int `json:"prefixes"`
}
