package domain

import "time"

// OutcomeKind classifies the result of a validation call.
type OutcomeKind string

const (
	OutcomeActivated       OutcomeKind = "activated"
	OutcomeValid           OutcomeKind = "valid"
	OutcomeNotFound        OutcomeKind = "not_found"
	OutcomeMachineMismatch OutcomeKind = "machine_mismatch"
	OutcomeExpired         OutcomeKind = "expired"
)

// Outcome is what the lifecycle engine decided for one validation.
// ExpireAt and Remaining are only meaningful for Activated and Valid.
// Transitioned is set when this call persisted a state change.
type Outcome struct {
	Kind         OutcomeKind
	Card         *Card
	ExpireAt     time.Time
	Remaining    time.Duration
	Transitioned bool
}

// Authorized reports whether the caller may proceed.
func (o *Outcome) Authorized() bool {
	return o.Kind == OutcomeActivated || o.Kind == OutcomeValid
}

// EventType names a lifecycle transition published to subscribers.
type EventType string

const (
	EventActivated EventType = "card.activated"
	EventExpired   EventType = "card.expired"
)

// CardEvent is emitted after a transition has been persisted.
type CardEvent struct {
	Type        EventType `json:"type"`
	CardID      string    `json:"card_id"`
	FullCode    string    `json:"full_code"`
	MachineCode string    `json:"machine_code,omitempty"`
	ExpireAt    time.Time `json:"expire_at"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewCardEvent builds an event from the card's persisted state.
func NewCardEvent(t EventType, c *Card, now time.Time) CardEvent {
	ev := CardEvent{
		Type:       t,
		CardID:     c.ID,
		FullCode:   c.FullCode,
		OccurredAt: now.UTC(),
	}
	if c.MachineCode != nil {
		ev.MachineCode = *c.MachineCode
	}
	if c.ExpireAt != nil {
		ev.ExpireAt = c.ExpireAt.UTC()
	}
	return ev
}
