package model

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction indicates whether a group's money moves out of or into the account.
type Direction string

const (
	// DirectionDebit marks outgoing transactions (rent, subscriptions, EMIs).
	DirectionDebit Direction = "DEBIT"
	// DirectionCredit marks incoming transactions (salary, refunds, payouts).
	DirectionCredit Direction = "CREDIT"
)

// Valid reports whether the direction is one of the known values.
func (d Direction) Valid() bool {
	switch d {
	case DirectionDebit, DirectionCredit:
		return true
	}
	return false
}

// GroupKey identifies the (counterparty, direction, currency) group an event
// belongs to. All discovery and tracking is scoped to one group at a time.
type GroupKey struct {
	Counterparty string
	Currency     string
	Direction    Direction
}

// String renders the key for logs and error messages.
func (k GroupKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Counterparty, k.Direction, k.Currency)
}

// Validate ensures the key is fully specified.
func (k GroupKey) Validate() error {
	if k.Counterparty == "" {
		return fmt.Errorf("counterparty is required")
	}
	if !k.Direction.Valid() {
		return fmt.Errorf("invalid direction: %q", k.Direction)
	}
	if k.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	return nil
}

// Event is a single observed transaction occurrence. Events are produced by
// the ingestion side, deduplicated on Hash, and read-only to the engine.
type Event struct {
	Date         time.Time
	ID           string
	Counterparty string
	Currency     string
	Hash         string
	Direction    Direction
	Amount       decimal.Decimal
}

// GroupKey returns the group this event belongs to.
func (e *Event) GroupKey() GroupKey {
	return GroupKey{
		Counterparty: e.Counterparty,
		Direction:    e.Direction,
		Currency:     e.Currency,
	}
}

// GenerateHash creates a stable hash for duplicate detection on import.
func (e *Event) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s",
		e.Date.Format("2006-01-02"),
		e.Amount.String(),
		e.Counterparty,
		e.Direction,
		e.Currency)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// Validate ensures the event carries everything the engine relies on.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.Date.IsZero() {
		return fmt.Errorf("event date is required")
	}
	if err := e.GroupKey().Validate(); err != nil {
		return err
	}
	if e.Amount.IsNegative() {
		return fmt.Errorf("event amount must not be negative (direction carries the sign)")
	}
	return nil
}
