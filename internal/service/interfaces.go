// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"duebook/internal/model"
)

// PatternFilter defines filtering options for pattern listing.
type PatternFilter struct {
	Status    *model.PatternStatus
	Direction *model.Direction
	Currency  string
	Limit     int
	Offset    int
}

// Storage defines the contract for our persistence layer. Every write is
// atomic inside the store; callers never manage transactions themselves.
type Storage interface {
	// Event operations
	SaveEvents(ctx context.Context, events []model.Event) (int, error)
	GetEventByID(ctx context.Context, id string) (*model.Event, error)
	GetUnlinkedEvents(ctx context.Context, key model.GroupKey) ([]model.Event, error)
	ListGroupsWithUnlinkedEvents(ctx context.Context) ([]model.GroupKey, error)
	IsEventLinked(ctx context.Context, eventID string) (bool, error)

	// Pattern operations
	SeedPattern(ctx context.Context, pattern *model.PatternState, first *model.Obligation, eventIDs []string) error
	GetPattern(ctx context.Context, id string) (*model.PatternState, error)
	ListPatterns(ctx context.Context, filter PatternFilter) ([]model.PatternState, error)
	ListPatternsForGroup(ctx context.Context, key model.GroupKey) ([]model.PatternState, error)

	// Obligation operations
	GetOpenObligation(ctx context.Context, patternID string) (*model.Obligation, error)
	ListObligations(ctx context.Context, patternID string) ([]model.Obligation, error)
	ListOverdue(ctx context.Context, asOf time.Time) ([]Overdue, error)

	// Transition operations
	ApplyTransition(ctx context.Context, transition Transition) error
	CancelPattern(ctx context.Context, patternID string, at time.Time) error

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// Transition bundles every row touched when one obligation resolves: the
// updated pattern, the resolution of the open obligation, the successor
// obligation, and optionally the event link that caused it. The store
// applies all of it in one transaction, guarded by the pattern version the
// caller loaded.
type Transition struct {
	Pattern     *model.PatternState
	Next        *model.Obligation
	LinkEventID *string
	Resolution  Resolution
}

// Resolution describes how the open obligation closes.
type Resolution struct {
	ResolvedAt   time.Time
	FulfilledBy  *string
	ObligationID string
	Status       model.ObligationStatus
	DaysEarly    int
}

// Overdue pairs a pattern with its expired open obligation.
type Overdue struct {
	Obligation model.Obligation
	Pattern    model.PatternState
}

// Explanation is the operator-facing presentation of a discovered pattern.
// DisplayName and Explanation are persisted on the pattern;
// ConfidenceReasoning is logged at seed time. IsValid lets an explainer veto
// a candidate it considers nonsense.
type Explanation struct {
	DisplayName         string
	Explanation         string
	ConfidenceReasoning string
	IsValid             bool
}

// Explainer turns an accepted candidate into its presentation. An
// implementation may sit on a remote service, so callers bound it with
// WithRetry and fall back to the deterministic explainer on failure: this
// collaborator can degrade presentation, never correctness.
type Explainer interface {
	Explain(ctx context.Context, candidate *model.PatternCandidate) (*Explanation, error)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
