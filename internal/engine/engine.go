// Package engine orchestrates discovery and tracking over stored events.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"duebook/internal/common"
	"duebook/internal/discovery"
	"duebook/internal/explain"
	"duebook/internal/model"
	"duebook/internal/service"
)

// Engine drives the two halves of the system: turning unlinked events into
// patterns, and settling live patterns against incoming events and the
// passage of time. All state lives in storage; the engine owns only the
// ordering and locking around transitions.
type Engine struct {
	storage   service.Storage
	explainer service.Explainer
	fallback  service.Explainer
	analyzer  *discovery.Analyzer
	locks     *patternLocks
	clock     func() time.Time
	workers   int
	retry     service.RetryOptions
}

// Config holds configuration options for the engine.
type Config struct {
	// Clock overrides time.Now, mainly for tests.
	Clock           func() time.Time
	Discovery       discovery.Config
	Retry           service.RetryOptions
	ParallelWorkers int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Discovery:       discovery.DefaultConfig(),
		ParallelWorkers: 4,
		Retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// New creates an engine with the given dependencies. The explainer may be
// nil, in which case every pattern gets rule-based text.
func New(storage service.Storage, explainer service.Explainer) *Engine {
	return NewWithConfig(storage, explainer, DefaultConfig())
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(storage service.Storage, explainer service.Explainer, config Config) *Engine {
	if config.ParallelWorkers < 1 {
		config.ParallelWorkers = 1
	}
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		storage:   storage,
		explainer: explainer,
		fallback:  explain.NewRuleBased(),
		analyzer:  discovery.NewAnalyzer(config.Discovery),
		locks:     newPatternLocks(),
		clock:     clock,
		workers:   config.ParallelWorkers,
		retry:     config.Retry,
	}
}

// CancelPattern marks a pattern BROKEN by hand and cancels its open window.
func (e *Engine) CancelPattern(ctx context.Context, patternID string) error {
	unlock := e.locks.lock(patternID)
	defer unlock()

	if err := e.storage.CancelPattern(ctx, patternID, e.clock()); err != nil {
		return fmt.Errorf("failed to cancel pattern %s: %w", patternID, err)
	}
	return nil
}

// explainCandidate produces display text for an accepted candidate. The
// primary explainer is retried on transient failures and replaced by the
// rule-based fallback when it keeps failing, so text generation never blocks
// a seed. A nil result means the explainer examined the candidate and
// rejected it as not a real obligation.
func (e *Engine) explainCandidate(ctx context.Context, candidate *model.PatternCandidate) *service.Explanation {
	if e.explainer != nil {
		var explanation *service.Explanation
		err := common.WithRetry(ctx, func() error {
			var explainErr error
			explanation, explainErr = e.explainer.Explain(ctx, candidate)
			return explainErr
		}, e.retry)
		if err == nil && explanation != nil {
			if !explanation.IsValid {
				return nil
			}
			return explanation
		}
		slog.Warn("explainer failed, using rule-based text",
			"group", candidate.GroupKey().String(),
			"error", err)
	}

	explanation, err := e.fallback.Explain(ctx, candidate)
	if err != nil {
		// The rule-based explainer only rejects empty candidates, which the
		// pipeline never emits.
		slog.Error("rule-based explainer rejected candidate",
			"group", candidate.GroupKey().String(),
			"error", err)
		return nil
	}
	return explanation
}

// patternLocks hands out one mutex per pattern ID so transitions against the
// same pattern serialize inside the process. Cross-process races are caught
// by the version guard in storage instead.
type patternLocks struct {
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

func newPatternLocks() *patternLocks {
	return &patternLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for a pattern and returns its release func.
func (l *patternLocks) lock(patternID string) func() {
	l.mu.Lock()
	m, ok := l.locks[patternID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[patternID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
