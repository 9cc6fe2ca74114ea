package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"duebook/internal/common"
	"duebook/internal/model"
	"duebook/internal/obligation"
)

// TrackResult summarizes what one event did to the book.
type TrackResult struct {
	// Pattern is the post-transition state of the pattern that absorbed the
	// event, nil when nothing matched.
	Pattern       *model.PatternState
	ObligationID  string
	MissesApplied int
	Matched       bool
	AlreadyLinked bool
}

// TrackEvent offers one stored event to the live patterns of its group.
// Overdue windows standing between a pattern and the event are closed as
// misses first, then the event either fulfills the current window or leaves
// it pending. Events older than a pattern's history are never replayed; if
// no other pattern takes such an event, ErrBackfilledEvent asks the caller
// to re-run discovery instead.
func (e *Engine) TrackEvent(ctx context.Context, event *model.Event) (*TrackResult, error) {
	if event == nil {
		return nil, fmt.Errorf("event cannot be nil")
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	linked, err := e.storage.IsEventLinked(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check event %s: %w", event.ID, err)
	}
	if linked {
		slog.Debug("event already linked", "event_id", event.ID)
		return &TrackResult{AlreadyLinked: true}, nil
	}

	patterns, err := e.storage.ListPatternsForGroup(ctx, event.GroupKey())
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns for %s: %w", event.GroupKey().String(), err)
	}

	eventDate := model.DateOnly(event.Date)
	candidates := e.orderByAffinity(patterns, event, eventDate)
	if len(candidates) == 0 {
		slog.Debug("no live patterns for group",
			"event_id", event.ID,
			"group", event.GroupKey().String())
		return &TrackResult{}, nil
	}

	totalMisses := 0
	backfills := 0
	for _, candidate := range candidates {
		outcome, offerErr := e.offerToPattern(ctx, candidate.ID, event, eventDate)
		if offerErr != nil {
			return nil, offerErr
		}

		totalMisses += outcome.misses
		if outcome.backfilled {
			backfills++
			continue
		}
		if outcome.pattern == nil {
			continue
		}

		slog.Info("event fulfilled obligation",
			"event_id", event.ID,
			"pattern_id", outcome.pattern.ID,
			"obligation_id", outcome.obligationID,
			"streak", outcome.pattern.CurrentStreak,
			"misses_applied", totalMisses)
		return &TrackResult{
			Pattern:       outcome.pattern,
			ObligationID:  outcome.obligationID,
			MissesApplied: totalMisses,
			Matched:       true,
		}, nil
	}

	if backfills > 0 {
		return nil, fmt.Errorf("event %s on %s: %w",
			event.ID, eventDate.Format("2006-01-02"), common.ErrBackfilledEvent)
	}

	slog.Debug("event matched no pattern",
		"event_id", event.ID,
		"group", event.GroupKey().String(),
		"misses_applied", totalMisses)
	return &TrackResult{MissesApplied: totalMisses}, nil
}

// orderByAffinity decides which pattern gets first claim on an event:
// patterns whose expected amount range contains the event's amount come
// first, then the nearest expected date, then ID. The order is computed from
// the listed snapshot; the match itself is re-tested against reloaded state
// under the pattern lock.
func (e *Engine) orderByAffinity(patterns []model.PatternState, event *model.Event, eventDate time.Time) []model.PatternState {
	live := make([]model.PatternState, 0, len(patterns))
	for _, pattern := range patterns {
		if pattern.Live() {
			live = append(live, pattern)
		}
	}

	rank := func(p *model.PatternState) int {
		if event.Amount.Cmp(p.ExpectedMinAmount) >= 0 && event.Amount.Cmp(p.ExpectedMaxAmount) <= 0 {
			return 0
		}
		return 1
	}
	distance := func(p *model.PatternState) int {
		days := model.DaysBetween(p.NextExpectedDate, eventDate)
		if days < 0 {
			return -days
		}
		return days
	}

	sort.Slice(live, func(i, j int) bool {
		ri, rj := rank(&live[i]), rank(&live[j])
		if ri != rj {
			return ri < rj
		}
		di, dj := distance(&live[i]), distance(&live[j])
		if di != dj {
			return di < dj
		}
		return live[i].ID < live[j].ID
	})
	return live
}

// offerOutcome reports what one pattern did with an offered event.
type offerOutcome struct {
	pattern      *model.PatternState
	obligationID string
	misses       int
	backfilled   bool
}

// offerToPattern runs the per-pattern matching rule under the pattern's
// lock: close every overdue window the event cannot fulfill, then fulfill
// the current window if the event lands inside it.
func (e *Engine) offerToPattern(ctx context.Context, patternID string, event *model.Event, eventDate time.Time) (offerOutcome, error) {
	unlock := e.locks.lock(patternID)
	defer unlock()

	pattern, err := e.storage.GetPattern(ctx, patternID)
	if err != nil {
		return offerOutcome{}, fmt.Errorf("failed to reload pattern %s: %w", patternID, err)
	}
	if !pattern.Live() {
		return offerOutcome{}, nil
	}
	if eventDate.Before(pattern.LastActualDate) {
		return offerOutcome{backfilled: true}, nil
	}

	open, err := e.storage.GetOpenObligation(ctx, patternID)
	if err != nil {
		return offerOutcome{}, fmt.Errorf("failed to load open obligation: %w", err)
	}

	// The event arriving dated eventDate proves the ledger has advanced at
	// least that far, so windows that expired before it resolve as misses
	// before the event itself is judged.
	misses := 0
	for open.OverdueAt(eventDate) && !open.MatchesDate(eventDate) {
		transition, missErr := obligation.Miss(pattern, open, eventDate)
		if missErr != nil {
			return offerOutcome{misses: misses}, missErr
		}
		if applyErr := e.storage.ApplyTransition(ctx, transition); applyErr != nil {
			return offerOutcome{misses: misses}, fmt.Errorf("failed to apply miss for pattern %s: %w", patternID, applyErr)
		}
		// The store bumped the stored version; mirror it so the next
		// transition's guard still matches.
		transition.Pattern.Version++
		pattern = transition.Pattern
		open = transition.Next
		misses++

		if !pattern.Live() {
			return offerOutcome{misses: misses}, nil
		}
	}

	if !open.MatchesDate(eventDate) {
		return offerOutcome{misses: misses}, nil
	}

	transition, err := obligation.Fulfill(pattern, open, event, eventDate)
	if err != nil {
		return offerOutcome{misses: misses}, err
	}
	if err := e.storage.ApplyTransition(ctx, transition); err != nil {
		return offerOutcome{misses: misses}, fmt.Errorf("failed to apply fulfillment for pattern %s: %w", patternID, err)
	}
	transition.Pattern.Version++

	return offerOutcome{
		pattern:      transition.Pattern,
		obligationID: open.ID,
		misses:       misses,
	}, nil
}

// TrackSummary aggregates one replay of the unlinked backlog.
type TrackSummary struct {
	Offered    int
	Fulfilled  int
	Unmatched  int
	Backfilled int
	Misses     int
}

// TrackUnlinked replays every unlinked stored event against the live
// patterns of its group, in date order. Events no pattern takes stay
// unlinked for the next discovery run.
func (e *Engine) TrackUnlinked(ctx context.Context) (*TrackSummary, error) {
	groups, err := e.storage.ListGroupsWithUnlinkedEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	summary := &TrackSummary{}
	for _, key := range groups {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		patterns, listErr := e.storage.ListPatternsForGroup(ctx, key)
		if listErr != nil {
			return summary, fmt.Errorf("failed to list patterns for %s: %w", key.String(), listErr)
		}
		hasLive := false
		for _, pattern := range patterns {
			if pattern.Live() {
				hasLive = true
				break
			}
		}
		if !hasLive {
			slog.Debug("group has no live patterns, leaving events for discovery",
				"group", key.String())
			continue
		}

		events, eventsErr := e.storage.GetUnlinkedEvents(ctx, key)
		if eventsErr != nil {
			return summary, fmt.Errorf("failed to load unlinked events for %s: %w", key.String(), eventsErr)
		}

		for i := range events {
			result, trackErr := e.TrackEvent(ctx, &events[i])
			if errors.Is(trackErr, common.ErrBackfilledEvent) {
				summary.Backfilled++
				slog.Warn("backfilled event needs re-discovery",
					"event_id", events[i].ID,
					"group", key.String())
				continue
			}
			if trackErr != nil {
				return summary, trackErr
			}

			summary.Offered++
			summary.Misses += result.MissesApplied
			if result.Matched {
				summary.Fulfilled++
			} else if !result.AlreadyLinked {
				summary.Unmatched++
			}
		}
	}

	slog.Info("tracking replay complete",
		"offered", summary.Offered,
		"fulfilled", summary.Fulfilled,
		"unmatched", summary.Unmatched,
		"backfilled", summary.Backfilled,
		"misses_applied", summary.Misses)
	return summary, nil
}

// SweepOverdue closes every window that expired with no matching event as of
// the given day, degrading patterns as their misses pile up. It returns the
// number of misses applied. Patterns already BROKEN keep their final open
// window untouched.
func (e *Engine) SweepOverdue(ctx context.Context, asOf time.Time) (int, error) {
	asOf = model.DateOnly(asOf)

	overdue, err := e.storage.ListOverdue(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue obligations: %w", err)
	}
	if len(overdue) == 0 {
		slog.Debug("nothing overdue", "as_of", asOf.Format("2006-01-02"))
		return 0, nil
	}

	total := 0
	for _, item := range overdue {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		if !item.Pattern.Live() {
			slog.Debug("skipping broken pattern",
				"pattern_id", item.Pattern.ID,
				"expected_date", item.Obligation.ExpectedDate.Format("2006-01-02"))
			continue
		}

		misses, missErr := e.missUntilCurrent(ctx, item.Pattern.ID, asOf)
		total += misses
		if missErr != nil {
			return total, missErr
		}
	}

	slog.Info("overdue sweep complete",
		"as_of", asOf.Format("2006-01-02"),
		"overdue_windows", len(overdue),
		"misses_applied", total)
	return total, nil
}

// missUntilCurrent applies misses to one pattern until its open window
// reaches the present or the pattern breaks.
func (e *Engine) missUntilCurrent(ctx context.Context, patternID string, asOf time.Time) (int, error) {
	unlock := e.locks.lock(patternID)
	defer unlock()

	misses := 0
	for {
		pattern, err := e.storage.GetPattern(ctx, patternID)
		if err != nil {
			return misses, fmt.Errorf("failed to reload pattern %s: %w", patternID, err)
		}
		if !pattern.Live() {
			return misses, nil
		}

		open, err := e.storage.GetOpenObligation(ctx, patternID)
		if err != nil {
			if errors.Is(err, common.ErrNoOpenWindow) {
				return misses, nil
			}
			return misses, fmt.Errorf("failed to load open obligation: %w", err)
		}
		if !open.OverdueAt(asOf) {
			return misses, nil
		}

		transition, err := obligation.Miss(pattern, open, asOf)
		if err != nil {
			return misses, err
		}
		if err := e.storage.ApplyTransition(ctx, transition); err != nil {
			return misses, fmt.Errorf("failed to apply miss for pattern %s: %w", patternID, err)
		}
		misses++
	}
}
