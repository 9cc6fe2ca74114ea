package obligation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"duebook/internal/common"
	"duebook/internal/model"
	"duebook/internal/service"
)

// Confidence multiplier adjustments per transition.
const (
	fulfillBoost = 0.05
	missDecay    = 0.15
)

// Pattern status thresholds on consecutive misses.
const (
	maxMissesActive = 1
	maxMissesPaused = 3
)

// Seed materializes an accepted candidate into a fresh pattern plus its
// first open obligation. The pattern starts ACTIVE with a full confidence
// multiplier; the streak starts at zero because observed history is not the
// same thing as tracked fulfillments.
func Seed(key model.GroupKey, candidate *model.PatternCandidate, displayName, explanation string, now time.Time) (*model.PatternState, *model.Obligation) {
	lastActual := model.DateOnly(candidate.Cluster.Last().Date)

	pattern := &model.PatternState{
		ID:                   uuid.New().String(),
		Counterparty:         key.Counterparty,
		Direction:            key.Direction,
		Currency:             key.Currency,
		DisplayName:          displayName,
		Explanation:          explanation,
		PatternCase:          candidate.PatternCase,
		AmountBehavior:       candidate.AmountBehavior,
		Status:               model.StatusActive,
		IntervalDays:         candidate.IntervalDays,
		ExpectedMinAmount:    candidate.Cluster.Min,
		ExpectedMaxAmount:    candidate.Cluster.Max,
		ExpectedAvgAmount:    candidate.Cluster.Avg,
		BaseConfidence:       candidate.Confidence,
		ConfidenceMultiplier: 1.0,
		Version:              1,
		LastActualDate:       lastActual,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	pattern.NextExpectedDate = NextExpectedDate(pattern.PatternCase, pattern.IntervalDays, lastActual, 0)

	return pattern, newOpenObligation(pattern, now)
}

// Fulfill applies a matched event to the pattern's open obligation. It
// returns the full transition for the store to apply atomically: the updated
// pattern, the FULFILLED resolution, the next EXPECTED obligation, and the
// event link.
func Fulfill(pattern *model.PatternState, open *model.Obligation, event *model.Event, now time.Time) (service.Transition, error) {
	if err := checkPair(pattern, open); err != nil {
		return service.Transition{}, err
	}

	eventDate := model.DateOnly(event.Date)
	if eventDate.Before(pattern.LastActualDate) {
		return service.Transition{}, fmt.Errorf("%w: event %s on %s precedes last actual %s",
			common.ErrBackfilledEvent, event.ID,
			eventDate.Format("2006-01-02"), pattern.LastActualDate.Format("2006-01-02"))
	}

	next := *pattern
	next.LastActualDate = eventDate
	next.CurrentStreak++
	next.MissedCount = 0
	next.ConfidenceMultiplier = clamp01(next.ConfidenceMultiplier + fulfillBoost)
	next.Status = model.StatusActive
	next.NextExpectedDate = NextExpectedDate(next.PatternCase, next.IntervalDays, eventDate, 0)
	next.UpdatedAt = now

	eventID := event.ID
	return service.Transition{
		Pattern:     &next,
		Next:        newOpenObligation(&next, now),
		LinkEventID: &eventID,
		Resolution: service.Resolution{
			ObligationID: open.ID,
			Status:       model.ObligationFulfilled,
			ResolvedAt:   now,
			DaysEarly:    open.DaysEarlyFor(eventDate),
			FulfilledBy:  &eventID,
		},
	}, nil
}

// Miss resolves an overdue obligation with no matching event. The pattern is
// degraded, never deleted: it keeps predicting off the last real event, with
// the prediction pushed past every period already missed.
func Miss(pattern *model.PatternState, open *model.Obligation, now time.Time) (service.Transition, error) {
	if err := checkPair(pattern, open); err != nil {
		return service.Transition{}, err
	}
	if !open.OverdueAt(now) {
		return service.Transition{}, fmt.Errorf("obligation %s is not overdue on %s",
			open.ID, model.DateOnly(now).Format("2006-01-02"))
	}

	next := *pattern
	next.MissedCount++
	next.CurrentStreak = 0
	next.ConfidenceMultiplier = clamp01(next.ConfidenceMultiplier - missDecay)
	next.Status = statusForMisses(next.MissedCount)
	next.NextExpectedDate = NextExpectedDate(next.PatternCase, next.IntervalDays, next.LastActualDate, next.MissedCount)
	next.UpdatedAt = now

	return service.Transition{
		Pattern: &next,
		Next:    newOpenObligation(&next, now),
		Resolution: service.Resolution{
			ObligationID: open.ID,
			Status:       model.ObligationMissed,
			ResolvedAt:   now,
		},
	}, nil
}

func statusForMisses(missed int) model.PatternStatus {
	switch {
	case missed <= maxMissesActive:
		return model.StatusActive
	case missed <= maxMissesPaused:
		return model.StatusPaused
	default:
		return model.StatusBroken
	}
}

// checkPair validates the loaded state before any transition math runs.
// Corrupt rows surface as ErrCorruptState here instead of panics deeper in.
func checkPair(pattern *model.PatternState, open *model.Obligation) error {
	if err := pattern.Validate(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCorruptState, err)
	}
	if err := open.Validate(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCorruptState, err)
	}
	if open.PatternID != pattern.ID {
		return fmt.Errorf("%w: obligation %s belongs to pattern %s, not %s",
			common.ErrCorruptState, open.ID, open.PatternID, pattern.ID)
	}
	if !open.Status.Open() {
		return fmt.Errorf("%w: obligation %s is already %s",
			common.ErrCorruptState, open.ID, open.Status)
	}
	return nil
}

func newOpenObligation(pattern *model.PatternState, now time.Time) *model.Obligation {
	return &model.Obligation{
		ID:                uuid.New().String(),
		PatternID:         pattern.ID,
		Status:            model.ObligationExpected,
		ExpectedDate:      pattern.NextExpectedDate,
		ToleranceDays:     ToleranceDays(pattern.PatternCase, pattern.IntervalDays),
		ExpectedMinAmount: pattern.ExpectedMinAmount,
		ExpectedMaxAmount: pattern.ExpectedMaxAmount,
		CreatedAt:         now,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	// Keep the stored multiplier tidy after repeated float adds.
	return float64(int(v*100+0.5)) / 100
}
