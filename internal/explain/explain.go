// Package explain turns accepted pattern candidates into operator-facing
// text. The rule-based explainer here is pure: the same candidate always
// yields the same words, so it doubles as the fallback when a richer
// explainer is unavailable.
package explain

import (
	"context"
	"fmt"

	"duebook/internal/model"
	"duebook/internal/service"
)

// fullSampleSize mirrors the discovery scoring notion of a complete year of
// monthly history.
const fullSampleSize = 12

// RuleBased implements service.Explainer by assembling text from the
// candidate's own numbers. It never rejects a candidate: validity judgment
// belongs to the discovery pipeline.
type RuleBased struct{}

// NewRuleBased creates the deterministic explainer.
func NewRuleBased() *RuleBased {
	return &RuleBased{}
}

// Explain builds the presentation for one candidate.
func (r *RuleBased) Explain(_ context.Context, candidate *model.PatternCandidate) (*service.Explanation, error) {
	if candidate == nil {
		return nil, fmt.Errorf("candidate cannot be nil")
	}
	if candidate.Cluster.Size() == 0 {
		return nil, fmt.Errorf("candidate has no events")
	}

	key := candidate.GroupKey()
	return &service.Explanation{
		DisplayName:         displayName(key, candidate),
		Explanation:         describe(key, candidate),
		ConfidenceReasoning: reasoning(candidate),
		IsValid:             true,
	}, nil
}

func displayName(key model.GroupKey, candidate *model.PatternCandidate) string {
	return fmt.Sprintf("%s (%s, %s)", key.Counterparty, key.Currency, cadenceShort(candidate))
}

func describe(key model.GroupKey, candidate *model.PatternCandidate) string {
	return fmt.Sprintf("%d %s %s %s, %s, %s.",
		candidate.Cluster.Size(),
		directionNoun(key.Direction),
		directionPreposition(key.Direction),
		key.Counterparty,
		cadenceLong(candidate),
		amountPhrase(key, candidate))
}

func reasoning(candidate *model.PatternCandidate) string {
	return fmt.Sprintf("Confidence %.2f: %d occurrences against a full sample of %d, gaps averaging %.1f days with %.1f days of spread, %s amounts.",
		candidate.Confidence,
		candidate.Cluster.Size(),
		fullSampleSize,
		candidate.AvgGapDays,
		candidate.StddevGapDays,
		behaviorWord(candidate.AmountBehavior))
}

func directionNoun(direction model.Direction) string {
	if direction == model.DirectionCredit {
		return "deposits"
	}
	return "payments"
}

func directionPreposition(direction model.Direction) string {
	if direction == model.DirectionCredit {
		return "from"
	}
	return "to"
}

func cadenceShort(candidate *model.PatternCandidate) string {
	switch candidate.PatternCase {
	case model.CaseFixedMonthly, model.CaseVariableMonthly:
		return "monthly"
	case model.CaseFlexibleMonthly:
		return "flexible monthly"
	case model.CaseBiMonthly:
		return "bi-monthly"
	case model.CaseQuarterly:
		return "quarterly"
	default:
		if candidate.IntervalDays != nil {
			return fmt.Sprintf("every %d days", *candidate.IntervalDays)
		}
		return "recurring"
	}
}

func cadenceLong(candidate *model.PatternCandidate) string {
	switch candidate.PatternCase {
	case model.CaseFixedMonthly, model.CaseVariableMonthly:
		return "about once a month"
	case model.CaseFlexibleMonthly:
		return "once a month without a fixed day"
	case model.CaseBiMonthly:
		return "about every two months"
	case model.CaseQuarterly:
		return "about once a quarter"
	default:
		if candidate.IntervalDays != nil {
			return fmt.Sprintf("about every %d days", *candidate.IntervalDays)
		}
		return "on a recurring schedule"
	}
}

func amountPhrase(key model.GroupKey, candidate *model.PatternCandidate) string {
	switch candidate.AmountBehavior {
	case model.AmountFixed:
		return fmt.Sprintf("steady at %s %s", candidate.Cluster.Avg.StringFixed(2), key.Currency)
	case model.AmountVariable:
		return fmt.Sprintf("usually between %s and %s %s",
			candidate.Cluster.Min.StringFixed(2), candidate.Cluster.Max.StringFixed(2), key.Currency)
	default:
		return fmt.Sprintf("swinging between %s and %s %s",
			candidate.Cluster.Min.StringFixed(2), candidate.Cluster.Max.StringFixed(2), key.Currency)
	}
}

func behaviorWord(behavior model.AmountBehavior) string {
	switch behavior {
	case model.AmountFixed:
		return "fixed"
	case model.AmountVariable:
		return "variable"
	default:
		return "highly variable"
	}
}
