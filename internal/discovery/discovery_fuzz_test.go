//go:build go1.18
// +build go1.18

package discovery

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"duebook/internal/model"
)

// FuzzDiscover drives the full pipeline with generated timelines and checks
// the invariants every candidate must satisfy, whatever the input shape.
func FuzzDiscover(f *testing.F) {
	seeds := []struct {
		count      uint8
		baseGap    uint8
		jitterSeed uint16
		baseCents  uint32
		spread     uint8
	}{
		{4, 30, 1, 2620000, 0},    // monthly rent
		{8, 7, 0, 120000, 0},      // weekly, regular
		{24, 2, 9999, 84000, 200}, // high-frequency noise
		{6, 40, 77, 550000, 30},   // sloppy custom interval
		{2, 40, 0, 750000, 0},     // minimum history
		{0, 0, 0, 0, 0},           // empty
	}
	for _, s := range seeds {
		f.Add(s.count, s.baseGap, s.jitterSeed, s.baseCents, s.spread)
	}

	analyzer := NewAnalyzer(DefaultConfig())
	key := model.GroupKey{Counterparty: "FUZZ", Direction: model.DirectionDebit, Currency: "INR"}

	f.Fuzz(func(t *testing.T, count, baseGap uint8, jitterSeed uint16, baseCents uint32, spread uint8) {
		n := int(count % 25)
		evts := make([]model.Event, 0, n)

		// Simple LCG so timelines are reproducible from the fuzz inputs.
		state := uint32(jitterSeed)
		next := func(mod uint32) uint32 {
			if mod == 0 {
				return 0
			}
			state = state*1664525 + 1013904223
			return (state >> 16) % mod
		}

		date := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
		for i := 0; i < n; i++ {
			if i > 0 {
				gap := int(uint32(baseGap)%120) + int(next(1+uint32(spread)%14))
				date = date.AddDate(0, 0, gap)
			}
			cents := int64(baseCents%10000000) + int64(next(1+uint32(spread)*100))
			evts = append(evts, model.Event{
				ID:           fmt.Sprintf("fz-%04d", i),
				Date:         date,
				Counterparty: key.Counterparty,
				Direction:    key.Direction,
				Currency:     key.Currency,
				Amount:       decimal.New(cents, -2),
			})
		}

		candidates := analyzer.Discover(key, evts)

		cfg := DefaultConfig()
		linked := 0
		for _, c := range candidates {
			if c.Confidence < 0 || c.Confidence > 1 {
				t.Errorf("confidence %f out of range", c.Confidence)
			}
			if c.Cluster.Size() < cfg.MinClusterSize {
				t.Errorf("cluster size %d below minimum", c.Cluster.Size())
			}
			if !c.PatternCase.Trackable() {
				t.Errorf("candidate carries untrackable case %s", c.PatternCase)
			}
			switch {
			case c.PatternCase == model.CaseFlexibleMonthly:
				if c.IntervalDays != nil {
					t.Error("flexible monthly candidate must not carry an interval")
				}
			case c.IntervalDays == nil:
				t.Errorf("case %s requires an interval", c.PatternCase)
			case *c.IntervalDays < cfg.MinIntervalDays:
				t.Errorf("interval %d below minimum", *c.IntervalDays)
			}
			if c.Cluster.Min.GreaterThan(c.Cluster.Max) {
				t.Error("cluster min exceeds max")
			}
			linked += c.Cluster.Size()
		}

		// No event may be claimed by two candidates.
		if linked > len(evts) {
			t.Errorf("candidates claim %d events out of %d", linked, len(evts))
		}

		// Same input, same output.
		again := analyzer.Discover(key, evts)
		if len(again) != len(candidates) {
			t.Errorf("non-deterministic candidate count: %d then %d", len(candidates), len(again))
		}
	})
}
