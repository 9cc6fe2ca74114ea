package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"duebook/internal/common"
	"duebook/internal/model"
	"duebook/internal/obligation"
)

// DiscoverGroup runs the discovery pipeline over one group's unlinked events
// and seeds a pattern for every candidate that survives explanation. Seeded
// patterns claim their founding events, so running discovery twice over the
// same history is a no-op.
func (e *Engine) DiscoverGroup(ctx context.Context, key model.GroupKey) ([]model.PatternState, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid group key: %w", err)
	}

	events, err := e.storage.GetUnlinkedEvents(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load unlinked events for %s: %w", key.String(), err)
	}
	if len(events) == 0 {
		slog.Debug("no unlinked events", "group", key.String())
		return nil, nil
	}

	// Storage returns events ordered, but the pipeline's contract is ours to
	// uphold regardless of where the slice came from.
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].ID < events[j].ID
	})

	candidates := e.analyzer.Discover(key, events)
	if len(candidates) == 0 {
		slog.Debug("no candidates found",
			"group", key.String(),
			"events", len(events))
		return nil, nil
	}

	var seeded []model.PatternState
	for i := range candidates {
		candidate := &candidates[i]

		explanation := e.explainCandidate(ctx, candidate)
		if explanation == nil {
			slog.Info("candidate rejected by explainer",
				"group", key.String(),
				"case", string(candidate.PatternCase),
				"events", candidate.Cluster.Size())
			continue
		}

		pattern, first := obligation.Seed(key, candidate, explanation.DisplayName, explanation.Explanation, e.clock())

		eventIDs := make([]string, 0, candidate.Cluster.Size())
		for _, event := range candidate.Cluster.Events {
			eventIDs = append(eventIDs, event.ID)
		}

		if err := e.storage.SeedPattern(ctx, pattern, first, eventIDs); err != nil {
			if errors.Is(err, common.ErrDuplicateEntry) {
				slog.Warn("candidate events already claimed, skipping",
					"group", key.String(),
					"case", string(candidate.PatternCase))
				continue
			}
			return seeded, fmt.Errorf("failed to seed pattern for %s: %w", key.String(), err)
		}

		slog.Info("accepted candidate",
			"pattern_id", pattern.ID,
			"display_name", pattern.DisplayName,
			"confidence", pattern.BaseConfidence,
			"reasoning", explanation.ConfidenceReasoning)
		seeded = append(seeded, *pattern)
	}

	return seeded, nil
}

// groupResult carries one group's discovery outcome across the worker pool.
type groupResult struct {
	err    error
	key    model.GroupKey
	seeded []model.PatternState
}

// DiscoverAll runs discovery over every group that still has unlinked
// events. Groups are independent, so they fan out across workers; a failure
// in one group never stops the others.
func (e *Engine) DiscoverAll(ctx context.Context) ([]model.PatternState, error) {
	groups, err := e.storage.ListGroupsWithUnlinkedEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	if len(groups) == 0 {
		slog.Info("nothing to discover")
		return nil, nil
	}

	workChan := make(chan model.GroupKey, len(groups))
	for _, key := range groups {
		workChan <- key
	}
	close(workChan)

	resultsChan := make(chan groupResult, len(groups))

	var wg sync.WaitGroup
	wg.Add(e.workers)
	for i := 0; i < e.workers; i++ {
		go func(workerID int) {
			defer wg.Done()
			e.discoverWorker(ctx, workerID, workChan, resultsChan)
		}(i)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	var all []model.PatternState
	failed := 0
	for result := range resultsChan {
		if result.err != nil {
			failed++
			slog.Error("discovery failed for group",
				"group", result.key.String(),
				"error", result.err)
			continue
		}
		all = append(all, result.seeded...)
	}

	// Collection order depends on worker scheduling.
	sort.Slice(all, func(i, j int) bool {
		if all[i].Counterparty != all[j].Counterparty {
			return all[i].Counterparty < all[j].Counterparty
		}
		return all[i].ID < all[j].ID
	})

	slog.Info("discovery sweep complete",
		"groups", len(groups),
		"patterns_seeded", len(all),
		"failed_groups", failed)

	if err := ctx.Err(); err != nil {
		return all, err
	}
	return all, nil
}

// discoverWorker drains group keys from the work channel.
func (e *Engine) discoverWorker(ctx context.Context, workerID int, workChan <-chan model.GroupKey, resultsChan chan<- groupResult) {
	for key := range workChan {
		select {
		case <-ctx.Done():
			return
		default:
		}

		slog.Debug("worker discovering group",
			"worker_id", workerID,
			"group", key.String())

		seeded, err := e.DiscoverGroup(ctx, key)
		resultsChan <- groupResult{key: key, seeded: seeded, err: err}
	}
}
