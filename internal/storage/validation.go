package storage

import (
	"context"
	"fmt"
	"strings"

	"duebook/internal/model"
)

// validateContext ensures the context is valid and not cancelled.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return nil
}

// validateString ensures a string parameter is not empty or whitespace.
func validateString(value, name string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	return nil
}

// validateEvent ensures an event is valid for storage.
func validateEvent(event *model.Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return nil
}

// validatePattern ensures a pattern is valid for storage.
func validatePattern(pattern *model.PatternState) error {
	if pattern == nil {
		return fmt.Errorf("pattern cannot be nil")
	}
	if err := pattern.Validate(); err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}
	return nil
}

// validateObligation ensures an obligation is valid for storage.
func validateObligation(obligation *model.Obligation) error {
	if obligation == nil {
		return fmt.Errorf("obligation cannot be nil")
	}
	if err := obligation.Validate(); err != nil {
		return fmt.Errorf("invalid obligation: %w", err)
	}
	return nil
}

// validateGroupKey ensures a group key identifies a real event group.
func validateGroupKey(key model.GroupKey) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("invalid group key: %w", err)
	}
	return nil
}
