package engine

import (
	"context"
	"fmt"
	"sync"

	"duebook/internal/common"
	"duebook/internal/model"
	"duebook/internal/service"
)

// MockExplainer is a test implementation of the Explainer interface. It
// returns deterministic text derived from the candidate, and can be told to
// fail or to veto specific counterparties.
type MockExplainer struct {
	// Err, when set, is returned on every call.
	Err error
	// Reject lists counterparties the explainer vetoes with IsValid=false.
	Reject map[string]bool
	calls  []MockExplainCall
	// FailTimes makes the first N calls fail with a retryable error before
	// succeeding.
	FailTimes int
	mu        sync.Mutex
}

// MockExplainCall records details of one explanation request.
type MockExplainCall struct {
	Group  model.GroupKey
	Events int
}

// NewMockExplainer creates a new mock explainer.
func NewMockExplainer() *MockExplainer {
	return &MockExplainer{
		calls: make([]MockExplainCall, 0),
	}
}

// Explain produces deterministic presentation text for the candidate.
func (m *MockExplainer) Explain(_ context.Context, candidate *model.PatternCandidate) (*service.Explanation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := candidate.GroupKey()
	m.calls = append(m.calls, MockExplainCall{
		Group:  key,
		Events: candidate.Cluster.Size(),
	})

	if m.Err != nil {
		return nil, m.Err
	}
	if m.FailTimes > 0 {
		m.FailTimes--
		return nil, &common.RetryableError{
			Err:       fmt.Errorf("mock explainer outage"),
			Retryable: true,
		}
	}

	if m.Reject[key.Counterparty] {
		return &service.Explanation{IsValid: false}, nil
	}

	return &service.Explanation{
		DisplayName:         fmt.Sprintf("%s subscription", key.Counterparty),
		Explanation:         fmt.Sprintf("Mock explanation for %s.", key.String()),
		ConfidenceReasoning: fmt.Sprintf("Mock reasoning over %d events.", candidate.Cluster.Size()),
		IsValid:             true,
	}, nil
}

// GetCalls returns all recorded calls for verification in tests.
func (m *MockExplainer) GetCalls() []MockExplainCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]MockExplainCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns the number of times Explain was called.
func (m *MockExplainer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears all recorded calls.
func (m *MockExplainer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make([]MockExplainCall, 0)
}
