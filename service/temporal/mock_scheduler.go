package temporal

import (
	"context"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.RWMutex
	schedules map[string]time.Duration
	upsertErr error
	deleteErr error
}

// NewMockScheduler creates a new mock scheduler for testing.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
	}
}

// UpsertClaimSchedule records the schedule and returns any configured error.
func (m *MockScheduler) UpsertClaimSchedule(ctx context.Context, vaultState string, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.schedules[vaultState] = interval
	return nil
}

// DeleteClaimSchedule removes the schedule and returns any configured error.
func (m *MockScheduler) DeleteClaimSchedule(ctx context.Context, vaultState string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.schedules, vaultState)
	return nil
}

// ScheduleInterval returns the recorded interval for a vault, or zero.
func (m *MockScheduler) ScheduleInterval(vaultState string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schedules[vaultState]
}

// ScheduleCount returns the number of active schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.schedules)
}

// SetUpsertError configures the mock to return an error on upsert.
func (m *MockScheduler) SetUpsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}

// SetDeleteError configures the mock to return an error on delete.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}
