package storage

import (
	"context"

	"github.com/peteski22/donorsync/internal/sync"
)

// NoopLogStore is a sync log store that does nothing.
// Used when no log table is configured, e.g. when running locally.
type NoopLogStore struct{}

// NewNoopLogStore creates a new NoopLogStore.
func NewNoopLogStore() *NoopLogStore {
	return &NoopLogStore{}
}

// FinishLog does nothing.
func (s *NoopLogStore) FinishLog(_ context.Context, _ sync.Log) error {
	return nil
}

// RecentLogs always returns an empty slice.
func (s *NoopLogStore) RecentLogs(_ context.Context, _ string, _ int) ([]sync.Log, error) {
	return []sync.Log{}, nil
}

// StartLog does nothing.
func (s *NoopLogStore) StartLog(_ context.Context, _ sync.Log) error {
	return nil
}
