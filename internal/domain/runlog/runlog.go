package runlog

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Settled() bool {
	return s != StatusRunning
}

// Record is the durable summary of one pipeline run.
type Record struct {
	RunID          string
	CorrelationID  string
	Variant        string
	Status         Status
	CurrentStep    string
	CurrentOrdinal int
	CompletedSteps int
	TotalSteps     int
	Attempt        int
	StartedAt      time.Time
	EndedAt        time.Time
	ErrorCode      string
	ErrorMessage   string
	ErrorSubKind   string
}

type Store interface {
	Upsert(ctx context.Context, record Record) error
	Get(ctx context.Context, runID string) (Record, bool)
	List(ctx context.Context) []Record
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// ErrorAwareStore exposes read failures that Store swallows.
type ErrorAwareStore interface {
	Store
	GetWithError(ctx context.Context, runID string) (Record, bool, error)
	ListWithError(ctx context.Context) ([]Record, error)
}

type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]Record),
	}
}

func (s *InMemoryStore) Upsert(_ context.Context, record Record) error {
	if record.RunID == "" {
		return NewStoreError(StoreErrorInvalidData, "runlog.upsert", "run id cannot be empty", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.RunID] = record
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, runID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[runID]
	return record, ok
}

func (s *InMemoryStore) GetWithError(ctx context.Context, runID string) (Record, bool, error) {
	record, ok := s.Get(ctx, runID)
	return record, ok, nil
}

// List returns records newest first.
func (s *InMemoryStore) List(_ context.Context) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	SortNewestFirst(out)
	return out
}

func (s *InMemoryStore) ListWithError(ctx context.Context) ([]Record, error) {
	return s.List(ctx), nil
}

// DeleteOlderThan removes settled runs that ended before cutoff.
func (s *InMemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, record := range s.records {
		if !record.Status.Settled() {
			continue
		}
		ts := record.EndedAt
		if ts.IsZero() {
			ts = record.StartedAt
		}
		if ts.Before(cutoff) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func SortNewestFirst(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].RunID > records[j].RunID
		}
		return records[i].StartedAt.After(records[j].StartedAt)
	})
}
