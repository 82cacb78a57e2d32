// Package memory is an in-memory RecordStore used in tests and as the
// default store when no persistence is configured.
package memory

import (
	"context"
	"sync"

	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/storage"
)

// Store keeps all records in process memory. Occurrence increments are
// serialized under the store mutex, which satisfies the per-key
// atomicity requirement.
type Store struct {
	mu          sync.Mutex
	occurrences map[string]int
	assignments map[string]map[string]domain.Assignment
	pending     []domain.Event
	kv          map[string]string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		occurrences: make(map[string]int),
		assignments: map[string]map[string]domain.Assignment{
			storage.PartitionConfirmed:      {},
			storage.PartitionUnconfirmed:    {},
			storage.PartitionPendingConfirm: {},
		},
		kv: make(map[string]string),
	}
}

func (s *Store) IncrementOccurrence(ctx context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior := s.occurrences[key]
	s.occurrences[key] = prior + 1
	return prior, nil
}

func (s *Store) OccurrenceCount(ctx context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.occurrences[key], nil
}

func (s *Store) SaveAssignment(ctx context.Context, partition string, a domain.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// An experiment lives in exactly one partition.
	for name, part := range s.assignments {
		if name != partition {
			delete(part, a.ExperimentID)
		}
	}
	if s.assignments[partition] == nil {
		s.assignments[partition] = map[string]domain.Assignment{}
	}
	s.assignments[partition][a.ExperimentID] = a
	return nil
}

func (s *Store) Assignments(ctx context.Context, partition string) ([]domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	part := s.assignments[partition]
	result := make([]domain.Assignment, 0, len(part))
	for _, a := range part {
		result = append(result, a)
	}
	return result, nil
}

func (s *Store) DeleteAssignments(ctx context.Context, partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignments[partition] = map[string]domain.Assignment{}
	return nil
}

func (s *Store) SavePendingEvents(ctx context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append([]domain.Event(nil), events...)
	return nil
}

func (s *Store) PendingEvents(ctx context.Context) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]domain.Event(nil), s.pending...), nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.kv[key], nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kv[key] = value
	return nil
}

func (s *Store) Close() error {
	return nil
}

var _ storage.RecordStore = (*Store)(nil)
