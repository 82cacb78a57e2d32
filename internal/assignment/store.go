// Package assignment owns experiment variant assignment: deterministic
// bucketing, the confirmed/unconfirmed partition, and the confirmation
// round-trip to the server.
package assignment

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/core/ports"
)

// Store is the process-wide assignment map. It is the only writer of
// the persisted assignment partitions. Confirm is the single mutation
// path and is idempotent.
type Store struct {
	store     ports.RecordStore
	network   ports.Network
	installID string
	logger    *slog.Logger

	mu          sync.Mutex
	confirmed   map[string]domain.Variant
	unconfirmed map[string]domain.Variant
	// pendingConfirm holds assignments whose network confirmation
	// failed. It is backed by the pending_confirm partition so that
	// SyncPending can retry them in a later session.
	pendingConfirm map[string]domain.Assignment
}

// NewStore creates an assignment store. installID seeds bucketing so a
// given install lands in the same variant across evaluations.
func NewStore(store ports.RecordStore, network ports.Network, installID string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		store:          store,
		network:        network,
		installID:      installID,
		logger:         logger,
		confirmed:      make(map[string]domain.Variant),
		unconfirmed:    make(map[string]domain.Variant),
		pendingConfirm: make(map[string]domain.Assignment),
	}
}

// Load restores the persisted partitions from the record store.
// Assignments parked in pending_confirm are confirmed locally, so they
// land in the confirmed map as well as the retry queue.
func (s *Store) Load(ctx context.Context) error {
	confirmed, err := s.store.Assignments(ctx, ports.PartitionConfirmed)
	if err != nil {
		return fmt.Errorf("load confirmed assignments: %w", err)
	}
	unconfirmed, err := s.store.Assignments(ctx, ports.PartitionUnconfirmed)
	if err != nil {
		return fmt.Errorf("load unconfirmed assignments: %w", err)
	}
	pending, err := s.store.Assignments(ctx, ports.PartitionPendingConfirm)
	if err != nil {
		return fmt.Errorf("load pending confirmations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range confirmed {
		s.confirmed[a.ExperimentID] = a.Variant
	}
	for _, a := range unconfirmed {
		s.unconfirmed[a.ExperimentID] = a.Variant
	}
	for _, a := range pending {
		s.confirmed[a.ExperimentID] = a.Variant
		s.pendingConfirm[a.ExperimentID] = a
	}
	return nil
}

// Resolve returns the confirmed variant for an experiment, if any.
func (s *Store) Resolve(experimentID string) (domain.Variant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.confirmed[experimentID]
	return v, ok
}

// Unconfirmed returns the locally computed variant for an experiment,
// if one is cached.
func (s *Store) Unconfirmed(experimentID string) (domain.Variant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.unconfirmed[experimentID]
	return v, ok
}

// ComputeUnconfirmed buckets this install into one of the rule's
// variants and caches the result as unconfirmed. Repeated calls before
// Confirm return the same variant: selection is a hash of experiment id
// and install id against the cumulative variant weights, never a fresh
// random draw.
func (s *Store) ComputeUnconfirmed(ctx context.Context, rule domain.TriggerRule) (domain.Variant, error) {
	if len(rule.Variants) == 0 {
		return domain.Variant{}, fmt.Errorf("experiment %s has no variants", rule.ExperimentID)
	}

	s.mu.Lock()
	if v, ok := s.confirmed[rule.ExperimentID]; ok {
		s.mu.Unlock()
		return v, nil
	}
	if v, ok := s.unconfirmed[rule.ExperimentID]; ok {
		s.mu.Unlock()
		return v, nil
	}

	v := bucket(rule, s.installID)
	s.unconfirmed[rule.ExperimentID] = v
	s.mu.Unlock()

	a := domain.Assignment{ExperimentID: rule.ExperimentID, Variant: v}
	if err := s.store.SaveAssignment(ctx, ports.PartitionUnconfirmed, a); err != nil {
		// The in-memory cache still guarantees stability this session.
		s.logger.Warn("failed to persist unconfirmed assignment",
			slog.String("experiment_id", rule.ExperimentID),
			slog.String("error", err.Error()))
	}
	return v, nil
}

// bucket deterministically selects a variant by weighted hash.
func bucket(rule domain.TriggerRule, installID string) domain.Variant {
	total := 0
	for _, opt := range rule.Variants {
		if opt.Weight > 0 {
			total += opt.Weight
		}
	}
	if total == 0 {
		return rule.Variants[0].Variant
	}

	h := fnv.New32a()
	h.Write([]byte(rule.ExperimentID))
	h.Write([]byte{0})
	h.Write([]byte(installID))
	point := int(h.Sum32() % uint32(total))

	for _, opt := range rule.Variants {
		if opt.Weight <= 0 {
			continue
		}
		if point < opt.Weight {
			return opt.Variant
		}
		point -= opt.Weight
	}
	return rule.Variants[len(rule.Variants)-1].Variant
}

// Confirm moves an assignment from unconfirmed to confirmed exactly
// once and reports it to the server. Calling it again with the same
// assignment is a no-op: no duplicate network confirmation is sent.
// A confirmation network failure does not roll the assignment back; it
// is queued for SyncPending.
func (s *Store) Confirm(ctx context.Context, a domain.ConfirmableAssignment) {
	s.mu.Lock()
	if _, ok := s.confirmed[a.ExperimentID]; ok {
		s.mu.Unlock()
		return
	}
	s.confirmed[a.ExperimentID] = a.Variant
	delete(s.unconfirmed, a.ExperimentID)
	s.mu.Unlock()

	assignment := domain.Assignment{ExperimentID: a.ExperimentID, Variant: a.Variant}
	if err := s.store.SaveAssignment(ctx, ports.PartitionConfirmed, assignment); err != nil {
		s.logger.Warn("failed to persist confirmed assignment",
			slog.String("experiment_id", a.ExperimentID),
			slog.String("error", err.Error()))
	}

	if err := s.network.ConfirmAssignment(ctx, assignment); err != nil {
		s.logger.Warn("assignment confirmation failed, queued for retry",
			slog.String("experiment_id", a.ExperimentID),
			slog.String("error", err.Error()))
		s.mu.Lock()
		s.pendingConfirm[a.ExperimentID] = assignment
		s.mu.Unlock()
		// Park it in pending_confirm so a later session retries even
		// if this process never gets another chance.
		if err := s.store.SaveAssignment(ctx, ports.PartitionPendingConfirm, assignment); err != nil {
			s.logger.Warn("failed to persist pending confirmation",
				slog.String("experiment_id", a.ExperimentID),
				slog.String("error", err.Error()))
		}
	}
}

// SyncPending retries assignment confirmations that failed earlier.
// Called at session start.
func (s *Store) SyncPending(ctx context.Context) {
	s.mu.Lock()
	pending := make([]domain.Assignment, 0, len(s.pendingConfirm))
	for _, a := range s.pendingConfirm {
		pending = append(pending, a)
	}
	s.mu.Unlock()

	for _, a := range pending {
		if err := s.network.ConfirmAssignment(ctx, a); err != nil {
			s.logger.Warn("assignment confirmation retry failed",
				slog.String("experiment_id", a.ExperimentID),
				slog.String("error", err.Error()))
			continue
		}
		s.mu.Lock()
		delete(s.pendingConfirm, a.ExperimentID)
		s.mu.Unlock()
		// Saving under confirmed moves the row out of pending_confirm.
		if err := s.store.SaveAssignment(ctx, ports.PartitionConfirmed, a); err != nil {
			s.logger.Warn("failed to persist confirmed assignment",
				slog.String("experiment_id", a.ExperimentID),
				slog.String("error", err.Error()))
		}
	}
}

// ClearUnconfirmed drops locally computed assignments. Used when the
// identity resets: a new user must be re-bucketed.
func (s *Store) ClearUnconfirmed(ctx context.Context) {
	s.mu.Lock()
	s.unconfirmed = make(map[string]domain.Variant)
	s.mu.Unlock()

	if err := s.store.DeleteAssignments(ctx, ports.PartitionUnconfirmed); err != nil {
		s.logger.Warn("failed to clear persisted unconfirmed assignments",
			slog.String("error", err.Error()))
	}
}

// All returns a snapshot of both partitions, for the debug surface.
func (s *Store) All() (confirmed, unconfirmed map[string]domain.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	confirmed = make(map[string]domain.Variant, len(s.confirmed))
	for k, v := range s.confirmed {
		confirmed[k] = v
	}
	unconfirmed = make(map[string]domain.Variant, len(s.unconfirmed))
	for k, v := range s.unconfirmed {
		unconfirmed[k] = v
	}
	return confirmed, unconfirmed
}
