// Package remoteconfig caches the remotely fetched configuration and
// classifies trigger events against it.
package remoteconfig

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/showpath/showgate/internal/assignment"
	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/core/ports"
	"github.com/showpath/showgate/internal/occurrence"
	"github.com/showpath/showgate/internal/rules"
)

// Manager holds the most recent config snapshot. Refresh is the single
// writer: each successful fetch replaces the snapshot wholesale, it is
// never mutated in place. Until the first refresh completes, Config
// returns nil and trigger lookups classify as UnknownEvent.
type Manager struct {
	network     ports.Network
	evaluator   *rules.Evaluator
	occurrences *occurrence.Tracker
	assignments *assignment.Store
	logger      *slog.Logger

	mu      sync.RWMutex
	current *domain.Config

	// refreshMu collapses concurrent Refresh calls into one fetch.
	refreshMu sync.Mutex
}

func NewManager(
	network ports.Network,
	evaluator *rules.Evaluator,
	occurrences *occurrence.Tracker,
	assignments *assignment.Store,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		network:     network,
		evaluator:   evaluator,
		occurrences: occurrences,
		assignments: assignments,
		logger:      logger,
	}
}

// Config returns the current snapshot, or nil before the first
// successful refresh.
func (m *Manager) Config() *domain.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Refresh fetches a new config snapshot and swaps it in atomically.
// Concurrent callers serialize; the swap is all-or-nothing, a failed
// fetch leaves the previous snapshot in place.
func (m *Manager) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	cfg, err := m.network.FetchConfig(ctx)
	if err != nil {
		return fmt.Errorf("config fetch: %w", err)
	}

	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()

	m.logger.Info("config refreshed",
		slog.Int("triggers", len(cfg.Triggers)),
		slog.Int("paywalls", len(cfg.Paywalls)))
	return nil
}

// TriggerByName looks up the trigger configured for an event name.
func (m *Manager) TriggerByName(name string) (domain.Trigger, bool) {
	return m.Config().TriggerByName(name)
}

// EvaluateTrigger classifies an event against the current config.
// Rules run in declaration order; a rule matches when its expression
// holds and its occurrence cap allows the fire, and the first match
// wins. The returned ConfirmableAssignment is non-nil when this
// evaluation computed a fresh, not yet confirmed variant.
func (m *Manager) EvaluateTrigger(ctx context.Context, ev domain.Event) (domain.TriggerResult, *domain.ConfirmableAssignment) {
	trigger, ok := m.TriggerByName(ev.Name)
	if !ok {
		return domain.TriggerResult{Kind: domain.TriggerResultUnknownEvent}, nil
	}

	for _, rule := range trigger.Rules {
		matched := m.evaluator.Evaluate(rule.Expression, ev)
		if !m.occurrences.ShouldFire(ctx, rule.Occurrence, matched) {
			continue
		}

		variant, confirmable, err := m.resolveVariant(ctx, rule)
		if err != nil {
			m.logger.Warn("variant resolution failed, skipping rule",
				slog.String("experiment_id", rule.ExperimentID),
				slog.String("error", err.Error()))
			continue
		}

		experiment := domain.Experiment{
			ID:      rule.ExperimentID,
			GroupID: rule.ExperimentGroupID,
			Variant: variant,
		}
		kind := domain.TriggerResultPaywall
		if variant.Type == domain.VariantHoldout {
			kind = domain.TriggerResultHoldout
		}
		return domain.TriggerResult{Kind: kind, Experiment: experiment}, confirmable
	}

	return domain.TriggerResult{Kind: domain.TriggerResultNoRuleMatch}, nil
}

// resolveVariant prefers a confirmed assignment, then a cached
// unconfirmed one, and only then buckets afresh. Variant definitions
// are re-read from the rule so a confirmed id picks up config changes
// to e.g. the paywall it points at.
func (m *Manager) resolveVariant(ctx context.Context, rule domain.TriggerRule) (domain.Variant, *domain.ConfirmableAssignment, error) {
	if v, ok := m.assignments.Resolve(rule.ExperimentID); ok {
		if current, found := rule.VariantByID(v.ID); found {
			return current, nil, nil
		}
		// The confirmed variant no longer exists in config; fall
		// through and re-bucket.
	}

	if v, ok := m.assignments.Unconfirmed(rule.ExperimentID); ok {
		if current, found := rule.VariantByID(v.ID); found {
			return current, &domain.ConfirmableAssignment{ExperimentID: rule.ExperimentID, Variant: current}, nil
		}
	}

	v, err := m.assignments.ComputeUnconfirmed(ctx, rule)
	if err != nil {
		return domain.Variant{}, nil, err
	}
	return v, &domain.ConfirmableAssignment{ExperimentID: rule.ExperimentID, Variant: v}, nil
}

// PaywallIDs lists paywalls referenced by the current config, for
// preloading.
func (m *Manager) PaywallIDs() []string {
	return m.Config().PaywallIDs()
}
