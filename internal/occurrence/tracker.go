// Package occurrence enforces per-rule presentation caps backed by the
// record store.
package occurrence

import (
	"context"
	"log/slog"

	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/core/ports"
)

// Tracker gates rule fires against their occurrence caps. Counts only
// increase; the store serializes increments per key so two concurrent
// fires cannot both pass a cap of one.
type Tracker struct {
	store  ports.RecordStore
	logger *slog.Logger
}

func NewTracker(store ports.RecordStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, logger: logger}
}

// ShouldFire decides whether a matched rule may fire given its
// occurrence cap. When the rule did not match, the occurrence is still
// recorded so that analytics can count evaluations. Storage failures
// never block the caller: reads fail open as count zero, and write
// failures are logged and swallowed.
func (t *Tracker) ShouldFire(ctx context.Context, occ *domain.RuleOccurrence, ruleMatched bool) bool {
	if ruleMatched {
		if occ == nil {
			return true
		}
		prior, err := t.store.IncrementOccurrence(ctx, occ.Key)
		if err != nil {
			// Fail open: an unreadable count is treated as zero.
			t.logger.Warn("occurrence increment failed",
				slog.String("key", occ.Key),
				slog.String("error", err.Error()))
			prior = 0
		}
		return prior+1 <= occ.MaxCount
	}

	if occ != nil {
		if _, err := t.store.IncrementOccurrence(ctx, occ.Key); err != nil {
			t.logger.Warn("occurrence record failed",
				slog.String("key", occ.Key),
				slog.String("error", err.Error()))
		}
	}
	return false
}
