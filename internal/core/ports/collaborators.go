package ports

import (
	"context"

	"github.com/showpath/showgate/internal/core/domain"
)

// Renderer hosts the paywall UI. The pipeline calls Present and awaits
// the dismissal on the returned channel; it never manages the view
// hierarchy itself. Present is only ever invoked for one paywall at a
// time.
type Renderer interface {
	Present(ctx context.Context, paywall *domain.PaywallResponse, animated bool) (<-chan domain.DismissResult, error)
}

// IdentityGate exposes the pending-identity signal the pipeline awaits
// before evaluating rules, so identifiers are stable for the decision.
type IdentityGate interface {
	// Wait blocks until any in-flight identify operation completes or
	// ctx is done.
	Wait(ctx context.Context) error
}

// Tracker records internal analytics events emitted by the decision
// pipeline (trigger fires, response loads, presentations).
type Tracker interface {
	Track(ctx context.Context, ev domain.Event)
}

// SubscriptionStatus reports whether the user currently holds an active
// subscription. Billing is external; the engine only reads the flag.
type SubscriptionStatus interface {
	IsSubscribed() bool
}
