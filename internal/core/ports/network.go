// Package ports defines the capability interfaces the engine core
// consumes. Collaborators (network transport, persistence, rendering,
// identity) are injected behind these interfaces so tests can
// substitute them.
package ports

import (
	"context"

	"github.com/showpath/showgate/internal/core/domain"
)

// PaywallQuery identifies which paywall definition to fetch. Exactly
// one of Identifier or Event is normally set; both absent means the
// manual-presentation sentinel.
type PaywallQuery struct {
	Identifier string
	Event      *domain.Event
	Locale     string
}

// EventsStatus is a batch delivery outcome.
type EventsStatus string

const (
	EventsStatusOK             EventsStatus = "ok"
	EventsStatusPartialSuccess EventsStatus = "partialSuccess"
)

// EventsResult reports batch delivery. InvalidIndexes points at events
// the server rejected; they are dropped, not retried.
type EventsResult struct {
	Status         EventsStatus
	InvalidIndexes []int
}

// Network is the remote API collaborator. Implementations enforce their
// own timeouts and surface failures through the domain error taxonomy.
type Network interface {
	FetchConfig(ctx context.Context) (*domain.Config, error)
	FetchPaywall(ctx context.Context, q PaywallQuery) (*domain.PaywallResponse, error)
	SendEvents(ctx context.Context, batch []domain.Event) (*EventsResult, error)
	ConfirmAssignment(ctx context.Context, a domain.Assignment) error
}
