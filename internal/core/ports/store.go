package ports

import (
	"context"

	"github.com/showpath/showgate/internal/core/domain"
)

// RecordStore is the persistence collaborator. It owns durable
// occurrence counts, assignment maps, queued session events, and small
// identity keys. Implementations must make IncrementOccurrence atomic
// per key.
type RecordStore interface {
	// IncrementOccurrence atomically increments the count for key and
	// returns the count prior to the increment. Two concurrent calls
	// for the same key must serialize.
	IncrementOccurrence(ctx context.Context, key string) (prior int, err error)

	// OccurrenceCount reads the current count without incrementing.
	OccurrenceCount(ctx context.Context, key string) (int, error)

	// SaveAssignment persists an assignment into the named partition
	// ("confirmed" or "unconfirmed"), removing it from the other.
	SaveAssignment(ctx context.Context, partition string, a domain.Assignment) error

	// Assignments returns all assignments in a partition.
	Assignments(ctx context.Context, partition string) ([]domain.Assignment, error)

	// DeleteAssignments removes every assignment in a partition.
	DeleteAssignments(ctx context.Context, partition string) error

	// SavePendingEvents replaces the queued session events awaiting
	// delivery.
	SavePendingEvents(ctx context.Context, events []domain.Event) error

	// PendingEvents returns queued session events from prior sessions.
	PendingEvents(ctx context.Context) ([]domain.Event, error)

	// Get and Set manage small identity-scoped keys (anonymous id,
	// app user id, install id).
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error

	Close() error
}

// Assignment partitions used with RecordStore. An experiment lives in
// exactly one partition at a time. PendingConfirm holds assignments
// that are confirmed locally but whose server confirmation has not yet
// succeeded.
const (
	PartitionConfirmed      = "confirmed"
	PartitionUnconfirmed    = "unconfirmed"
	PartitionPendingConfirm = "pending_confirm"
)
