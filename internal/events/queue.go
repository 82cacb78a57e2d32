// Package events batches tracked session events for delivery. Events
// queue in memory, mirror to the record store so an interrupted session
// can retry them later, and flush on a timer, on a full batch, and on
// shutdown.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/core/ports"
)

// maxBatchSize is the largest number of events sent in one request.
const maxBatchSize = 50

const defaultFlushInterval = 30 * time.Second

// Internal tracking event names emitted by the engine itself.
const (
	EventTriggerFire         = "trigger_fire"
	EventPaywallResponseLoad = "paywall_response_load"
	EventPresentationRequest = "presentation_request"
)

// Load states reported on paywall_response_load events.
const (
	LoadStart    = "start"
	LoadFail     = "fail"
	LoadNotFound = "notFound"
	LoadComplete = "complete"
)

// QueueOption configures the queue.
type QueueOption func(*Queue)

// WithFlushInterval sets the periodic flush cadence.
func WithFlushInterval(d time.Duration) QueueOption {
	return func(q *Queue) { q.flushInterval = d }
}

// Queue is the session event queue.
type Queue struct {
	network ports.Network
	store   ports.RecordStore
	logger  *slog.Logger

	flushInterval time.Duration

	mu      sync.Mutex
	pending []domain.Event
	// inflight holds events handed to a running Flush. They stay in
	// the durable mirror until the send succeeds, so a crash mid-send
	// cannot lose them.
	inflight []domain.Event

	// flushMu serializes flushes so only one delivery owns inflight.
	flushMu sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

var _ ports.Tracker = (*Queue)(nil)

// NewQueue creates a queue. Call Start before tracking.
func NewQueue(network ports.Network, store ports.RecordStore, logger *slog.Logger, opts ...QueueOption) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		network:       network,
		store:         store,
		logger:        logger,
		flushInterval: defaultFlushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start restores events queued by a prior session and begins the
// periodic flush loop.
func (q *Queue) Start(ctx context.Context) error {
	restored, err := q.store.PendingEvents(ctx)
	if err != nil {
		q.logger.Warn("restoring pending events failed", slog.String("error", err.Error()))
	} else if len(restored) > 0 {
		q.mu.Lock()
		q.pending = append(restored, q.pending...)
		q.mu.Unlock()
		q.logger.Debug("restored pending events", slog.Int("count", len(restored)))
	}

	go q.flushLoop()
	return nil
}

func (q *Queue) flushLoop() {
	defer close(q.done)
	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := q.Flush(ctx); err != nil {
				q.logger.Debug("periodic flush failed", slog.String("error", err.Error()))
			}
			cancel()
		case <-q.stop:
			return
		}
	}
}

// Track queues an event for delivery. A full batch flushes immediately.
func (q *Queue) Track(ctx context.Context, ev domain.Event) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mirrorLocked(ctx)
	full := len(q.pending) >= maxBatchSize
	q.mu.Unlock()

	if full {
		if err := q.Flush(ctx); err != nil {
			q.logger.Debug("flush on full batch failed", slog.String("error", err.Error()))
		}
	}
}

// mirrorLocked persists everything undelivered, in-flight events
// included. Callers hold q.mu.
func (q *Queue) mirrorLocked(ctx context.Context) {
	snapshot := make([]domain.Event, 0, len(q.inflight)+len(q.pending))
	snapshot = append(snapshot, q.inflight...)
	snapshot = append(snapshot, q.pending...)
	if err := q.store.SavePendingEvents(ctx, snapshot); err != nil {
		q.logger.Warn("mirroring pending events failed", slog.String("error", err.Error()))
	}
}

// Flush delivers queued events in batches. A delivery failure requeues
// the undelivered remainder and returns the error; events the server
// marks invalid are dropped, not retried.
func (q *Queue) Flush(ctx context.Context) error {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	batchable := q.pending
	q.pending = nil
	q.inflight = batchable
	q.mu.Unlock()

	for len(batchable) > 0 {
		n := len(batchable)
		if n > maxBatchSize {
			n = maxBatchSize
		}
		batch := batchable[:n]

		res, err := q.network.SendEvents(ctx, batch)
		if err != nil {
			q.mu.Lock()
			q.pending = append(batchable, q.pending...)
			q.inflight = nil
			q.mirrorLocked(ctx)
			q.mu.Unlock()
			return err
		}
		if res.Status == ports.EventsStatusPartialSuccess {
			for _, idx := range res.InvalidIndexes {
				if idx < 0 || idx >= len(batch) {
					continue
				}
				q.logger.Warn("server rejected event",
					slog.String("event_name", batch[idx].Name),
					slog.String("event_id", batch[idx].ID))
			}
		}
		batchable = batchable[n:]

		// Shrink the durable mirror only after the batch is delivered.
		q.mu.Lock()
		q.inflight = batchable
		q.mirrorLocked(ctx)
		q.mu.Unlock()
	}
	return nil
}

// Shutdown stops the flush loop and attempts one final delivery.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.stopOnce.Do(func() { close(q.stop) })
	select {
	case <-q.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return q.Flush(ctx)
}

// TrackTriggerFire records that a trigger resolved to an experiment.
func (q *Queue) TrackTriggerFire(ctx context.Context, triggerName string, result domain.TriggerResult) {
	params := map[string]domain.Value{
		"trigger_name": domain.StringValue(triggerName),
		"result":       domain.StringValue(result.Kind.String()),
	}
	if result.Experiment.ID != "" {
		params["experiment_id"] = domain.StringValue(result.Experiment.ID)
		params["variant_id"] = domain.StringValue(result.Experiment.Variant.ID)
	}
	q.Track(ctx, domain.NewEvent(EventTriggerFire, params))
}

// TrackPaywallResponseLoad records a fetch lifecycle transition.
func (q *Queue) TrackPaywallResponseLoad(ctx context.Context, state, requestHash string) {
	q.Track(ctx, domain.NewEvent(EventPaywallResponseLoad, map[string]domain.Value{
		"state":        domain.StringValue(state),
		"request_hash": domain.StringValue(requestHash),
	}))
}

// TrackPresentationRequest records that a presentation run started.
func (q *Queue) TrackPresentationRequest(ctx context.Context, sourceEvent string) {
	q.Track(ctx, domain.NewEvent(EventPresentationRequest, map[string]domain.Value{
		"source_event": domain.StringValue(sourceEvent),
	}))
}
