// Package runtime assembles the engine: it wires the collaborators
// behind the ports, owns the start/shutdown lifecycle, and exposes the
// public operations the host application calls.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/showpath/showgate/internal/assignment"
	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/core/ports"
	"github.com/showpath/showgate/internal/events"
	"github.com/showpath/showgate/internal/identity"
	"github.com/showpath/showgate/internal/network"
	"github.com/showpath/showgate/internal/occurrence"
	"github.com/showpath/showgate/internal/paywallcache"
	"github.com/showpath/showgate/internal/pipeline"
	"github.com/showpath/showgate/internal/remoteconfig"
	"github.com/showpath/showgate/internal/rules"
	"github.com/showpath/showgate/internal/server"
	"github.com/showpath/showgate/internal/storage/memory"
)

// Engine is the paywall decision engine. Construct with New, call
// Start once, then use Track/Register/Present operations. Engine can be
// embedded in larger applications.
type Engine struct {
	// Configured via options.
	apiKey       string
	environment  network.Environment
	locale       string
	debugAddr    string
	debugMode    bool
	properties   map[string]domain.Value
	logger       *slog.Logger
	store        ports.RecordStore
	network      ports.Network
	renderer     ports.Renderer
	subscription ports.SubscriptionStatus

	// Assembled at Start.
	client      *network.Client
	identity    *identity.Manager
	assignments *assignment.Store
	occurrences *occurrence.Tracker
	config      *remoteconfig.Manager
	cache       *paywallcache.Cache
	queue       *events.Queue
	pipeline    *pipeline.Pipeline
	debugServer *server.Server

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// New creates an engine from options. An API key is required unless a
// custom network collaborator is injected.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:      slog.Default(),
		environment: network.EnvRelease,
		locale:      "en_US",
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if e.apiKey == "" && e.network == nil {
		return nil, fmt.Errorf("api key required (use WithAPIKey or inject WithNetwork)")
	}
	if e.store == nil {
		e.store = memory.New()
	}
	return e, nil
}

// Start loads identity, assembles the collaborators, refreshes config,
// and begins background work. A failed initial config fetch does not
// fail Start: refresh retries in the background and triggers classify
// as unknown events until a snapshot lands.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine already started")
	}

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel

	e.identity = identity.NewManager(e.store, nil, e.logger)
	if err := e.identity.Load(ctx); err != nil {
		cancel()
		return fmt.Errorf("load identity: %w", err)
	}

	if e.network == nil {
		e.network = network.NewClient(e.apiKey, e.environment, e.logger,
			network.WithLocale(e.locale))
	}
	// Identify and Reset retarget the HTTP client's identity headers.
	if c, ok := e.network.(*network.Client); ok {
		e.client = c
		e.syncClientIdentity()
	}

	e.assignments = assignment.NewStore(e.store, e.network, e.identity.InstallID(), e.logger)
	e.identity.SetAssignments(e.assignments)
	if err := e.assignments.Load(ctx); err != nil {
		e.logger.Warn("loading persisted assignments failed", slog.String("error", err.Error()))
	}

	e.occurrences = occurrence.NewTracker(e.store, e.logger)
	evaluator := rules.NewEvaluator(e.properties)
	e.config = remoteconfig.NewManager(e.network, evaluator, e.occurrences, e.assignments, e.logger)
	e.cache = paywallcache.New(e.network, e.logger)
	e.queue = events.NewQueue(e.network, e.store, e.logger)
	e.pipeline = pipeline.New(e.identity, e.config, e.assignments, e.cache,
		e.renderer, e.subscription, e.queue, e.logger)

	e.identity.SetIdentifyHook(func(ctx context.Context) error {
		e.syncClientIdentity()
		return e.config.Refresh(ctx)
	})

	if err := e.config.Refresh(ctx); err != nil {
		e.logger.Warn("initial config fetch failed, retrying in background",
			slog.String("error", err.Error()))
		go e.retryRefresh(bg)
	}

	e.assignments.SyncPending(ctx)

	if err := e.queue.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("start event queue: %w", err)
	}

	if e.debugAddr != "" {
		e.debugServer = server.New(e.debugAddr, e.logger, e.config, e.assignments)
		go func() {
			if err := e.debugServer.Start(); err != nil {
				e.logger.Error("debug server failed", slog.String("error", err.Error()))
			}
		}()
	}

	e.started = true
	return nil
}

// retryRefresh retries the config fetch with backoff until it succeeds
// or the engine shuts down.
func (e *Engine) retryRefresh(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if err := e.config.Refresh(ctx); err == nil {
			return
		}
		if backoff < time.Minute {
			backoff *= 2
		}
	}
}

// Shutdown flushes queued events and releases resources.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	e.started = false
	e.cancel()

	if err := e.queue.Shutdown(ctx); err != nil {
		e.logger.Warn("event queue shutdown failed", slog.String("error", err.Error()))
	}
	if e.debugServer != nil {
		if err := e.debugServer.Shutdown(ctx); err != nil {
			e.logger.Warn("debug server shutdown failed", slog.String("error", err.Error()))
		}
	}
	return e.store.Close()
}

// Track records an application event and runs it as an implicit
// trigger. The returned channel reports the presentation outcome; for
// events with no configured trigger it delivers Skipped(eventNotFound).
func (e *Engine) Track(ctx context.Context, name string, params map[string]domain.Value) <-chan domain.PaywallState {
	ev := domain.NewEvent(name, params)
	e.queue.Track(ctx, ev)
	return e.pipeline.Run(ctx, &pipeline.Request{
		Event:  &ev,
		Locale: e.locale,
		Debug:  e.debugMode,
	})
}

// Register runs an explicit trigger with per-request overrides.
func (e *Engine) Register(ctx context.Context, name string, params map[string]domain.Value, overrides pipeline.Overrides) <-chan domain.PaywallState {
	ev := domain.NewEvent(name, params)
	e.queue.Track(ctx, ev)
	return e.pipeline.Run(ctx, &pipeline.Request{
		Event:     &ev,
		Locale:    e.locale,
		Overrides: overrides,
		Debug:     e.debugMode,
	})
}

// PresentByIdentifier presents a specific paywall without rule
// evaluation.
func (e *Engine) PresentByIdentifier(ctx context.Context, identifier string) <-chan domain.PaywallState {
	return e.pipeline.Run(ctx, &pipeline.Request{
		Identifier: identifier,
		Locale:     e.locale,
		Debug:      e.debugMode,
	})
}

// PresentAgain replays the last presented request with a fresh paywall
// definition.
func (e *Engine) PresentAgain(ctx context.Context) <-chan domain.PaywallState {
	return e.pipeline.PresentAgain(ctx)
}

// Identify sets the app user id and refreshes server state under it.
func (e *Engine) Identify(ctx context.Context, appUserID string) error {
	return e.identity.Identify(ctx, appUserID)
}

// Reset returns the engine to an anonymous identity.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.identity.Reset(ctx); err != nil {
		return err
	}
	e.syncClientIdentity()
	return nil
}

// syncClientIdentity pushes the current identity onto the default HTTP
// client's headers. Injected network collaborators manage their own.
func (e *Engine) syncClientIdentity() {
	if e.client == nil {
		return
	}
	e.client.SetUserIDs(e.identity.AppUserID(), e.identity.AnonymousID())
}

// IsPaywallPresented reports whether a paywall is currently on screen.
func (e *Engine) IsPaywallPresented() bool {
	return e.pipeline.IsPaywallPresented()
}

// Config returns the current config snapshot, or nil before the first
// successful refresh.
func (e *Engine) Config() *domain.Config {
	return e.config.Config()
}
