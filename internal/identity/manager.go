// Package identity manages who the engine is deciding for: a persisted
// anonymous id generated on first launch, plus an optional app user id
// supplied by the host application. Rule bucketing keys off these ids,
// so the presentation pipeline gates on Wait until any in-flight
// identify settles.
package identity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/showpath/showgate/internal/core/ports"
)

const (
	keyAnonymousID = "identity.anonymous_id"
	keyAppUserID   = "identity.app_user_id"
)

// AssignmentResetter clears locally computed assignments when the
// identity they were bucketed under goes away.
type AssignmentResetter interface {
	ClearUnconfirmed(ctx context.Context)
}

// Manager owns the current identity.
type Manager struct {
	store       ports.RecordStore
	assignments AssignmentResetter
	logger      *slog.Logger

	// onIdentify runs inside Identify while the gate is held, letting
	// the engine refresh server state under the new identity.
	onIdentify func(ctx context.Context) error

	mu          sync.Mutex
	anonymousID string
	appUserID   string
	gate        chan struct{}
}

var _ ports.IdentityGate = (*Manager)(nil)

// NewManager creates a manager. Call Load before use.
func NewManager(store ports.RecordStore, assignments AssignmentResetter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	gate := make(chan struct{})
	close(gate)
	return &Manager{
		store:       store,
		assignments: assignments,
		logger:      logger,
		gate:        gate,
	}
}

// SetAssignments wires the resetter after construction; the assignment
// store itself needs the loaded identity to exist first.
func (m *Manager) SetAssignments(r AssignmentResetter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = r
}

// SetIdentifyHook registers the round-trip run during Identify.
func (m *Manager) SetIdentifyHook(hook func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onIdentify = hook
}

// Load restores persisted identity, generating and persisting a fresh
// anonymous id on first launch.
func (m *Manager) Load(ctx context.Context) error {
	anon, err := m.store.Get(ctx, keyAnonymousID)
	if err != nil {
		return err
	}
	if anon == "" {
		anon = uuid.NewString()
		if err := m.store.Set(ctx, keyAnonymousID, anon); err != nil {
			return err
		}
		m.logger.Debug("generated anonymous id", slog.String("anonymous_id", anon))
	}
	appUserID, err := m.store.Get(ctx, keyAppUserID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.anonymousID = anon
	m.appUserID = appUserID
	m.mu.Unlock()
	return nil
}

// AnonymousID returns the persisted anonymous id.
func (m *Manager) AnonymousID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anonymousID
}

// AppUserID returns the identified user id, or "" while anonymous.
func (m *Manager) AppUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appUserID
}

// InstallID returns the id bucketing keys off: the app user id when
// identified, otherwise the anonymous id.
func (m *Manager) InstallID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appUserID != "" {
		return m.appUserID
	}
	return m.anonymousID
}

// Identify assigns the app user id. The gate stays pending until the
// id is persisted and the identify hook completes, so concurrent
// presentations wait for a stable identity. Identifying with the
// current id is a no-op.
func (m *Manager) Identify(ctx context.Context, appUserID string) error {
	m.mu.Lock()
	if appUserID == "" || appUserID == m.appUserID {
		m.mu.Unlock()
		return nil
	}
	pending := make(chan struct{})
	m.gate = pending
	hook := m.onIdentify
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.gate = closedGate()
		m.mu.Unlock()
		close(pending)
	}()

	if err := m.store.Set(ctx, keyAppUserID, appUserID); err != nil {
		return err
	}
	m.mu.Lock()
	m.appUserID = appUserID
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			m.logger.Warn("identify round-trip failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Wait blocks while an identify is in flight.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()

	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset rotates the anonymous id, drops the app user id, and clears
// unconfirmed assignments computed under the old identity. Confirmed
// assignments are server state and survive.
func (m *Manager) Reset(ctx context.Context) error {
	fresh := uuid.NewString()
	if err := m.store.Set(ctx, keyAnonymousID, fresh); err != nil {
		return err
	}
	if err := m.store.Set(ctx, keyAppUserID, ""); err != nil {
		return err
	}

	m.mu.Lock()
	m.anonymousID = fresh
	m.appUserID = ""
	m.mu.Unlock()

	if m.assignments != nil {
		m.assignments.ClearUnconfirmed(ctx)
	}
	return nil
}

func closedGate() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
