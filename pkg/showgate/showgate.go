// Package showgate provides the public API for embedding the paywall
// decision engine. This is the stable API for external consumers.
package showgate

import (
	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/core/ports"
	"github.com/showpath/showgate/internal/pipeline"
	"github.com/showpath/showgate/internal/runtime"
)

// Engine is the paywall decision engine.
// See internal/runtime.Engine for full documentation.
type Engine = runtime.Engine

// Option is a functional option for configuring an Engine.
type Option = runtime.Option

// New creates a new Engine with the given options.
// Example:
//
//	engine, err := showgate.New(
//	    showgate.WithAPIKey("pk_live_..."),
//	    showgate.WithSQLite("./data/showgate.db"),
//	)
var New = runtime.New

// Configuration options
var (
	WithAPIKey      = runtime.WithAPIKey
	WithEnvironment = runtime.WithEnvironment
	WithLocale      = runtime.WithLocale
	WithLogger      = runtime.WithLogger

	// Storage
	WithMemoryStore = runtime.WithMemoryStore
	WithSQLite      = runtime.WithSQLite
	WithStore       = runtime.WithStore

	// Collaborators
	WithNetwork            = runtime.WithNetwork
	WithRenderer           = runtime.WithRenderer
	WithSubscriptionStatus = runtime.WithSubscriptionStatus
	WithUserProperties     = runtime.WithUserProperties

	// Debugging
	WithDebugServer = runtime.WithDebugServer
	WithDebugMode   = runtime.WithDebugMode
)

// Domain types surfaced to callers.
type (
	Event         = domain.Event
	Value         = domain.Value
	PaywallState  = domain.PaywallState
	PaywallInfo   = domain.PaywallInfo
	DismissResult = domain.DismissResult
	SkipReason    = domain.SkipReason
	Overrides     = pipeline.Overrides

	Renderer           = ports.Renderer
	SubscriptionStatus = ports.SubscriptionStatus
)

// Paywall state kinds.
const (
	StatePresented = domain.StatePresented
	StateDismissed = domain.StateDismissed
	StateSkipped   = domain.StateSkipped
	StateFailed    = domain.StateFailed
)

// Value constructors for event parameters and user properties.
var (
	BoolValue   = domain.BoolValue
	NumberValue = domain.NumberValue
	StringValue = domain.StringValue
	ArrayValue  = domain.ArrayValue
	ObjectValue = domain.ObjectValue
)
