package runtime

import (
	"fmt"
	"log/slog"

	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/core/ports"
	"github.com/showpath/showgate/internal/network"
	"github.com/showpath/showgate/internal/storage/memory"
	"github.com/showpath/showgate/internal/storage/sqldb"
)

// Option is a functional option for configuring an Engine.
type Option func(*Engine) error

// WithAPIKey sets the API key used for all remote calls. Required
// unless a custom network is injected.
func WithAPIKey(key string) Option {
	return func(e *Engine) error {
		e.apiKey = key
		return nil
	}
}

// WithEnvironment selects the API host: "release" (default),
// "release_candidate", or "developer".
func WithEnvironment(env string) Option {
	return func(e *Engine) error {
		switch env {
		case "", "release":
			e.environment = network.EnvRelease
		case "release_candidate":
			e.environment = network.EnvReleaseCandidate
		case "developer":
			e.environment = network.EnvDeveloper
		default:
			return fmt.Errorf("unknown environment %q", env)
		}
		return nil
	}
}

// WithLocale sets the device locale used for paywall lookups.
func WithLocale(locale string) Option {
	return func(e *Engine) error {
		e.locale = locale
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithMemoryStore keeps all records in process memory (default).
func WithMemoryStore() Option {
	return func(e *Engine) error {
		e.store = memory.New()
		return nil
	}
}

// WithSQLite persists records to a SQLite database at path. ":memory:"
// is supported for tests.
func WithSQLite(path string) Option {
	return func(e *Engine) error {
		store, err := sqldb.NewSQLite(path)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		e.store = store
		return nil
	}
}

// WithStore injects a custom record store.
func WithStore(store ports.RecordStore) Option {
	return func(e *Engine) error {
		e.store = store
		return nil
	}
}

// WithNetwork injects a custom network collaborator, replacing the
// default HTTP client. Used by tests and for offline operation.
func WithNetwork(net ports.Network) Option {
	return func(e *Engine) error {
		e.network = net
		return nil
	}
}

// WithRenderer sets the UI collaborator that hosts paywalls. Without a
// renderer, presentation requests terminate Failed at the present
// stage.
func WithRenderer(r ports.Renderer) Option {
	return func(e *Engine) error {
		e.renderer = r
		return nil
	}
}

// WithSubscriptionStatus wires the billing-side subscription flag.
func WithSubscriptionStatus(s ports.SubscriptionStatus) Option {
	return func(e *Engine) error {
		e.subscription = s
		return nil
	}
}

// WithUserProperties sets computed properties available to rule
// expressions alongside event parameters. Event parameters shadow
// properties with the same name.
func WithUserProperties(props map[string]domain.Value) Option {
	return func(e *Engine) error {
		e.properties = props
		return nil
	}
}

// WithDebugServer starts the local debug server on addr at engine
// start.
func WithDebugServer(addr string) Option {
	return func(e *Engine) error {
		e.debugAddr = addr
		return nil
	}
}

// WithDebugMode marks every presentation request as a preview session:
// rule evaluation is bypassed and paywall definitions are always
// fetched fresh.
func WithDebugMode() Option {
	return func(e *Engine) error {
		e.debugMode = true
		return nil
	}
}
