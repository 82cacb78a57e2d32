// Package pipeline runs one presentation request through the ordered
// decision stages and streams lifecycle states back to the caller.
// Stages execute strictly in order; any stage can emit a terminal state
// and cancel the remainder. Exactly one terminal state is delivered per
// request.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/showpath/showgate/internal/assignment"
	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/core/ports"
	"github.com/showpath/showgate/internal/paywallcache"
	"github.com/showpath/showgate/internal/remoteconfig"
)

// errCancelled short-circuits the remaining stages after a terminal
// state has been emitted. It never reaches the caller.
var errCancelled = errors.New("pipeline cancelled")

// Overrides adjust one request's behavior.
type Overrides struct {
	// IgnoreSubscriptionStatus presents even to subscribed users.
	IgnoreSubscriptionStatus bool

	// Animated is passed through to the renderer.
	Animated bool
}

// Request is one presentation attempt. Either Event (trigger-driven) or
// Identifier (programmatic) is set; both absent means a manual
// presentation of the default paywall.
type Request struct {
	Event      *domain.Event
	Identifier string
	Locale     string
	Overrides  Overrides
	Debug      bool
}

// Telemetry receives the engine's internal tracking events. May be nil.
type Telemetry interface {
	TrackTriggerFire(ctx context.Context, triggerName string, result domain.TriggerResult)
	TrackPaywallResponseLoad(ctx context.Context, state, requestHash string)
	TrackPresentationRequest(ctx context.Context, sourceEvent string)
}

// State is the per-run accumulator threaded through the stages.
type State struct {
	req         *Request
	result      domain.TriggerResult
	confirmable *domain.ConfirmableAssignment
	paywall     *domain.PaywallResponse

	// bypassEvaluation is set for programmatic and debug requests: the
	// paywall is addressed directly, no trigger rules apply.
	bypassEvaluation bool

	mu       sync.Mutex
	terminal bool
	ch       chan domain.PaywallState
}

// emit delivers a state to the caller. Emits after a terminal state are
// dropped; the first terminal emit closes the stream.
func (s *State) emit(state domain.PaywallState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return
	}
	if state.Terminal() {
		s.terminal = true
	}
	s.ch <- state
	if state.Terminal() {
		close(s.ch)
	}
}

// stage is one step of the run. Returning errCancelled stops the run
// without an extra terminal emit; any other error becomes Failed.
type stage struct {
	name string
	run  func(ctx context.Context, st *State) error
}

// Pipeline owns the stage sequence and the single-presentation flag.
type Pipeline struct {
	identity     ports.IdentityGate
	config       *remoteconfig.Manager
	assignments  *assignment.Store
	cache        *paywallcache.Cache
	renderer     ports.Renderer
	subscription ports.SubscriptionStatus
	telemetry    Telemetry
	logger       *slog.Logger
	tracer       trace.Tracer

	mu          sync.Mutex
	presenting  bool
	lastRequest *Request
	lastPaywall *domain.PaywallResponse
}

// New wires a pipeline. Renderer may be nil when presentation is not
// configured; runs then terminate Failed at the present stage.
func New(
	identity ports.IdentityGate,
	config *remoteconfig.Manager,
	assignments *assignment.Store,
	cache *paywallcache.Cache,
	renderer ports.Renderer,
	subscription ports.SubscriptionStatus,
	telemetry Telemetry,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		identity:     identity,
		config:       config,
		assignments:  assignments,
		cache:        cache,
		renderer:     renderer,
		subscription: subscription,
		telemetry:    telemetry,
		logger:       logger,
		tracer:       otel.Tracer("showgate/pipeline"),
	}
}

// IsPaywallPresented reports whether a paywall is currently on screen.
func (p *Pipeline) IsPaywallPresented() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.presenting
}

// Run starts one presentation attempt. The returned channel delivers
// lifecycle states and closes after the terminal one. The channel is
// buffered; callers that stop reading early leak nothing.
func (p *Pipeline) Run(ctx context.Context, req *Request) <-chan domain.PaywallState {
	st := &State{req: req, ch: make(chan domain.PaywallState, 2)}
	go p.run(ctx, st)
	return st.ch
}

// PresentAgain replays the last presented request after evicting its
// paywall from the response cache, forcing a fresh definition fetch
// without re-evaluating rules from a stale event.
func (p *Pipeline) PresentAgain(ctx context.Context) <-chan domain.PaywallState {
	p.mu.Lock()
	req := p.lastRequest
	last := p.lastPaywall
	p.mu.Unlock()

	if req == nil {
		ch := make(chan domain.PaywallState, 1)
		ch <- domain.Failed(domain.NewError(domain.ErrorTypeNotPresentable, "nothing to present again"))
		close(ch)
		return ch
	}
	if last != nil {
		p.cache.Remove(last.Identifier)
	}
	return p.Run(ctx, req)
}

func (p *Pipeline) run(ctx context.Context, st *State) {
	source := st.req.Identifier
	if st.req.Event != nil {
		source = st.req.Event.Name
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("request.source", source)))
	defer span.End()

	if p.telemetry != nil {
		p.telemetry.TrackPresentationRequest(ctx, source)
	}

	for _, s := range p.stages() {
		span.AddEvent(s.name)
		if err := s.run(ctx, st); err != nil {
			if errors.Is(err, errCancelled) {
				return
			}
			p.logger.Warn("presentation failed",
				slog.String("stage", s.name),
				slog.String("error", err.Error()))
			st.emit(domain.Failed(err))
			return
		}
	}
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{"await_identity", p.awaitIdentity},
		{"debugger_check", p.debuggerCheck},
		{"evaluate_rules", p.evaluateRules},
		{"subscription_check", p.subscriptionCheck},
		{"confirm_holdout", p.confirmHoldout},
		{"handle_result", p.handleResult},
		{"get_paywall", p.getPaywall},
		{"check_presentable", p.checkPresentable},
		{"confirm_assignment", p.confirmAssignment},
		{"present", p.present},
		{"store_presentation", p.storePresentation},
	}
}
