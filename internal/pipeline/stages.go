package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/events"
	"github.com/showpath/showgate/internal/paywallcache"
)

// awaitIdentity holds the run until any in-flight identify settles, so
// bucketing sees stable identifiers.
func (p *Pipeline) awaitIdentity(ctx context.Context, st *State) error {
	if p.identity == nil {
		return nil
	}
	if err := p.identity.Wait(ctx); err != nil {
		return domain.WrapError(domain.ErrorTypeNetwork, "identity wait interrupted", err)
	}
	return nil
}

// debuggerCheck diverts preview sessions: the requested paywall is
// addressed directly and fetched fresh, no trigger rules apply.
func (p *Pipeline) debuggerCheck(ctx context.Context, st *State) error {
	if st.req.Debug {
		st.bypassEvaluation = true
		p.logger.Debug("debug session, bypassing rule evaluation",
			slog.String("identifier", st.req.Identifier))
	}
	return nil
}

func (p *Pipeline) evaluateRules(ctx context.Context, st *State) error {
	if st.bypassEvaluation || st.req.Event == nil {
		// Programmatic presentation addresses the paywall directly.
		st.bypassEvaluation = true
		st.result = domain.TriggerResult{Kind: domain.TriggerResultPaywall}
		return nil
	}

	result, confirmable := p.config.EvaluateTrigger(ctx, *st.req.Event)
	st.result = result
	st.confirmable = confirmable
	// Events with no configured trigger are not a fire; don't report
	// them.
	if p.telemetry != nil && result.Kind != domain.TriggerResultUnknownEvent {
		p.telemetry.TrackTriggerFire(ctx, st.req.Event.Name, result)
	}
	return nil
}

func (p *Pipeline) subscriptionCheck(ctx context.Context, st *State) error {
	if st.req.Overrides.IgnoreSubscriptionStatus {
		return nil
	}
	if p.subscription != nil && p.subscription.IsSubscribed() {
		st.emit(domain.Skipped(domain.SkipUserIsSubscribed))
		return errCancelled
	}
	return nil
}

// confirmHoldout reports the holdout assignment. The user still sees no
// paywall; holdouts count only if the server knows about them.
func (p *Pipeline) confirmHoldout(ctx context.Context, st *State) error {
	if st.result.Kind == domain.TriggerResultHoldout && st.confirmable != nil {
		p.assignments.Confirm(ctx, *st.confirmable)
	}
	return nil
}

func (p *Pipeline) handleResult(ctx context.Context, st *State) error {
	switch st.result.Kind {
	case domain.TriggerResultPaywall:
		return nil
	case domain.TriggerResultHoldout:
		st.emit(domain.Skipped(domain.SkipHoldout))
	case domain.TriggerResultNoRuleMatch:
		st.emit(domain.Skipped(domain.SkipNoRuleMatch))
	case domain.TriggerResultUnknownEvent:
		st.emit(domain.Skipped(domain.SkipEventNotFound))
	}
	return errCancelled
}

func (p *Pipeline) getPaywall(ctx context.Context, st *State) error {
	if p.IsPaywallPresented() {
		st.emit(domain.Failed(domain.NewError(domain.ErrorTypeAlreadyPresented,
			"another paywall is currently presented")))
		return errCancelled
	}

	req := paywallcache.Request{
		Identifier: st.req.Identifier,
		Event:      st.req.Event,
		Locale:     st.req.Locale,
		Debug:      st.req.Debug,
	}
	if st.result.Experiment.ID != "" {
		req.ExperimentID = st.result.Experiment.ID
		req.VariantID = st.result.Experiment.Variant.ID
	}
	if req.Identifier == "" && st.result.Experiment.Variant.PaywallID != "" {
		req.Identifier = st.result.Experiment.Variant.PaywallID
	}

	hash := req.Hash()
	if p.telemetry != nil {
		p.telemetry.TrackPaywallResponseLoad(ctx, events.LoadStart, hash)
	}

	paywall, err := p.cache.Get(ctx, req)
	if err != nil {
		// A fetch that failed while the user is subscribed is not an
		// error outcome; the paywall was never going to show.
		if !st.req.Overrides.IgnoreSubscriptionStatus &&
			p.subscription != nil && p.subscription.IsSubscribed() {
			st.emit(domain.Skipped(domain.SkipUserIsSubscribed))
			return errCancelled
		}
		if p.telemetry != nil {
			state := events.LoadFail
			if errors.Is(err, domain.ErrNotFound) {
				state = events.LoadNotFound
			}
			p.telemetry.TrackPaywallResponseLoad(ctx, state, hash)
		}
		return err
	}

	if p.telemetry != nil {
		p.telemetry.TrackPaywallResponseLoad(ctx, events.LoadComplete, hash)
	}
	st.paywall = paywall
	return nil
}

func (p *Pipeline) checkPresentable(ctx context.Context, st *State) error {
	if !st.paywall.Presentable() {
		return domain.NewError(domain.ErrorTypeNotPresentable,
			"paywall definition has no renderable content")
	}
	return nil
}

// confirmAssignment confirms the treatment assignment once the paywall
// is actually going to show.
func (p *Pipeline) confirmAssignment(ctx context.Context, st *State) error {
	if st.result.Kind == domain.TriggerResultPaywall && st.confirmable != nil {
		p.assignments.Confirm(ctx, *st.confirmable)
	}
	return nil
}

func (p *Pipeline) present(ctx context.Context, st *State) error {
	if p.renderer == nil {
		return domain.NewError(domain.ErrorTypeNotPresentable, "no renderer configured")
	}

	p.mu.Lock()
	if p.presenting {
		p.mu.Unlock()
		st.emit(domain.Failed(domain.NewError(domain.ErrorTypeAlreadyPresented,
			"another paywall is currently presented")))
		return errCancelled
	}
	p.presenting = true
	p.mu.Unlock()

	dismissed, err := p.renderer.Present(ctx, st.paywall, st.req.Overrides.Animated)
	if err != nil {
		p.mu.Lock()
		p.presenting = false
		p.mu.Unlock()
		return domain.WrapError(domain.ErrorTypeNotPresentable, "renderer rejected paywall", err)
	}

	info := st.paywall.Info()
	st.emit(domain.Presented(info))

	go func() {
		var result domain.DismissResult
		select {
		case result = <-dismissed:
		case <-ctx.Done():
		}
		p.mu.Lock()
		p.presenting = false
		p.mu.Unlock()
		st.emit(domain.Dismissed(info, result))
	}()
	return nil
}

// storePresentation retains the request so PresentAgain can replay it.
func (p *Pipeline) storePresentation(ctx context.Context, st *State) error {
	p.mu.Lock()
	p.lastRequest = st.req
	p.lastPaywall = st.paywall
	p.mu.Unlock()
	return nil
}
