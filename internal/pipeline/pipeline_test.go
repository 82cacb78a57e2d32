package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/showpath/showgate/internal/assignment"
	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/core/ports"
	"github.com/showpath/showgate/internal/occurrence"
	"github.com/showpath/showgate/internal/paywallcache"
	"github.com/showpath/showgate/internal/remoteconfig"
	"github.com/showpath/showgate/internal/rules"
	"github.com/showpath/showgate/internal/storage/memory"
)

type mockNetwork struct {
	mu            sync.Mutex
	config        *domain.Config
	paywall       *domain.PaywallResponse
	paywallErr    error
	paywallCalls  int
	confirmCalls  int
	confirmedExps []string
}

func (m *mockNetwork) FetchConfig(context.Context) (*domain.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config == nil {
		return nil, errors.New("no config")
	}
	return m.config, nil
}

func (m *mockNetwork) FetchPaywall(context.Context, ports.PaywallQuery) (*domain.PaywallResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paywallCalls++
	if m.paywallErr != nil {
		return nil, m.paywallErr
	}
	cp := *m.paywall
	return &cp, nil
}

func (m *mockNetwork) SendEvents(context.Context, []domain.Event) (*ports.EventsResult, error) {
	return &ports.EventsResult{Status: ports.EventsStatusOK}, nil
}

func (m *mockNetwork) ConfirmAssignment(ctx context.Context, a domain.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmCalls++
	m.confirmedExps = append(m.confirmedExps, a.ExperimentID)
	return nil
}

func (m *mockNetwork) fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paywallCalls
}

func (m *mockNetwork) confirms() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmCalls
}

type mockRenderer struct {
	mu        sync.Mutex
	presented []*domain.PaywallResponse
	dismiss   chan domain.DismissResult
	err       error
}

func newMockRenderer() *mockRenderer {
	return &mockRenderer{dismiss: make(chan domain.DismissResult, 1)}
}

func (r *mockRenderer) Present(ctx context.Context, paywall *domain.PaywallResponse, animated bool) (<-chan domain.DismissResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.presented = append(r.presented, paywall)
	return r.dismiss, nil
}

func (r *mockRenderer) presentedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.presented)
}

type stubSubscription struct{ subscribed bool }

func (s stubSubscription) IsSubscribed() bool { return s.subscribed }

type idleGate struct{}

func (idleGate) Wait(ctx context.Context) error { return ctx.Err() }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func campaignConfig() *domain.Config {
	return &domain.Config{
		Triggers: []domain.Trigger{{
			Name: "campaign_trigger",
			Rules: []domain.TriggerRule{{
				ExperimentID:      "exp_1",
				ExperimentGroupID: "grp_1",
				Variants: []domain.VariantOption{{
					Variant: domain.Variant{
						ID:        "var_1",
						Type:      domain.VariantTreatment,
						PaywallID: "pw_1",
					},
					Weight: 100,
				}},
			}},
		}},
	}
}

type harness struct {
	pipeline *Pipeline
	network  *mockNetwork
	renderer *mockRenderer
}

func newHarness(t *testing.T, net *mockNetwork, subscribed bool) *harness {
	t.Helper()
	logger := testLogger()
	store := memory.New()
	assignments := assignment.NewStore(store, net, "install_1", logger)
	occurrences := occurrence.NewTracker(store, logger)
	evaluator := rules.NewEvaluator(nil)
	config := remoteconfig.NewManager(net, evaluator, occurrences, assignments, logger)
	cache := paywallcache.New(net, logger)
	renderer := newMockRenderer()

	if net.config != nil {
		if err := config.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}

	p := New(idleGate{}, config, assignments, cache, renderer,
		stubSubscription{subscribed: subscribed}, nil, logger)
	return &harness{pipeline: p, network: net, renderer: renderer}
}

func collect(t *testing.T, ch <-chan domain.PaywallState, n int) []domain.PaywallState {
	t.Helper()
	var states []domain.PaywallState
	timeout := time.After(2 * time.Second)
	for len(states) < n {
		select {
		case s, ok := <-ch:
			if !ok {
				return states
			}
			states = append(states, s)
		case <-timeout:
			t.Fatalf("timed out after %d states: %+v", len(states), states)
		}
	}
	return states
}

func TestCampaignTriggerPresentsPaywall(t *testing.T) {
	net := &mockNetwork{
		config: campaignConfig(),
		paywall: &domain.PaywallResponse{
			ID:         "pw_1",
			Identifier: "launch_offer",
			URL:        "https://example.test/pw_1",
			Products:   []domain.Product{{ID: "prod_1", Tier: domain.ProductPrimary}},
		},
	}
	h := newHarness(t, net, false)

	ev := domain.NewEvent("campaign_trigger", nil)
	ch := h.pipeline.Run(context.Background(), &Request{Event: &ev, Locale: "en_US"})

	states := collect(t, ch, 1)
	if states[0].Kind != domain.StatePresented {
		t.Fatalf("state = %v (%v)", states[0].Kind, states[0].Err)
	}
	if states[0].Info.PaywallID != "pw_1" {
		t.Errorf("presented paywall = %+v", states[0].Info)
	}
	if states[0].Info.ExperimentID != "exp_1" || states[0].Info.VariantID != "var_1" {
		t.Errorf("experiment overlay missing: %+v", states[0].Info)
	}
	if !h.pipeline.IsPaywallPresented() {
		t.Error("presenting flag not set")
	}
	if h.network.confirms() != 1 {
		t.Errorf("confirm calls = %d, want 1", h.network.confirms())
	}

	// Dismissal delivers the terminal state and releases the flag.
	h.renderer.dismiss <- domain.DismissResult{Cause: domain.DismissPurchased, ProductID: "prod_1"}
	rest := collect(t, ch, 1)
	if rest[0].Kind != domain.StateDismissed {
		t.Fatalf("terminal state = %v", rest[0].Kind)
	}
	if rest[0].Dismiss.Cause != domain.DismissPurchased {
		t.Errorf("dismiss = %+v", rest[0].Dismiss)
	}
	if _, open := <-ch; open {
		t.Error("channel not closed after terminal state")
	}
	if h.pipeline.IsPaywallPresented() {
		t.Error("presenting flag not released after dismissal")
	}
}

func TestSubscribedSkipsBeforeFetch(t *testing.T) {
	net := &mockNetwork{config: campaignConfig()}
	h := newHarness(t, net, true)

	ev := domain.NewEvent("campaign_trigger", nil)
	ch := h.pipeline.Run(context.Background(), &Request{Event: &ev, Locale: "en_US"})

	states := collect(t, ch, 1)
	if states[0].Kind != domain.StateSkipped || states[0].Reason != domain.SkipUserIsSubscribed {
		t.Fatalf("state = %+v", states[0])
	}
	if h.network.fetches() != 0 {
		t.Errorf("paywall fetches = %d, want 0 before subscription check", h.network.fetches())
	}
}

func TestIgnoreSubscriptionOverridePresents(t *testing.T) {
	net := &mockNetwork{
		config: campaignConfig(),
		paywall: &domain.PaywallResponse{
			ID:       "pw_1",
			URL:      "https://example.test/pw_1",
			Products: []domain.Product{{ID: "prod_1", Tier: domain.ProductPrimary}},
		},
	}
	h := newHarness(t, net, true)

	ev := domain.NewEvent("campaign_trigger", nil)
	ch := h.pipeline.Run(context.Background(), &Request{
		Event:     &ev,
		Locale:    "en_US",
		Overrides: Overrides{IgnoreSubscriptionStatus: true},
	})
	states := collect(t, ch, 1)
	if states[0].Kind != domain.StatePresented {
		t.Fatalf("state = %+v", states[0])
	}
}

func TestUnknownEventSkips(t *testing.T) {
	net := &mockNetwork{config: campaignConfig()}
	h := newHarness(t, net, false)

	ev := domain.NewEvent("never_configured", nil)
	ch := h.pipeline.Run(context.Background(), &Request{Event: &ev, Locale: "en_US"})
	states := collect(t, ch, 1)
	if states[0].Kind != domain.StateSkipped || states[0].Reason != domain.SkipEventNotFound {
		t.Fatalf("state = %+v", states[0])
	}
}

type recordingTelemetry struct {
	mu           sync.Mutex
	triggerFires []string
}

func (r *recordingTelemetry) TrackTriggerFire(ctx context.Context, triggerName string, result domain.TriggerResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggerFires = append(r.triggerFires, triggerName)
}

func (r *recordingTelemetry) TrackPaywallResponseLoad(context.Context, string, string) {}
func (r *recordingTelemetry) TrackPresentationRequest(context.Context, string)        {}

func (r *recordingTelemetry) fires() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.triggerFires...)
}

func TestTriggerFireNotReportedForUnknownEvent(t *testing.T) {
	net := &mockNetwork{
		config: campaignConfig(),
		paywall: &domain.PaywallResponse{
			ID:       "pw_1",
			URL:      "https://example.test/pw_1",
			Products: []domain.Product{{ID: "prod_1", Tier: domain.ProductPrimary}},
		},
	}
	logger := testLogger()
	store := memory.New()
	assignments := assignment.NewStore(store, net, "install_1", logger)
	occurrences := occurrence.NewTracker(store, logger)
	config := remoteconfig.NewManager(net, rules.NewEvaluator(nil), occurrences, assignments, logger)
	if err := config.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	telemetry := &recordingTelemetry{}
	p := New(idleGate{}, config, assignments, paywallcache.New(net, logger),
		newMockRenderer(), stubSubscription{}, telemetry, logger)

	ev := domain.NewEvent("never_configured", nil)
	collect(t, p.Run(context.Background(), &Request{Event: &ev, Locale: "en_US"}), 1)
	if got := telemetry.fires(); len(got) != 0 {
		t.Fatalf("unknown event reported trigger fires: %v", got)
	}

	ev = domain.NewEvent("campaign_trigger", nil)
	collect(t, p.Run(context.Background(), &Request{Event: &ev, Locale: "en_US"}), 1)
	if got := telemetry.fires(); len(got) != 1 || got[0] != "campaign_trigger" {
		t.Fatalf("configured trigger fires = %v, want [campaign_trigger]", got)
	}
}

func TestHoldoutSkipsAndConfirms(t *testing.T) {
	cfg := campaignConfig()
	cfg.Triggers[0].Rules[0].Variants = []domain.VariantOption{{
		Variant: domain.Variant{ID: "var_h", Type: domain.VariantHoldout},
		Weight:  100,
	}}
	net := &mockNetwork{config: cfg}
	h := newHarness(t, net, false)

	ev := domain.NewEvent("campaign_trigger", nil)
	ch := h.pipeline.Run(context.Background(), &Request{Event: &ev, Locale: "en_US"})
	states := collect(t, ch, 1)
	if states[0].Kind != domain.StateSkipped || states[0].Reason != domain.SkipHoldout {
		t.Fatalf("state = %+v", states[0])
	}
	if h.network.confirms() != 1 {
		t.Errorf("holdout confirm calls = %d, want 1", h.network.confirms())
	}
	if h.network.fetches() != 0 {
		t.Errorf("paywall fetches = %d, want 0 for holdout", h.network.fetches())
	}
}

func TestNotPresentableFails(t *testing.T) {
	net := &mockNetwork{
		config:  campaignConfig(),
		paywall: &domain.PaywallResponse{ID: "pw_1", URL: "https://example.test/pw_1"},
	}
	h := newHarness(t, net, false)

	ev := domain.NewEvent("campaign_trigger", nil)
	ch := h.pipeline.Run(context.Background(), &Request{Event: &ev, Locale: "en_US"})
	states := collect(t, ch, 1)
	if states[0].Kind != domain.StateFailed {
		t.Fatalf("state = %+v", states[0])
	}
	if !domain.IsErrorType(states[0].Err, domain.ErrorTypeNotPresentable) {
		t.Errorf("error = %v", states[0].Err)
	}
}

func TestFetchFailureFails(t *testing.T) {
	net := &mockNetwork{
		config:     campaignConfig(),
		paywallErr: domain.ErrNotFound,
	}
	h := newHarness(t, net, false)

	ev := domain.NewEvent("campaign_trigger", nil)
	ch := h.pipeline.Run(context.Background(), &Request{Event: &ev, Locale: "en_US"})
	states := collect(t, ch, 1)
	if states[0].Kind != domain.StateFailed {
		t.Fatalf("state = %+v", states[0])
	}
	if !errors.Is(states[0].Err, domain.ErrNotFound) {
		t.Errorf("error = %v", states[0].Err)
	}
}

func TestSecondConcurrentPresentFails(t *testing.T) {
	net := &mockNetwork{
		config: campaignConfig(),
		paywall: &domain.PaywallResponse{
			ID:       "pw_1",
			URL:      "https://example.test/pw_1",
			Products: []domain.Product{{ID: "prod_1", Tier: domain.ProductPrimary}},
		},
	}
	h := newHarness(t, net, false)
	ctx := context.Background()

	ev := domain.NewEvent("campaign_trigger", nil)
	first := h.pipeline.Run(ctx, &Request{Event: &ev, Locale: "en_US"})
	if s := collect(t, first, 1); s[0].Kind != domain.StatePresented {
		t.Fatalf("first run state = %+v", s[0])
	}

	second := h.pipeline.Run(ctx, &Request{Event: &ev, Locale: "en_US"})
	states := collect(t, second, 1)
	if states[0].Kind != domain.StateFailed {
		t.Fatalf("second run state = %+v", states[0])
	}
	if !domain.IsErrorType(states[0].Err, domain.ErrorTypeAlreadyPresented) {
		t.Errorf("error = %v", states[0].Err)
	}
	if h.renderer.presentedCount() != 1 {
		t.Errorf("renderer presented %d paywalls", h.renderer.presentedCount())
	}
}

func TestProgrammaticPresentByIdentifier(t *testing.T) {
	net := &mockNetwork{
		// No triggers needed: the paywall is addressed directly.
		config: &domain.Config{},
		paywall: &domain.PaywallResponse{
			ID:         "pw_9",
			Identifier: "special_offer",
			URL:        "https://example.test/pw_9",
			Products:   []domain.Product{{ID: "prod_9", Tier: domain.ProductPrimary}},
		},
	}
	h := newHarness(t, net, false)

	ch := h.pipeline.Run(context.Background(), &Request{Identifier: "special_offer", Locale: "en_US"})
	states := collect(t, ch, 1)
	if states[0].Kind != domain.StatePresented {
		t.Fatalf("state = %+v", states[0])
	}
	if states[0].Info.PaywallID != "pw_9" {
		t.Errorf("info = %+v", states[0].Info)
	}
}

func TestPresentAgainReplaysAfterDismissal(t *testing.T) {
	net := &mockNetwork{
		config: campaignConfig(),
		paywall: &domain.PaywallResponse{
			ID:         "pw_1",
			Identifier: "launch_offer",
			URL:        "https://example.test/pw_1",
			Products:   []domain.Product{{ID: "prod_1", Tier: domain.ProductPrimary}},
		},
	}
	h := newHarness(t, net, false)
	ctx := context.Background()

	ev := domain.NewEvent("campaign_trigger", nil)
	ch := h.pipeline.Run(ctx, &Request{Event: &ev, Locale: "en_US"})
	collect(t, ch, 1)
	h.renderer.dismiss <- domain.DismissResult{Cause: domain.DismissDeclined}
	collect(t, ch, 1)

	// Replay evicts the cached response, so a fresh fetch happens.
	h.renderer.dismiss = make(chan domain.DismissResult, 1)
	again := h.pipeline.PresentAgain(ctx)
	states := collect(t, again, 1)
	if states[0].Kind != domain.StatePresented {
		t.Fatalf("replay state = %+v", states[0])
	}
	if h.network.fetches() != 2 {
		t.Errorf("fetches = %d, want 2 (cache evicted on replay)", h.network.fetches())
	}
}

func TestPresentAgainWithoutPriorRun(t *testing.T) {
	net := &mockNetwork{config: campaignConfig()}
	h := newHarness(t, net, false)

	ch := h.pipeline.PresentAgain(context.Background())
	states := collect(t, ch, 1)
	if states[0].Kind != domain.StateFailed {
		t.Fatalf("state = %+v", states[0])
	}
}

func TestExactlyOneTerminalState(t *testing.T) {
	net := &mockNetwork{config: campaignConfig()}
	h := newHarness(t, net, true)

	ev := domain.NewEvent("campaign_trigger", nil)
	ch := h.pipeline.Run(context.Background(), &Request{Event: &ev, Locale: "en_US"})

	var terminals int
	for s := range ch {
		if s.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal states = %d, want exactly 1", terminals)
	}
}
