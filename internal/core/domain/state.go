package domain

// PaywallStateKind identifies the lifecycle state of one presentation
// request.
type PaywallStateKind int

const (
	// StatePresented is the only non-terminal state: the paywall is on
	// screen and a Dismissed state will eventually follow.
	StatePresented PaywallStateKind = iota
	StateDismissed
	StateSkipped
	StateFailed
)

// SkipReason explains why a request terminated without presenting.
type SkipReason string

const (
	SkipHoldout          SkipReason = "holdout"
	SkipNoRuleMatch      SkipReason = "no_rule_match"
	SkipEventNotFound    SkipReason = "event_not_found"
	SkipUserIsSubscribed SkipReason = "user_is_subscribed"
)

// DismissCause records how a presented paywall went away.
type DismissCause string

const (
	DismissDeclined  DismissCause = "declined"
	DismissPurchased DismissCause = "purchased"
	DismissRestored  DismissCause = "restored"
)

// DismissResult is delivered by the renderer when a paywall leaves the
// screen.
type DismissResult struct {
	Cause     DismissCause `json:"cause"`
	ProductID string       `json:"product_id,omitempty"`
}

// PaywallState is one lifecycle update for a presentation request.
// Exactly one terminal state (Dismissed, Skipped, or Failed) is
// delivered per request; Presented may precede Dismissed.
type PaywallState struct {
	Kind    PaywallStateKind
	Info    PaywallInfo
	Reason  SkipReason
	Dismiss DismissResult
	Err     error
}

// Terminal reports whether no further states will follow.
func (s PaywallState) Terminal() bool {
	return s.Kind != StatePresented
}

func Presented(info PaywallInfo) PaywallState {
	return PaywallState{Kind: StatePresented, Info: info}
}

func Dismissed(info PaywallInfo, result DismissResult) PaywallState {
	return PaywallState{Kind: StateDismissed, Info: info, Dismiss: result}
}

func Skipped(reason SkipReason) PaywallState {
	return PaywallState{Kind: StateSkipped, Reason: reason}
}

func Failed(err error) PaywallState {
	return PaywallState{Kind: StateFailed, Err: err}
}

func (k PaywallStateKind) String() string {
	switch k {
	case StatePresented:
		return "presented"
	case StateDismissed:
		return "dismissed"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	}
	return "invalid"
}
