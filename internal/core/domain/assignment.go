package domain

// Assignment maps an experiment to the variant a user was bucketed
// into. An assignment is unconfirmed while it has only been computed
// locally, and confirmed once it has been reported to the server. An
// experiment has at most one assignment, in exactly one of the two
// partitions.
type Assignment struct {
	ExperimentID string  `json:"experiment_id"`
	Variant      Variant `json:"variant"`
}

// ConfirmableAssignment is an unconfirmed assignment produced during
// trigger evaluation, pending a durable confirmation round-trip.
type ConfirmableAssignment struct {
	ExperimentID string
	Variant      Variant
}

// TriggerResultKind classifies what should happen for one event before
// presentation begins.
type TriggerResultKind int

const (
	// TriggerResultPaywall means a treatment matched: present its paywall.
	TriggerResultPaywall TriggerResultKind = iota
	// TriggerResultHoldout means the user is in a holdout: present nothing.
	TriggerResultHoldout
	// TriggerResultNoRuleMatch means the trigger exists but no rule fired.
	TriggerResultNoRuleMatch
	// TriggerResultUnknownEvent means no trigger is configured for the event.
	TriggerResultUnknownEvent
)

// TriggerResult is the terminal classification of a trigger evaluation.
// Experiment is set for the Paywall and Holdout kinds.
type TriggerResult struct {
	Kind       TriggerResultKind
	Experiment Experiment
}

func (k TriggerResultKind) String() string {
	switch k {
	case TriggerResultPaywall:
		return "paywall"
	case TriggerResultHoldout:
		return "holdout"
	case TriggerResultNoRuleMatch:
		return "no_rule_match"
	case TriggerResultUnknownEvent:
		return "unknown_event"
	}
	return "invalid"
}
