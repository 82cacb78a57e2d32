package domain

// VariantType distinguishes treatment variants, which show a paywall,
// from holdout variants, which suppress presentation for measurement.
type VariantType string

const (
	VariantTreatment VariantType = "treatment"
	VariantHoldout   VariantType = "holdout"
)

// Variant is one arm of an experiment. PaywallID is set only for
// treatments.
type Variant struct {
	ID        string      `json:"variant_id"`
	Type      VariantType `json:"variant_type"`
	PaywallID string      `json:"paywall_id,omitempty"`
}

// VariantOption is a candidate variant within a rule, weighted for
// bucketing. Weights are relative; they need not sum to 100.
type VariantOption struct {
	Variant Variant `json:"variant"`
	Weight  int     `json:"weight"`
}

// RuleOccurrence caps how many times a rule may fire. The count is
// persisted per Key and only ever increases.
type RuleOccurrence struct {
	Key      string `json:"key"`
	MaxCount int    `json:"max_count"`
}

// TriggerRule pairs a predicate with an experiment. When the expression
// matches and the occurrence cap allows, the user is bucketed into one
// of the rule's variants.
type TriggerRule struct {
	ExperimentID      string          `json:"experiment_id"`
	ExperimentGroupID string          `json:"experiment_group_id"`
	Expression        *Expression     `json:"expression,omitempty"`
	Variants          []VariantOption `json:"variants"`
	Occurrence        *RuleOccurrence `json:"occurrence,omitempty"`
}

// VariantByID returns the rule's variant with the given id.
func (r TriggerRule) VariantByID(id string) (Variant, bool) {
	for _, opt := range r.Variants {
		if opt.Variant.ID == id {
			return opt.Variant, true
		}
	}
	return Variant{}, false
}

// Trigger is a named hook in application code. Rules are evaluated in
// declaration order; the first match wins.
type Trigger struct {
	Name  string        `json:"trigger_name"`
	Rules []TriggerRule `json:"rules"`
}

// Experiment is the resolved A/B test unit for one decision: the
// experiment identifiers plus the single variant the user landed in.
type Experiment struct {
	ID      string  `json:"experiment_id"`
	GroupID string  `json:"experiment_group_id"`
	Variant Variant `json:"variant"`
}
