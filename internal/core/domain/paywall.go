package domain

// ProductTier identifies a product slot within a paywall.
type ProductTier string

const (
	ProductPrimary   ProductTier = "primary"
	ProductSecondary ProductTier = "secondary"
	ProductTertiary  ProductTier = "tertiary"
)

// Product is one purchasable item offered on a paywall.
type Product struct {
	ID   string      `json:"product_id"`
	Tier ProductTier `json:"product_tier"`
}

// PaywallResponse is a fetched remote paywall definition. The response
// cache stores it per request hash; ExperimentID and VariantID are
// overlaid per caller since the same definition may serve several
// experiments.
type PaywallResponse struct {
	ID                 string    `json:"paywall_id"`
	Identifier         string    `json:"identifier"`
	Name               string    `json:"name"`
	URL                string    `json:"url"`
	Products           []Product `json:"products"`
	PresentationStyle  string    `json:"presentation_style"`
	IsFreeTrialEnabled bool      `json:"is_free_trial_enabled"`

	// Trigger identifiers merged in after fetch; not part of the wire
	// response.
	ExperimentID string `json:"-"`
	VariantID    string `json:"-"`
}

// Presentable reports whether the definition can actually be rendered.
func (p *PaywallResponse) Presentable() bool {
	return p != nil && p.URL != "" && len(p.Products) > 0
}

// Info summarizes the response for state reporting.
func (p *PaywallResponse) Info() PaywallInfo {
	if p == nil {
		return PaywallInfo{}
	}
	return PaywallInfo{
		PaywallID:    p.ID,
		Identifier:   p.Identifier,
		Name:         p.Name,
		ExperimentID: p.ExperimentID,
		VariantID:    p.VariantID,
	}
}

// PaywallInfo is the caller-facing summary of a presented paywall.
type PaywallInfo struct {
	PaywallID    string `json:"paywall_id"`
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	ExperimentID string `json:"experiment_id,omitempty"`
	VariantID    string `json:"variant_id,omitempty"`
}
