package domain

import "time"

// FeatureFlags carries server-side toggles that adjust engine behavior.
type FeatureFlags struct {
	DisablePreload       bool `json:"disable_preload"`
	EnableSessionEvents  bool `json:"enable_session_events"`
	EnableConfigRefresh  bool `json:"enable_config_refresh"`
	DisableVerboseEvents bool `json:"disable_verbose_events"`
}

// PaywallMetadata describes a paywall known to the config, used for
// preloading before any trigger fires.
type PaywallMetadata struct {
	ID         string `json:"paywall_id"`
	Identifier string `json:"identifier"`
	URL        string `json:"url"`
}

// Config is one snapshot of remotely configured behavior. A snapshot is
// immutable; config refresh replaces the whole value rather than
// mutating it in place.
type Config struct {
	Triggers          []Trigger         `json:"triggers"`
	Paywalls          []PaywallMetadata `json:"paywalls"`
	LogLevel          int               `json:"log_level"`
	FeatureFlags      FeatureFlags      `json:"feature_flags"`
	Locales           []string          `json:"locales"`
	AppSessionTimeout time.Duration     `json:"-"`

	// FetchedAt versions the snapshot implicitly.
	FetchedAt time.Time `json:"-"`
}

// TriggerByName returns the trigger configured for the event name.
func (c *Config) TriggerByName(name string) (Trigger, bool) {
	if c == nil {
		return Trigger{}, false
	}
	for _, t := range c.Triggers {
		if t.Name == name {
			return t, true
		}
	}
	return Trigger{}, false
}

// PaywallIDs returns the distinct paywall ids referenced by treatment
// variants across all triggers. Holdouts contribute nothing.
func (c *Config) PaywallIDs() []string {
	if c == nil {
		return nil
	}
	seen := map[string]bool{}
	var ids []string
	for _, t := range c.Triggers {
		for _, r := range t.Rules {
			for _, opt := range r.Variants {
				v := opt.Variant
				if v.Type == VariantTreatment && v.PaywallID != "" && !seen[v.PaywallID] {
					seen[v.PaywallID] = true
					ids = append(ids, v.PaywallID)
				}
			}
		}
	}
	return ids
}
