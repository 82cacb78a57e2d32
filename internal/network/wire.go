package network

import (
	"time"

	"github.com/showpath/showgate/internal/core/domain"
)

// Wire bodies. Domain types carry the snake_case tags already; the
// structs here exist for fields that need translation before they
// become domain values.

type configResponse struct {
	Triggers            []domain.Trigger         `json:"triggers"`
	Paywalls            []domain.PaywallMetadata `json:"paywalls"`
	LogLevel            int                      `json:"log_level"`
	FeatureFlags        domain.FeatureFlags      `json:"feature_flags"`
	Locales             []string                 `json:"locales"`
	AppSessionTimeoutMS int64                    `json:"app_session_timeout_ms"`
}

func (r *configResponse) toDomain() *domain.Config {
	return &domain.Config{
		Triggers:          r.Triggers,
		Paywalls:          r.Paywalls,
		LogLevel:          r.LogLevel,
		FeatureFlags:      r.FeatureFlags,
		Locales:           r.Locales,
		AppSessionTimeout: time.Duration(r.AppSessionTimeoutMS) * time.Millisecond,
		FetchedAt:         time.Now().UTC(),
	}
}

type paywallRequest struct {
	Identifier string `json:"identifier,omitempty"`
	EventName  string `json:"event_name,omitempty"`
	Locale     string `json:"locale"`
}

type paywallResponse struct {
	ID                 string           `json:"paywall_id"`
	Identifier         string           `json:"identifier"`
	Name               string           `json:"name"`
	URL                string           `json:"url"`
	Products           []domain.Product `json:"products"`
	PresentationStyle  string           `json:"presentation_style"`
	IsFreeTrialEnabled bool             `json:"is_free_trial_enabled"`
}

func (r *paywallResponse) toDomain() *domain.PaywallResponse {
	return &domain.PaywallResponse{
		ID:                 r.ID,
		Identifier:         r.Identifier,
		Name:               r.Name,
		URL:                r.URL,
		Products:           r.Products,
		PresentationStyle:  r.PresentationStyle,
		IsFreeTrialEnabled: r.IsFreeTrialEnabled,
	}
}

type eventPayload struct {
	EventID    string                  `json:"event_id"`
	EventName  string                  `json:"event_name"`
	Parameters map[string]domain.Value `json:"parameters,omitempty"`
	CreatedAt  string                  `json:"created_at"`
}

type eventsRequest struct {
	Events []eventPayload `json:"events"`
}

type eventsResponse struct {
	Status         string `json:"status"`
	InvalidIndexes []int  `json:"invalid_indexes,omitempty"`
}

type assignmentPayload struct {
	ExperimentID string `json:"experiment_id"`
	VariantID    string `json:"variant_id"`
}

type confirmAssignmentRequest struct {
	Assignments []assignmentPayload `json:"assignments"`
}
