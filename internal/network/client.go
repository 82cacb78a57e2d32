// Package network is the HTTP client for the remote paywall API. Wire
// bodies use snake_case field names; decoding maps them onto the
// camelCase domain types losslessly.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/core/ports"
)

const sdkVersion = "1.4.0"

// Environment selects which API host the client talks to.
type Environment string

const (
	EnvRelease          Environment = "release"
	EnvReleaseCandidate Environment = "release_candidate"
	EnvDeveloper        Environment = "developer"
)

func (e Environment) baseURL() string {
	switch e {
	case EnvReleaseCandidate:
		return "https://api.showpath-rc.dev/api/v1"
	case EnvDeveloper:
		return "https://api.showpath.test/api/v1"
	default:
		return "https://api.showpath.app/api/v1"
	}
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL overrides the environment-derived base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPClient sets a custom HTTP client (tests, recorders).
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithLocale sets the device locale sent with every request.
func WithLocale(locale string) ClientOption {
	return func(c *Client) { c.locale = locale }
}

// WithUserIDs sets the identity headers.
func WithUserIDs(appUserID, aliasID string) ClientOption {
	return func(c *Client) {
		c.appUserID = appUserID
		c.aliasID = aliasID
	}
}

// Client implements ports.Network against the remote API.
type Client struct {
	apiKey     string
	baseURL    string
	locale     string
	httpClient *http.Client
	logger     *slog.Logger

	// mu guards the identity headers, which change on identify and
	// reset while requests may be in flight.
	mu        sync.Mutex
	appUserID string
	aliasID   string
}

// SetUserIDs swaps the identity headers sent with subsequent requests.
func (c *Client) SetUserIDs(appUserID, aliasID string) {
	c.mu.Lock()
	c.appUserID = appUserID
	c.aliasID = aliasID
	c.mu.Unlock()
}

// NewClient creates a client for the given environment.
func NewClient(apiKey string, env Environment, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		apiKey:  apiKey,
		baseURL: env.baseURL(),
		locale:  "en_US",
		logger:  logger,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ ports.Network = (*Client)(nil)

func (c *Client) FetchConfig(ctx context.Context) (*domain.Config, error) {
	var wire configResponse
	if err := c.send(ctx, http.MethodGet, "/config", nil, &wire); err != nil {
		return nil, err
	}
	return wire.toDomain(), nil
}

func (c *Client) FetchPaywall(ctx context.Context, q ports.PaywallQuery) (*domain.PaywallResponse, error) {
	body := paywallRequest{
		Identifier: q.Identifier,
		Locale:     q.Locale,
	}
	if q.Event != nil {
		body.EventName = q.Event.Name
	}
	if body.Locale == "" {
		body.Locale = c.locale
	}

	var wire paywallResponse
	if err := c.send(ctx, http.MethodPost, "/paywall", body, &wire); err != nil {
		return nil, err
	}
	return wire.toDomain(), nil
}

func (c *Client) SendEvents(ctx context.Context, batch []domain.Event) (*ports.EventsResult, error) {
	body := eventsRequest{Events: make([]eventPayload, len(batch))}
	for i, ev := range batch {
		body.Events[i] = eventPayload{
			EventID:    ev.ID,
			EventName:  ev.Name,
			Parameters: ev.Parameters,
			CreatedAt:  ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	}

	var wire eventsResponse
	if err := c.send(ctx, http.MethodPost, "/events", body, &wire); err != nil {
		return nil, err
	}
	return &ports.EventsResult{
		Status:         ports.EventsStatus(wire.Status),
		InvalidIndexes: wire.InvalidIndexes,
	}, nil
}

func (c *Client) ConfirmAssignment(ctx context.Context, a domain.Assignment) error {
	body := confirmAssignmentRequest{
		Assignments: []assignmentPayload{{
			ExperimentID: a.ExperimentID,
			VariantID:    a.Variant.ID,
		}},
	}
	return c.send(ctx, http.MethodPost, "/confirm_assignments", body, nil)
}

// send performs one request with the standard headers and decodes the
// response into out (skipped when out is nil). HTTP failures map onto
// the closed domain error set.
func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return domain.WrapError(domain.ErrorTypeNetwork, "request encoding failed", err)
		}
		reqBody = bytes.NewReader(encoded)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return domain.WrapError(domain.ErrorTypeNetwork, "request creation failed", err)
	}
	c.mu.Lock()
	appUserID, aliasID := c.appUserID, c.aliasID
	c.mu.Unlock()

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Platform", "SDK")
	req.Header.Set("X-App-User-ID", appUserID)
	req.Header.Set("X-Alias-ID", aliasID)
	req.Header.Set("X-Device-Locale", c.locale)
	req.Header.Set("X-SDK-Version", sdkVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrorTypeNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.logger.Warn("api key rejected", slog.String("path", path))
		return domain.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode >= 400:
		c.logger.Warn("request failed",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode))
		return domain.WrapError(domain.ErrorTypeNetwork,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), domain.ErrUnknown)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Warn("response decoding failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return domain.WrapError(domain.ErrorTypeDecoding, "response decoding failed", domain.ErrDecoding)
	}
	return nil
}
