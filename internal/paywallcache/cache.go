// Package paywallcache deduplicates and caches paywall definition
// fetches. At most one network fetch is ever in flight per request
// hash; completed results, including failures, are stored so repeat
// requests resolve without a round-trip.
package paywallcache

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/core/ports"
)

// manualSentinel stands in for the identifier when a paywall is
// presented programmatically rather than via an event.
const manualSentinel = "$called_manually"

// Request describes one paywall lookup. Overlay identifiers are applied
// per caller: two experiments can share a cached definition while each
// caller sees its own experiment and variant ids on the result.
type Request struct {
	Identifier string
	Event      *domain.Event
	Locale     string

	// Overlay identifiers merged onto the response for this caller.
	ExperimentID string
	VariantID    string

	// Debug bypasses the completed-result cache and forces a fresh
	// fetch (preview sessions must always see the latest definition).
	Debug bool
}

// Hash returns the deterministic cache key for the request: the
// explicit identifier, else the event name, else the manual sentinel,
// suffixed with the locale.
func (r Request) Hash() string {
	id := r.Identifier
	if id == "" && r.Event != nil {
		id = r.Event.Name
	}
	if id == "" {
		id = manualSentinel
	}
	return id + "_" + r.Locale
}

type cachedResult struct {
	response *domain.PaywallResponse
	err      error
}

// Cache is the process-wide paywall response cache.
type Cache struct {
	network ports.Network
	logger  *slog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	results map[string]cachedResult
}

func New(network ports.Network, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		network: network,
		logger:  logger,
		results: make(map[string]cachedResult),
	}
}

// Get resolves a paywall definition. Execution takes one of three
// paths, chosen from cache state: a completed result is returned
// immediately; an in-flight fetch for the same hash is joined; or a
// fresh fetch is started. Fan-in callers each receive their own copy
// with their own overlay applied.
func (c *Cache) Get(ctx context.Context, req Request) (*domain.PaywallResponse, error) {
	hash := req.Hash()

	if !req.Debug {
		c.mu.RLock()
		cached, ok := c.results[hash]
		c.mu.RUnlock()
		if ok {
			if cached.err != nil {
				return nil, cached.err
			}
			return overlay(cached.response, req), nil
		}
	}

	if req.Debug {
		// Debug fetches run outside the flight group so they can
		// neither serve nor consume shared results.
		resp, err := c.fetch(ctx, req, hash)
		if err != nil {
			return nil, err
		}
		return overlay(resp, req), nil
	}

	v, err, _ := c.group.Do(hash, func() (any, error) {
		resp, err := c.fetch(ctx, req, hash)
		c.mu.Lock()
		c.results[hash] = cachedResult{response: resp, err: err}
		c.mu.Unlock()
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return overlay(v.(*domain.PaywallResponse), req), nil
}

func (c *Cache) fetch(ctx context.Context, req Request, hash string) (*domain.PaywallResponse, error) {
	q := ports.PaywallQuery{
		Identifier: req.Identifier,
		Event:      req.Event,
		Locale:     req.Locale,
	}
	resp, err := c.network.FetchPaywall(ctx, q)
	if err != nil {
		c.logger.Warn("paywall fetch failed",
			slog.String("hash", hash),
			slog.String("error", err.Error()))
		return nil, err
	}
	return resp, nil
}

// overlay copies the response and stamps the caller's experiment and
// variant identifiers onto it. The stored definition is shared and
// never mutated.
func overlay(resp *domain.PaywallResponse, req Request) *domain.PaywallResponse {
	if resp == nil {
		return nil
	}
	out := *resp
	out.Products = append([]domain.Product(nil), resp.Products...)
	out.ExperimentID = req.ExperimentID
	out.VariantID = req.VariantID
	return &out
}

// Remove evicts the completed result for an identifier across all
// locales. PresentAgain uses this so a replay refetches the currently
// presented paywall.
func (c *Cache) Remove(identifier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for hash, cached := range c.results {
		if cached.response != nil && (cached.response.Identifier == identifier || cached.response.ID == identifier) {
			delete(c.results, hash)
		}
	}
}

// Clear drops all completed results. Used on identity reset.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = make(map[string]cachedResult)
}
