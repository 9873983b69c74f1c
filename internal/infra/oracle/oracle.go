// Package oracle implements the best-effort username-ownership check against
// an external verification service.
//
// The oracle is advisory: callers surface its verdict but never block on it.
// A circuit breaker keeps a flapping upstream from adding latency to every
// submission, and verdicts are cached in-process since platform handles
// change rarely.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/capsulemarket/capsule/internal/domain"
	"github.com/capsulemarket/capsule/internal/infra/observability"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultCacheTTL = 24 * time.Hour
)

// Client calls the username verification service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger

	cacheTTL time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedVerdict
}

type cachedVerdict struct {
	valid   bool
	expires time.Time
}

// New creates an oracle client for the given base URL.
func New(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "username-oracle",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
		log:      log.With().Str("component", "oracle").Logger(),
		cacheTTL: defaultCacheTTL,
		now:      time.Now,
		cache:    make(map[string]cachedVerdict),
	}
}

// Verify reports whether username appears to be owned on platform. An error
// means no verdict (upstream unreachable or breaker open), never a rejection.
func (c *Client) Verify(ctx context.Context, platform domain.Platform, username string) (bool, error) {
	key := string(platform) + "/" + username

	c.mu.Lock()
	if v, ok := c.cache[key]; ok && c.now().Before(v.expires) {
		c.mu.Unlock()
		observability.OracleLookups.WithLabelValues("cached").Inc()
		return v.valid, nil
	}
	c.mu.Unlock()

	result, err := c.breaker.Execute(func() (any, error) {
		return c.lookup(ctx, platform, username)
	})
	if err != nil {
		observability.OracleLookups.WithLabelValues("error").Inc()
		c.log.Warn().Err(err).Str("platform", string(platform)).Msg("oracle lookup failed")
		return false, err
	}

	valid := result.(bool)
	if valid {
		observability.OracleLookups.WithLabelValues("valid").Inc()
	} else {
		observability.OracleLookups.WithLabelValues("invalid").Inc()
	}

	c.mu.Lock()
	c.cache[key] = cachedVerdict{valid: valid, expires: c.now().Add(c.cacheTTL)}
	c.mu.Unlock()
	return valid, nil
}

func (c *Client) lookup(ctx context.Context, platform domain.Platform, username string) (bool, error) {
	u := fmt.Sprintf("%s/verify?platform=%s&username=%s",
		c.baseURL, url.QueryEscape(string(platform)), url.QueryEscape(username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("oracle returned %d", resp.StatusCode)
	}
	var body struct {
		Valid bool `json:"valid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode oracle response: %w", err)
	}
	return body.Valid, nil
}
