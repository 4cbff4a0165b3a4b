// Package permit gates platform search calls behind the external
// rate-limit permit service, with a local limiter as the inner guard
// so a misconfigured service cannot stampede the platform.
package permit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/droverhq/drover/pkg/errdefs"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/types"
)

// Client obtains search permits. When no permit service is configured
// the local limiter alone gates calls and permits are self-issued.
type Client struct {
	baseURL string
	http    *http.Client
	local   *rate.Limiter
	logger  zerolog.Logger
}

// Config tunes the permit client
type Config struct {
	BaseURL           string  // empty disables the remote service
	RequestsPerMinute float64 // local guard; <=0 selects the default
	Burst             int
}

// NewClient creates a permit client
func NewClient(cfg Config) *Client {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 6
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		local:   rate.NewLimiter(rate.Limit(rpm/60.0), burst),
		logger:  log.WithComponent("permit"),
	}
}

// Acquire blocks on the local limiter, then asks the permit service
// (when configured) for a permit covering one search call
func (c *Client) Acquire(ctx context.Context, keyword, sessionID string) (*types.RateLimitPermit, error) {
	if err := c.local.Wait(ctx); err != nil {
		return nil, err
	}

	if c.baseURL == "" {
		return &types.RateLimitPermit{
			Keyword:   keyword,
			SessionID: sessionID,
			IssuedAt:  time.Now(),
			TTLMs:     60_000,
		}, nil
	}

	q := url.Values{"keyword": {keyword}, "session_id": {sessionID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/permits?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build permit request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindPermitDenied, "permit service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errdefs.Newf(errdefs.KindPermitDenied, "permit denied for keyword %q", keyword)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errdefs.Newf(errdefs.KindPermitDenied, "permit service returned HTTP %d", resp.StatusCode)
	}

	var permit types.RateLimitPermit
	if err := json.NewDecoder(resp.Body).Decode(&permit); err != nil {
		return nil, errdefs.Wrap(errdefs.KindPermitDenied, "malformed permit response", err)
	}
	if permit.IssuedAt.IsZero() {
		permit.IssuedAt = time.Now()
	}

	c.logger.Debug().Str("keyword", keyword).Str("session", sessionID).Msg("Permit acquired")
	return &permit, nil
}
