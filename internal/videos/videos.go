// Package videos proxies the third-party video listing behind a TTL cache.
package videos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"glgapp.org/internal/obs"
)

// ErrUpstream reports a failed or non-200 upstream call.
var ErrUpstream = errors.New("video upstream unavailable")

const (
	cacheKey     = "videos:listing"
	maxBodyBytes = 4 << 20
)

// Lister serves the listing from cache and refreshes it from upstream on expiry.
type Lister struct {
	client *http.Client
	url    string
	apiKey string
	cache  Cache
}

// NewLister builds a Lister. A nil client gets a 10s timeout.
func NewLister(client *http.Client, url, apiKey string, cache Cache) *Lister {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Lister{client: client, url: url, apiKey: apiKey, cache: cache}
}

// List returns the raw JSON listing.
func (l *Lister) List(ctx context.Context) (json.RawMessage, error) {
	if v, expired := l.cache.Get(ctx, cacheKey); !expired && len(v) > 0 {
		obs.ObserveVideoCache("hit")
		return json.RawMessage(v), nil
	}
	obs.ObserveVideoCache("miss")

	body, err := l.fetch(ctx)
	if err != nil {
		obs.ObserveVideoCache("upstream_error")
		return nil, err
	}
	l.cache.Set(ctx, cacheKey, body)
	return json.RawMessage(body), nil
}

func (l *Lister) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	if l.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: invalid json body", ErrUpstream)
	}
	return body, nil
}
