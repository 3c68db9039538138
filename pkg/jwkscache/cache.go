// Package jwkscache fetches and caches a remote identity provider's JWKS
// document, with kid-miss-triggered refresh coalesced per URI.
package jwkscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"

	"github.com/wisbric/tollgate/internal/telemetry"
)

// ErrUnavailable is returned when no usable key set exists: the remote JWKS
// has never been fetched successfully, or the cached set has aged past
// StaleWhileError after refreshes started failing.
var ErrUnavailable = errors.New("jwkscache: jwks unavailable")

type entry struct {
	keys      jose.JSONWebKeySet
	fetchedAt time.Time
	lastOK    time.Time
}

// Cache maps jwksUri -> key set.
type Cache struct {
	httpClient      *http.Client
	staleWhileError time.Duration

	mu      sync.RWMutex
	entries map[string]*entry

	group singleflight.Group
}

// New creates a Cache. staleWhileError bounds how long a previously-fetched
// key set is retained after refreshes start failing.
func New(httpClient *http.Client, staleWhileError time.Duration) *Cache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Cache{
		httpClient:      httpClient,
		staleWhileError: staleWhileError,
		entries:         make(map[string]*entry),
	}
}

// GetKey returns the public key for kid from the set cached for uri. On a
// cache miss or unknown-kid, it triggers a single coalesced refresh and
// retries once against the freshly fetched set.
func (c *Cache) GetKey(ctx context.Context, uri, kid string) (any, error) {
	if key, ok := c.lookup(uri, kid); ok {
		return key, nil
	}

	if _, err := c.refresh(ctx, uri); err != nil {
		if key, ok := c.lookup(uri, kid); ok {
			// Stale set still has the key (rare: refresh failed but a prior
			// successful fetch already carried it).
			return key, nil
		}
		telemetry.JwksRefreshTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if key, ok := c.lookup(uri, kid); ok {
		telemetry.JwksRefreshTotal.WithLabelValues("ok").Inc()
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q not found after refresh", ErrUnavailable, kid)
}

// RunPeriodicRefresh re-fetches each uri on refreshInterval until ctx is
// cancelled, so a provider's key rotation is usually picked up before the
// first unknown-kid miss pays the fetch latency in the request path.
// Refresh failures are absorbed by the staleWhileError window.
func (c *Cache) RunPeriodicRefresh(ctx context.Context, refreshInterval time.Duration, uris ...string) {
	if refreshInterval <= 0 || len(uris) == 0 {
		return
	}
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, uri := range uris {
				if _, err := c.refresh(ctx, uri); err != nil {
					telemetry.JwksRefreshTotal.WithLabelValues("error").Inc()
				} else {
					telemetry.JwksRefreshTotal.WithLabelValues("ok").Inc()
				}
			}
		}
	}
}

func (c *Cache) lookup(uri, kid string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[uri]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	for _, k := range e.keys.Keys {
		if k.KeyID == kid {
			return k.Key, true
		}
	}
	return nil, false
}

// refresh fetches uri, coalescing concurrent callers for the same URI into
// a single HTTP round trip so a burst of unknown-kid misses can't stampede
// the IdP. A failed refresh does not evict the previous set within
// staleWhileError.
func (c *Cache) refresh(ctx context.Context, uri string) (jose.JSONWebKeySet, error) {
	v, err, _ := c.group.Do(uri, func() (any, error) {
		set, fetchErr := c.fetch(ctx, uri)

		c.mu.Lock()
		defer c.mu.Unlock()

		now := time.Now()
		if fetchErr != nil {
			if e, ok := c.entries[uri]; ok {
				if now.Sub(e.lastOK) < c.staleWhileError {
					// Keep serving the stale set; report the fetch error to
					// the caller so metrics reflect the failed refresh, but
					// do not evict.
					return e.keys, fetchErr
				}
				delete(c.entries, uri)
			}
			return jose.JSONWebKeySet{}, fetchErr
		}

		c.entries[uri] = &entry{keys: set, fetchedAt: now, lastOK: now}
		return set, nil
	})
	if err != nil {
		if set, ok := v.(jose.JSONWebKeySet); ok {
			return set, err
		}
		return jose.JSONWebKeySet{}, err
	}
	return v.(jose.JSONWebKeySet), nil
}

func (c *Cache) fetch(ctx context.Context, uri string) (jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("building jwks request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("fetching jwks from %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return jose.JSONWebKeySet{}, fmt.Errorf("fetching jwks from %s: status %d", uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("reading jwks body: %w", err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("parsing jwks: %w", err)
	}
	return set, nil
}
