package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	l2KeyPrefix   = "configstore:version:"
	l2ActiveKey   = "configstore:__active__"
	l2VersionsKey = "configstore:__versions__"
	l2DefaultTTL  = 15 * time.Minute
)

// L2 is the optional distributed cache tier, backed by Redis.
type L2 struct {
	rdb *redis.Client
}

// NewL2 creates an L2 cache. A nil rdb disables the tier; all methods then
// behave as permanent misses, causing callers to fall through to L3.
func NewL2(rdb *redis.Client) *L2 {
	return &L2{rdb: rdb}
}

// Enabled reports whether a Redis client was configured.
func (l *L2) Enabled() bool { return l != nil && l.rdb != nil }

func (l *L2) getVersion(ctx context.Context, key string) (Version, bool) {
	if !l.Enabled() {
		return Version{}, false
	}
	raw, err := l.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return Version{}, false
	}
	var v Version
	if err := json.Unmarshal(raw, &v); err != nil {
		return Version{}, false
	}
	return v, true
}

func (l *L2) setVersion(ctx context.Context, key string, v Version) {
	if !l.Enabled() {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	l.rdb.Set(ctx, key, raw, l2DefaultTTL)
}

// GetActive returns the cached active version under the sentinel key.
func (l *L2) GetActive(ctx context.Context) (Version, bool) {
	return l.getVersion(ctx, l2ActiveKey)
}

// SetActiveCache populates the L2 active sentinel.
func (l *L2) SetActiveCache(ctx context.Context, v Version) {
	l.setVersion(ctx, l2ActiveKey, v)
}

// GetByID returns the cached version for id.
func (l *L2) GetByID(ctx context.Context, id string) (Version, bool) {
	return l.getVersion(ctx, l2KeyPrefix+id)
}

// SetByID populates the L2 cache entry for v.ID.
func (l *L2) SetByID(ctx context.Context, v Version) {
	l.setVersion(ctx, l2KeyPrefix+v.ID, v)
}

// GetVersionList returns the cached version-list, if present.
func (l *L2) GetVersionList(ctx context.Context) ([]Version, bool) {
	if !l.Enabled() {
		return nil, false
	}
	raw, err := l.rdb.Get(ctx, l2VersionsKey).Bytes()
	if err != nil {
		return nil, false
	}
	var vs []Version
	if err := json.Unmarshal(raw, &vs); err != nil {
		return nil, false
	}
	return vs, true
}

// SetVersionList populates the cached version-list.
func (l *L2) SetVersionList(ctx context.Context, vs []Version) {
	if !l.Enabled() {
		return
	}
	raw, err := json.Marshal(vs)
	if err != nil {
		return
	}
	l.rdb.Set(ctx, l2VersionsKey, raw, l2DefaultTTL)
}

// InvalidateByID removes the per-id entry.
func (l *L2) InvalidateByID(ctx context.Context, id string) error {
	return l.del(ctx, l2KeyPrefix+id)
}

// InvalidateActive removes the active sentinel.
func (l *L2) InvalidateActive(ctx context.Context) error {
	return l.del(ctx, l2ActiveKey)
}

// InvalidateVersionList removes the cached version list.
func (l *L2) InvalidateVersionList(ctx context.Context) error {
	return l.del(ctx, l2VersionsKey)
}

func (l *L2) del(ctx context.Context, key string) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.rdb.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("configstore: invalidating L2 key %s: %w", key, err)
	}
	return nil
}
