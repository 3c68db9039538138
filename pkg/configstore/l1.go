package configstore

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	l1ActiveKey   = "__active__"
	l1VersionsKey = "__versions__"
)

// L1 is the in-process, TTL+size-bounded cache tier.
type L1 struct {
	cache *expirable.LRU[string, any]
}

// NewL1 creates an L1 cache with the given TTL and max size.
func NewL1(ttl time.Duration, maxSize int) *L1 {
	return &L1{cache: expirable.NewLRU[string, any](maxSize, nil, ttl)}
}

func (l *L1) GetActive() (Version, bool) {
	v, ok := l.cache.Get(l1ActiveKey)
	if !ok {
		return Version{}, false
	}
	return v.(Version), true
}

func (l *L1) SetActive(v Version) {
	l.cache.Add(l1ActiveKey, v)
}

func (l *L1) GetByID(id string) (Version, bool) {
	v, ok := l.cache.Get(id)
	if !ok {
		return Version{}, false
	}
	return v.(Version), true
}

func (l *L1) SetByID(v Version) {
	l.cache.Add(v.ID, v)
}

func (l *L1) GetVersionList() ([]Version, bool) {
	v, ok := l.cache.Get(l1VersionsKey)
	if !ok {
		return nil, false
	}
	return v.([]Version), true
}

func (l *L1) SetVersionList(vs []Version) {
	l.cache.Add(l1VersionsKey, vs)
}

// InvalidateByID removes the per-id entry.
func (l *L1) InvalidateByID(id string) {
	l.cache.Remove(id)
}

// InvalidateActive removes the active sentinel.
func (l *L1) InvalidateActive() {
	l.cache.Remove(l1ActiveKey)
}

// InvalidateVersionList removes the cached version list.
func (l *L1) InvalidateVersionList() {
	l.cache.Remove(l1VersionsKey)
}
