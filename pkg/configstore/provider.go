package configstore

import (
	"context"
	"errors"
	"fmt"
)

// Primary is the pluggable primary-store port the tiered Store reads
// through and writes to. L3 (Postgres) is the default implementation;
// FilePrimary serves read-only deployments.
type Primary interface {
	GetActive(ctx context.Context) (Version, error)
	FindByID(ctx context.Context, id string) (Version, error)
	FindByVersion(ctx context.Context, n int) (Version, error)
	ListVersions(ctx context.Context) ([]Version, error)
	Save(ctx context.Context, v Version) error
	SetActive(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// ErrNoProvider is returned by SelectProvider when no registered provider
// matches the requested name.
var ErrNoProvider = errors.New("configstore: no matching config-source provider")

// Provider is one registered primary-store implementation. Providers are
// listed explicitly at process bootstrap; there is no ambient discovery.
type Provider struct {
	Name     string
	Priority int
	Primary  Primary
}

// SelectProvider picks the provider named by name, or, when name is empty,
// the registered provider with the highest priority. It is a pure function
// over its arguments, so the selection rule is testable in isolation.
func SelectProvider(name string, providers []Provider) (Provider, error) {
	if len(providers) == 0 {
		return Provider{}, ErrNoProvider
	}

	if name != "" {
		for _, p := range providers {
			if p.Name == name {
				return p, nil
			}
		}
		return Provider{}, fmt.Errorf("%w: %q", ErrNoProvider, name)
	}

	best := providers[0]
	for _, p := range providers[1:] {
		if p.Priority > best.Priority {
			best = p
		}
	}
	return best, nil
}
