package configstore

import (
	"context"
	"log/slog"

	"github.com/wisbric/tollgate/internal/telemetry"
)

// Store is the tiered config store: L1 (in-process) -> L2 (Redis,
// optional) -> a primary store (Postgres by default). Read paths populate
// upper tiers on a lower-tier hit; write paths commit to the primary
// first, then invalidate L2 then L1.
type Store struct {
	l1     *L1
	l2     *L2
	l3     Primary
	logger *slog.Logger
}

// New creates a tiered Store over the given primary.
func New(l1 *L1, l2 *L2, primary Primary, logger *slog.Logger) *Store {
	return &Store{l1: l1, l2: l2, l3: primary, logger: logger}
}

// GetActive reads the active TranslationConfigVersion via L1 -> L2 -> L3.
func (s *Store) GetActive(ctx context.Context) (Version, error) {
	if v, ok := s.l1.GetActive(); ok {
		telemetry.ConfigCacheTierHitsTotal.WithLabelValues("l1").Inc()
		return v, nil
	}
	if v, ok := s.l2.GetActive(ctx); ok {
		telemetry.ConfigCacheTierHitsTotal.WithLabelValues("l2").Inc()
		s.l1.SetActive(v)
		return v, nil
	}

	v, err := s.l3.GetActive(ctx)
	if err != nil {
		return Version{}, err
	}
	telemetry.ConfigCacheTierHitsTotal.WithLabelValues("l3").Inc()
	s.l2.SetActiveCache(ctx, v)
	s.l1.SetActive(v)
	return v, nil
}

// FindByID reads a version by id via L1 -> L2 -> L3.
func (s *Store) FindByID(ctx context.Context, id string) (Version, error) {
	if v, ok := s.l1.GetByID(id); ok {
		telemetry.ConfigCacheTierHitsTotal.WithLabelValues("l1").Inc()
		return v, nil
	}
	if v, ok := s.l2.GetByID(ctx, id); ok {
		telemetry.ConfigCacheTierHitsTotal.WithLabelValues("l2").Inc()
		s.l1.SetByID(v)
		return v, nil
	}

	v, err := s.l3.FindByID(ctx, id)
	if err != nil {
		return Version{}, err
	}
	telemetry.ConfigCacheTierHitsTotal.WithLabelValues("l3").Inc()
	s.l2.SetByID(ctx, v)
	s.l1.SetByID(v)
	return v, nil
}

// ListVersions reads the full version list via L1 -> L2 -> L3.
func (s *Store) ListVersions(ctx context.Context) ([]Version, error) {
	if vs, ok := s.l1.GetVersionList(); ok {
		telemetry.ConfigCacheTierHitsTotal.WithLabelValues("l1").Inc()
		return vs, nil
	}
	if vs, ok := s.l2.GetVersionList(ctx); ok {
		telemetry.ConfigCacheTierHitsTotal.WithLabelValues("l2").Inc()
		s.l1.SetVersionList(vs)
		return vs, nil
	}

	vs, err := s.l3.ListVersions(ctx)
	if err != nil {
		return nil, err
	}
	telemetry.ConfigCacheTierHitsTotal.WithLabelValues("l3").Inc()
	s.l2.SetVersionList(ctx, vs)
	s.l1.SetVersionList(vs)
	return vs, nil
}

// FindByVersion always goes to L3; lookups by version number are a cold
// path not worth caching.
func (s *Store) FindByVersion(ctx context.Context, n int) (Version, error) {
	telemetry.ConfigCacheTierHitsTotal.WithLabelValues("l3").Inc()
	return s.l3.FindByVersion(ctx, n)
}

// Save writes a new version to L3. L1/L2 are untouched — the version is not
// active yet, so nothing cached needs invalidation.
func (s *Store) Save(ctx context.Context, v Version) error {
	if err := s.l3.Save(ctx, v); err != nil {
		return err
	}
	if err := s.l2.InvalidateVersionList(ctx); err != nil {
		s.logger.Warn("configstore: L2 invalidate failed after save", "error", err)
	}
	s.l1.InvalidateVersionList()
	return nil
}

// SetActive writes to L3 first, then invalidates the affected keys in L2
// then L1: the sentinel __active__ key, the version-list key, and the
// per-id entries for the newly- and previously-active versions.
func (s *Store) SetActive(ctx context.Context, id string) error {
	if err := s.l3.SetActive(ctx, id); err != nil {
		return err
	}

	if err := s.l2.InvalidateActive(ctx); err != nil {
		s.logger.Warn("configstore: L2 invalidate active failed", "error", err)
	}
	if err := s.l2.InvalidateVersionList(ctx); err != nil {
		s.logger.Warn("configstore: L2 invalidate version list failed", "error", err)
	}
	if err := s.l2.InvalidateByID(ctx, id); err != nil {
		s.logger.Warn("configstore: L2 invalidate by id failed", "error", err)
	}

	s.l1.InvalidateActive()
	s.l1.InvalidateVersionList()
	s.l1.InvalidateByID(id)
	return nil
}

// Delete removes a (non-active) version from L3 and invalidates caches.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.l3.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.l2.InvalidateByID(ctx, id); err != nil {
		s.logger.Warn("configstore: L2 invalidate failed after delete", "error", err)
	}
	if err := s.l2.InvalidateVersionList(ctx); err != nil {
		s.logger.Warn("configstore: L2 invalidate version list failed after delete", "error", err)
	}
	s.l1.InvalidateByID(id)
	s.l1.InvalidateVersionList()
	return nil
}
