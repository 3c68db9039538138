package revocation

import (
	"context"
	"log/slog"
	"time"

	"github.com/wisbric/tollgate/internal/telemetry"
)

// Engine wires the Bloom front, durable store, and bus together behind the
// request-time revocation decision: Bloom fast path, then a backend
// confirmation bounded by a fail-closed timeout, then an optional per-user
// check.
type Engine struct {
	store               *Store
	front               *BloomFront
	bus                 *Bus
	enabled             bool
	queryTimeout        time.Duration
	checkUserRevocation bool
	logger              *slog.Logger
}

// Config holds the revocation.* configuration section.
type Config struct {
	Enabled             bool
	CheckUserRevocation bool
	QueryTimeout        time.Duration
}

// NewEngine creates an Engine.
func NewEngine(store *Store, front *BloomFront, bus *Bus, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:               store,
		front:               front,
		bus:                 bus,
		enabled:             cfg.Enabled,
		queryTimeout:        cfg.QueryTimeout,
		checkUserRevocation: cfg.CheckUserRevocation,
		logger:              logger,
	}
}

// Revoke records a JTI revocation and fans out the event.
func (e *Engine) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := e.store.Revoke(ctx, jti, expiresAt); err != nil {
		return err
	}
	e.bus.PublishJtiRevoked(ctx, jti, expiresAt)
	e.front.Add(jti)
	return nil
}

// RevokeAllForUser records a user-level revocation and fans out the event.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID string, issuedBefore, expiresAt time.Time) error {
	if err := e.store.RevokeAllForUser(ctx, userID, issuedBefore, expiresAt); err != nil {
		return err
	}
	e.bus.PublishUserRevoked(ctx, userID, issuedBefore, expiresAt)
	return nil
}

// IsRevoked runs the request-time decision for a single token: JTI check
// (Bloom-gated, backend-confirmed) followed by an optional per-user check.
// Any timeout or backend error is treated as revoked. With revocation
// disabled, every token passes.
func (e *Engine) IsRevoked(ctx context.Context, jti, userID string, issuedAt time.Time) bool {
	if !e.enabled {
		return false
	}
	queryCtx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	if e.front.Contains(jti) == Possibly {
		revoked, err := e.store.IsRevoked(queryCtx, jti)
		if err != nil || queryCtx.Err() != nil {
			telemetry.RevocationChecksTotal.WithLabelValues("fail_closed").Inc()
			e.logger.Warn("revocation check failed, failing closed", "jti", jti, "error", err)
			return true
		}
		if revoked {
			telemetry.RevocationChecksTotal.WithLabelValues("revoked_jti").Inc()
			return true
		}
	}

	if e.checkUserRevocation && userID != "" {
		revoked, err := e.store.IsUserRevoked(queryCtx, userID, issuedAt)
		if err != nil || queryCtx.Err() != nil {
			telemetry.RevocationChecksTotal.WithLabelValues("fail_closed").Inc()
			e.logger.Warn("user revocation check failed, failing closed", "user", userID, "error", err)
			return true
		}
		if revoked {
			telemetry.RevocationChecksTotal.WithLabelValues("revoked_user").Inc()
			return true
		}
	}

	telemetry.RevocationChecksTotal.WithLabelValues("allowed").Inc()
	return false
}

// CheckJti reports the durable (non-fail-closed) revocation status of jti,
// for the admin status surface where an accurate answer is wanted over a
// fail-safe one.
func (e *Engine) CheckJti(ctx context.Context, jti string) (bool, error) {
	return e.store.IsRevoked(ctx, jti)
}

// RebuildFront triggers a Bloom filter rebuild from the durable store.
func (e *Engine) RebuildFront(ctx context.Context, trigger string) error {
	return e.front.Rebuild(ctx, trigger)
}

// RunPeriodicRebuild rebuilds the Bloom filter on rebuildInterval until ctx
// is cancelled, reconciling any bus events this instance missed.
func (e *Engine) RunPeriodicRebuild(ctx context.Context, rebuildInterval time.Duration) {
	ticker := time.NewTicker(rebuildInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.front.Rebuild(ctx, "periodic"); err != nil {
				e.logger.Error("periodic bloom rebuild failed", "error", err)
			}
		}
	}
}

// Subscribe starts the bus consumer loop until ctx is cancelled.
func (e *Engine) Subscribe(ctx context.Context) {
	e.bus.Subscribe(ctx, e.front)
}
