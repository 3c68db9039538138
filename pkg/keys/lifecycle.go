package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/wisbric/tollgate/internal/telemetry"
)

const rsaKeyBits = 2048

// AlertNotifier receives operational alerts the lifecycle manager cannot
// resolve on its own. Implementations must not block long; the manager calls
// it synchronously after exhausting retries.
type AlertNotifier interface {
	NotifyKeyRotationFailed(ctx context.Context, reason string) error
}

// NoopNotifier discards alerts. Used when no notifier is configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyKeyRotationFailed(context.Context, string) error { return nil }

// Policy holds the rotation schedule and retry budget (the key-rotation.*
// configuration section).
type Policy struct {
	RotationInterval time.Duration
	PendingGrace     time.Duration
	Retention        time.Duration
	ArchiveTTL       time.Duration
	MaxAttempts      int
}

// LifecycleManager drives PENDING -> ACTIVE -> DEPRECATED -> RETIRED
// transitions on schedule. It is the single logical writer of key
// status; the store's compare-and-set transitions arbitrate races between
// instances.
type LifecycleManager struct {
	store    Store
	policy   Policy
	logger   *slog.Logger
	notifier AlertNotifier
	now      func() time.Time
}

// NewLifecycleManager creates a LifecycleManager.
func NewLifecycleManager(store Store, policy Policy, logger *slog.Logger, notifier AlertNotifier) *LifecycleManager {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &LifecycleManager{
		store:    store,
		policy:   policy,
		logger:   logger,
		notifier: notifier,
		now:      time.Now,
	}
}

// Run drives one scheduling tick per policy.RotationInterval/12 (so pending
// grace and retention windows are observed with reasonable resolution)
// until ctx is cancelled. Each tick calls Tick.
func (m *LifecycleManager) Run(ctx context.Context) {
	interval := m.policy.RotationInterval / 12
	if interval <= 0 || interval > time.Hour {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one pass of the promote/retire state machine, retrying
// transient failures with exponential backoff up to MaxAttempts. On
// exhaustion it emits KeyRotationFailed and leaves the current ACTIVE key in
// place: availability beats rotation.
func (m *LifecycleManager) Tick(ctx context.Context) {
	op := func() (struct{}, error) {
		return struct{}{}, m.tickOnce(ctx)
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithMaxTries(uint(max(1, m.policy.MaxAttempts))),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
	if err != nil {
		telemetry.KeyRotationTransitionsTotal.WithLabelValues("failed").Inc()
		m.logger.Error("key rotation tick failed after retries", "error", err)
		if notifyErr := m.notifier.NotifyKeyRotationFailed(ctx, err.Error()); notifyErr != nil {
			m.logger.Error("sending KeyRotationFailed alert", "error", notifyErr)
		}
	}
}

func (m *LifecycleManager) tickOnce(ctx context.Context) error {
	active, err := m.store.FindActive(ctx)
	switch {
	case err == nil:
		return m.maybeRotate(ctx, active)
	case errors.Is(err, ErrKeyNotFound):
		return m.promoteOldestPending(ctx)
	default:
		return err
	}
}

func (m *LifecycleManager) promoteOldestPending(ctx context.Context) error {
	pendings, err := m.store.FindByStatus(ctx, StatusPending)
	if err != nil {
		return err
	}
	if len(pendings) == 0 {
		rec, err := m.generate()
		if err != nil {
			return fmt.Errorf("generating initial key: %w", err)
		}
		if err := m.store.Store(ctx, rec); err != nil {
			return err
		}
		pendings = []Record{rec}
	}

	oldest := pendings[0]
	for _, p := range pendings[1:] {
		if p.CreatedAt.Before(oldest.CreatedAt) {
			oldest = p
		}
	}

	if err := m.store.PromoteAndDeprecate(ctx, oldest.KeyID, "", m.now()); err != nil {
		return err
	}
	telemetry.KeyRotationTransitionsTotal.WithLabelValues("promoted").Inc()
	m.logger.Info("signing key promoted to active", "kid", oldest.KeyID)
	return nil
}

// maybeRotate handles the steady-state case where an ACTIVE key already
// exists: it creates and activates a successor once RotationInterval has
// elapsed since the active key was activated, and deprecates/retires keys
// whose windows have closed.
func (m *LifecycleManager) maybeRotate(ctx context.Context, active Record) error {
	now := m.now()

	if active.ActivatedAt != nil && now.Sub(*active.ActivatedAt) >= m.policy.RotationInterval {
		pendings, err := m.store.FindByStatus(ctx, StatusPending)
		if err != nil {
			return err
		}

		var successor *Record
		for i := range pendings {
			if now.Sub(pendings[i].CreatedAt) >= m.policy.PendingGrace {
				successor = &pendings[i]
				break
			}
		}

		if successor == nil {
			if len(pendings) == 0 {
				rec, err := m.generate()
				if err != nil {
					return fmt.Errorf("generating successor key: %w", err)
				}
				if err := m.store.Store(ctx, rec); err != nil {
					return err
				}
				m.logger.Info("signing key created, awaiting pending grace", "kid", rec.KeyID)
			}
			return nil
		}

		if err := m.store.PromoteAndDeprecate(ctx, successor.KeyID, active.KeyID, now); err != nil {
			return err
		}
		telemetry.KeyRotationTransitionsTotal.WithLabelValues("promoted").Inc()
		telemetry.KeyRotationTransitionsTotal.WithLabelValues("deprecated").Inc()
		m.logger.Info("signing key rotated", "new_active", successor.KeyID, "deprecated", active.KeyID)
	}

	return m.retireExpired(ctx)
}

func (m *LifecycleManager) retireExpired(ctx context.Context) error {
	now := m.now()

	deprecated, err := m.store.FindByStatus(ctx, StatusDeprecated)
	if err != nil {
		return err
	}
	for _, d := range deprecated {
		if d.DeprecatedAt != nil && now.Sub(*d.DeprecatedAt) >= m.policy.Retention {
			if err := m.store.UpdateStatus(ctx, d.KeyID, StatusRetired, now); err != nil {
				return err
			}
			telemetry.KeyRotationTransitionsTotal.WithLabelValues("retired").Inc()
			m.logger.Info("signing key retired", "kid", d.KeyID)
		}
	}

	retired, err := m.store.FindByStatus(ctx, StatusRetired)
	if err != nil {
		return err
	}
	for _, r := range retired {
		if r.RetiredAt != nil && now.Sub(*r.RetiredAt) >= m.policy.ArchiveTTL {
			if err := m.store.Delete(ctx, r.KeyID); err != nil {
				return err
			}
			m.logger.Info("signing key archived and deleted", "kid", r.KeyID)
		}
	}

	return nil
}

func (m *LifecycleManager) generate() (Record, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return Record{}, fmt.Errorf("generating RSA key: %w", err)
	}
	return Record{
		KeyID:      uuid.NewString(),
		PublicKey:  &priv.PublicKey,
		PrivateKey: priv,
		Status:     StatusPending,
		CreatedAt:  m.now(),
	}, nil
}
