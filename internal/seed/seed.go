// Package seed provisions a fresh tollgate deployment's first signing key
// and default translation config, so that "api" mode never boots into a
// cluster with no ACTIVE key and no ACTIVE TranslationConfigVersion. It is
// run as a one-shot "seed-keys" mode invocation (cmd/tollgate), not at API
// startup, so operators control exactly when state is first written.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wisbric/tollgate/pkg/configstore"
	"github.com/wisbric/tollgate/pkg/keys"
	"github.com/wisbric/tollgate/pkg/translate"
)

// defaultSchema is the minimal starter TranslationConfigSchema seeded on a
// fresh deployment: it forwards the "roles" claim (space-delimited, the
// common OIDC scope-claim shape) straight through as both roles and
// permissions, denying nothing by default. Operators are expected to
// replace it via the admin config surface once real mappings are known.
var defaultSchema = translate.Schema{
	Sources: []translate.Source{
		{Name: "roles", ClaimPath: "roles", Type: translate.SourceSpaceDelimited},
	},
	Transforms: []translate.Transform{
		{Source: "roles", Operations: []translate.Operation{{Type: translate.OpLowercase}}},
	},
	Mappings: translate.Mappings{
		RoleToPermissions: map[string][]string{},
		DirectPermissions: map[string]string{},
	},
	Defaults: translate.Defaults{
		DenyIfNoMatch:   false,
		IncludeUnmapped: true,
	},
}

// Run provisions an initial signing key and default translation config.
// It is idempotent: if an ACTIVE key or ACTIVE config version already
// exists, that part of the seed is skipped and logged.
func Run(ctx context.Context, lifecycle *keys.LifecycleManager, keyStore keys.Store, store *configstore.Store, logger *slog.Logger) error {
	if err := seedSigningKey(ctx, lifecycle, keyStore, logger); err != nil {
		return fmt.Errorf("seeding signing key: %w", err)
	}
	if err := seedTranslationConfig(ctx, store, logger); err != nil {
		return fmt.Errorf("seeding translation config: %w", err)
	}
	return nil
}

func seedSigningKey(ctx context.Context, lifecycle *keys.LifecycleManager, keyStore keys.Store, logger *slog.Logger) error {
	if _, err := keyStore.FindActive(ctx); err == nil {
		logger.Info("seed: an active signing key already exists, skipping")
		return nil
	} else if !errors.Is(err, keys.ErrKeyNotFound) {
		return err
	}

	// The lifecycle manager's own promote step generates a key from nothing
	// and promotes it to ACTIVE in one tick (LifecycleManager.Tick ->
	// promoteOldestPending) — reuse it rather than duplicating key
	// generation here.
	lifecycle.Tick(ctx)

	active, err := keyStore.FindActive(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle tick did not produce an active key: %w", err)
	}
	logger.Info("seed: signing key promoted to active", "kid", active.KeyID)
	return nil
}

func seedTranslationConfig(ctx context.Context, store *configstore.Store, logger *slog.Logger) error {
	if _, err := store.GetActive(ctx); err == nil {
		logger.Info("seed: an active translation config already exists, skipping")
		return nil
	} else if !errors.Is(err, configstore.ErrNotFound) {
		return err
	}

	raw, err := json.Marshal(defaultSchema)
	if err != nil {
		return fmt.Errorf("marshaling default schema: %w", err)
	}
	schema, err := translate.ParseSchema(raw)
	if err != nil {
		return fmt.Errorf("validating default schema: %w", err)
	}

	v := newSeedVersion(schema)
	if err := store.Save(ctx, v); err != nil {
		return fmt.Errorf("saving default translation config: %w", err)
	}
	if err := store.SetActive(ctx, v.ID); err != nil {
		return fmt.Errorf("activating default translation config: %w", err)
	}
	logger.Info("seed: default translation config activated", "id", v.ID, "version", v.Version)
	return nil
}
