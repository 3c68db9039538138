package configstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/tollgate/pkg/translate"
)

// L3 is the primary, durable store (Postgres).
type L3 struct {
	pool *pgxpool.Pool
}

// NewL3 creates an L3 store backed by pool.
func NewL3(pool *pgxpool.Pool) *L3 {
	return &L3{pool: pool}
}

const versionColumns = `id, version, schema, active, created_by, created_at, comment`

func scanVersion(row pgx.Row) (Version, error) {
	var v Version
	var schemaBytes []byte
	var comment *string
	if err := row.Scan(&v.ID, &v.Version, &schemaBytes, &v.Active, &v.CreatedBy, &v.CreatedAt, &comment); err != nil {
		return Version{}, err
	}
	if comment != nil {
		v.Comment = *comment
	}
	schema, err := translate.ParseSchema(schemaBytes)
	if err != nil {
		return Version{}, fmt.Errorf("decoding stored schema for version %s: %w", v.ID, err)
	}
	v.Schema = schema
	return v, nil
}

func (l *L3) GetActive(ctx context.Context) (Version, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+versionColumns+` FROM translation_config_versions WHERE active = true LIMIT 1`)
	v, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return v, nil
}

func (l *L3) FindByID(ctx context.Context, id string) (Version, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+versionColumns+` FROM translation_config_versions WHERE id = $1`, id)
	v, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return v, nil
}

func (l *L3) FindByVersion(ctx context.Context, n int) (Version, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+versionColumns+` FROM translation_config_versions WHERE version = $1`, n)
	v, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return v, nil
}

func (l *L3) ListVersions(ctx context.Context) ([]Version, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+versionColumns+` FROM translation_config_versions ORDER BY version DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning version: %v", ErrStorageUnavailable, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

// Save inserts a new version (never active by default — callers must call
// SetActive to promote it).
func (l *L3) Save(ctx context.Context, v Version) error {
	schemaBytes, err := v.MarshalSchema()
	if err != nil {
		return fmt.Errorf("configstore: marshaling schema: %w", err)
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO translation_config_versions (id, version, schema, active, created_by, created_at, comment)
		VALUES ($1, $2, $3, false, $4, $5, $6)`,
		v.ID, v.Version, schemaBytes, v.CreatedBy, v.CreatedAt, nullableString(v.Comment),
	)
	if err != nil {
		return fmt.Errorf("%w: saving version %s: %v", ErrStorageUnavailable, v.ID, err)
	}
	return nil
}

// SetActive flips the active pointer atomically: the previous active
// version (if any) is cleared in the same transaction as the new one is set.
func (l *L3) SetActive(ctx context.Context, id string) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE translation_config_versions SET active = false WHERE active = true`); err != nil {
		return fmt.Errorf("%w: clearing previous active: %v", ErrStorageUnavailable, err)
	}

	tag, err := tx.Exec(ctx, `UPDATE translation_config_versions SET active = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: activating %s: %v", ErrStorageUnavailable, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: committing: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (l *L3) Delete(ctx context.Context, id string) error {
	tag, err := l.pool.Exec(ctx, `DELETE FROM translation_config_versions WHERE id = $1 AND active = false`, id)
	if err != nil {
		return fmt.Errorf("%w: deleting %s: %v", ErrStorageUnavailable, id, err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or active; distinguish for a clearer error.
		if _, err := l.FindByID(ctx, id); err == nil {
			return ErrActiveNotDeletable
		}
		return ErrNotFound
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
