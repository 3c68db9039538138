package keys

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the durable signing-key store. All operations return
// ErrStorageUnavailable when the backend is unreachable and ErrKeyNotFound
// on a missing kid.
type Store interface {
	// Store persists a new key record.
	Store(ctx context.Context, r Record) error
	// FindByID returns the record for kid, or ErrKeyNotFound.
	FindByID(ctx context.Context, kid string) (Record, error)
	// FindActive returns the most-recently-activated ACTIVE record, or
	// ErrKeyNotFound if none is ACTIVE. If more than one record is somehow
	// ACTIVE (invariant violation), the most recently activated wins.
	FindActive(ctx context.Context) (Record, error)
	// FindAllForVerification returns every ACTIVE or DEPRECATED record.
	FindAllForVerification(ctx context.Context) ([]Record, error)
	// FindByStatus returns every record with the given status.
	FindByStatus(ctx context.Context, s Status) ([]Record, error)
	// UpdateStatus performs a compare-and-set status transition, enforcing
	// monotonicity. Returns ErrIllegalTransition on a non-monotone move or a
	// lost race against a concurrent transition.
	UpdateStatus(ctx context.Context, kid string, newStatus Status, at time.Time) error
	// Delete removes a record. Callers must only do this for RETIRED
	// records past their archive retention.
	Delete(ctx context.Context, kid string) error
	// FindAll returns every record, for admin/diagnostic use.
	FindAll(ctx context.Context) ([]Record, error)
	// PromoteAndDeprecate activates newKid (must be PENDING) and, in the
	// same atomic batch, deprecates oldKid (must be ACTIVE), preserving the
	// at-most-one-ACTIVE invariant even under concurrent rotation attempts
	// from more than one gateway instance. oldKid may be empty when there is
	// no previously ACTIVE key to deprecate.
	PromoteAndDeprecate(ctx context.Context, newKid, oldKid string, at time.Time) error
}

// PostgresStore is the Postgres-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const keyColumns = `key_id, public_key, private_key, status, created_at, activated_at, deprecated_at, retired_at`

func scanKeyRow(row pgx.Row) (Record, error) {
	var (
		r       Record
		status  string
		pubDER  []byte
		privDER []byte
	)
	if err := row.Scan(&r.KeyID, &pubDER, &privDER, &status, &r.CreatedAt, &r.ActivatedAt, &r.DeprecatedAt, &r.RetiredAt); err != nil {
		return Record{}, err
	}
	r.Status = Status(status)

	pub, err := x509.ParsePKIXPublicKey(pubDER)
	if err != nil {
		return Record{}, fmt.Errorf("parsing public key for %s: %w", r.KeyID, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return Record{}, fmt.Errorf("key %s is not RSA", r.KeyID)
	}
	r.PublicKey = rsaPub

	if len(privDER) > 0 {
		priv, err := x509.ParsePKCS8PrivateKey(privDER)
		if err != nil {
			return Record{}, fmt.Errorf("parsing private key for %s: %w", r.KeyID, err)
		}
		rsaPriv, ok := priv.(*rsa.PrivateKey)
		if !ok {
			return Record{}, fmt.Errorf("private key %s is not RSA", r.KeyID)
		}
		r.PrivateKey = rsaPriv
	}

	return r, nil
}

func (s *PostgresStore) Store(ctx context.Context, r Record) error {
	pubDER, err := x509.MarshalPKIXPublicKey(r.PublicKey)
	if err != nil {
		return fmt.Errorf("marshaling public key: %w", err)
	}

	var privDER []byte
	if r.PrivateKey != nil {
		privDER, err = x509.MarshalPKCS8PrivateKey(r.PrivateKey)
		if err != nil {
			return fmt.Errorf("marshaling private key: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO signing_keys (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.KeyID, pubDER, privDER, string(r.Status), r.CreatedAt, r.ActivatedAt, r.DeprecatedAt, r.RetiredAt,
	)
	if err != nil {
		return fmt.Errorf("%w: storing key %s: %v", ErrStorageUnavailable, r.KeyID, err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, kid string) (Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+keyColumns+` FROM signing_keys WHERE key_id = $1`, kid)
	r, err := scanKeyRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrKeyNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: finding key %s: %v", ErrStorageUnavailable, kid, err)
	}
	return r, nil
}

func (s *PostgresStore) FindActive(ctx context.Context) (Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+keyColumns+` FROM signing_keys
		WHERE status = $1
		ORDER BY activated_at DESC NULLS LAST
		LIMIT 1`, string(StatusActive))
	r, err := scanKeyRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrKeyNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: finding active key: %v", ErrStorageUnavailable, err)
	}
	return r, nil
}

func (s *PostgresStore) FindAllForVerification(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+keyColumns+` FROM signing_keys
		WHERE status IN ($1, $2)
		ORDER BY activated_at DESC NULLS LAST`, string(StatusActive), string(StatusDeprecated))
	if err != nil {
		return nil, fmt.Errorf("%w: listing verification keys: %v", ErrStorageUnavailable, err)
	}
	return scanKeyRows(rows)
}

func (s *PostgresStore) FindByStatus(ctx context.Context, status Status) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+keyColumns+` FROM signing_keys WHERE status = $1 ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("%w: listing keys by status %s: %v", ErrStorageUnavailable, status, err)
	}
	return scanKeyRows(rows)
}

func (s *PostgresStore) FindAll(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+keyColumns+` FROM signing_keys ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing all keys: %v", ErrStorageUnavailable, err)
	}
	return scanKeyRows(rows)
}

func scanKeyRows(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := scanKeyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning key row: %v", ErrStorageUnavailable, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating key rows: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

// UpdateStatus performs a compare-and-set transition: the row is only
// updated if its current status is the legal predecessor of newStatus. This
// is the authority the lifecycle manager relies on when two instances race
// to activate the same key: the loser's update matches zero rows.
func (s *PostgresStore) UpdateStatus(ctx context.Context, kid string, newStatus Status, at time.Time) error {
	var fromCol string
	var predecessor Status
	switch newStatus {
	case StatusActive:
		fromCol, predecessor = "activated_at", StatusPending
	case StatusDeprecated:
		fromCol, predecessor = "deprecated_at", StatusActive
	case StatusRetired:
		fromCol, predecessor = "retired_at", StatusDeprecated
	default:
		return fmt.Errorf("%w: cannot transition into %s", ErrIllegalTransition, newStatus)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE signing_keys
		SET status = $1, `+fromCol+` = $2
		WHERE key_id = $3 AND status = $4`,
		string(newStatus), at, kid, string(predecessor),
	)
	if err != nil {
		return fmt.Errorf("%w: updating status for %s: %v", ErrStorageUnavailable, kid, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: key %s not in state %s", ErrIllegalTransition, kid, predecessor)
	}
	return nil
}

// PromoteAndDeprecate runs inside a single transaction so the two
// transitions are observed atomically by every reader: no read can see
// two ACTIVE keys, or none, mid-rotation.
func (s *PostgresStore) PromoteAndDeprecate(ctx context.Context, newKid, oldKid string, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: beginning rotation transaction: %v", ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE signing_keys SET status = $1, activated_at = $2
		WHERE key_id = $3 AND status = $4`,
		string(StatusActive), at, newKid, string(StatusPending))
	if err != nil {
		return fmt.Errorf("%w: activating %s: %v", ErrStorageUnavailable, newKid, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: key %s not in state PENDING", ErrIllegalTransition, newKid)
	}

	if oldKid != "" {
		tag, err = tx.Exec(ctx, `
			UPDATE signing_keys SET status = $1, deprecated_at = $2
			WHERE key_id = $3 AND status = $4`,
			string(StatusDeprecated), at, oldKid, string(StatusActive))
		if err != nil {
			return fmt.Errorf("%w: deprecating %s: %v", ErrStorageUnavailable, oldKid, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: key %s not in state ACTIVE", ErrIllegalTransition, oldKid)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: committing rotation: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, kid string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM signing_keys WHERE key_id = $1 AND status = $2`, kid, string(StatusRetired))
	if err != nil {
		return fmt.Errorf("%w: deleting key %s: %v", ErrStorageUnavailable, kid, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}
