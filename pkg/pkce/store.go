// Package pkce implements the short-TTL PKCE challenge store.
package pkce

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/tollgate/internal/telemetry"
)

const keyPrefix = "pkce:state:"

// ErrNotFound is returned when a challenge has expired or was already
// consumed.
var ErrNotFound = errors.New("pkce: challenge not found")

// Store holds state -> challenge bindings in Redis with server-enforced
// TTL.
type Store struct {
	rdb *redis.Client
}

// New creates a Store backed by rdb.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Store saves challenge under state, overwriting any prior entry for the
// same state.
func (s *Store) Store(ctx context.Context, state, challenge string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, keyPrefix+state, challenge, ttl).Err(); err != nil {
		return fmt.Errorf("pkce: storing challenge for state %s: %w", state, err)
	}
	return nil
}

// ConsumeChallenge atomically retrieves and deletes the challenge for
// state. A second call for the same state returns ErrNotFound, and so does
// a call after the TTL has elapsed.
func (s *Store) ConsumeChallenge(ctx context.Context, state string) (string, error) {
	key := keyPrefix + state
	val, err := s.rdb.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		telemetry.PkceConsumptionsTotal.WithLabelValues("miss").Inc()
		return "", ErrNotFound
	}
	if err != nil {
		telemetry.PkceConsumptionsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("pkce: consuming challenge for state %s: %w", state, err)
	}
	telemetry.PkceConsumptionsTotal.WithLabelValues("consumed").Inc()
	return val, nil
}

// VerifyS256 reports whether verifier hashes to challenge under the S256
// code-challenge method (RFC 7636): base64url without padding over the
// SHA-256 of the verifier. The comparison is constant-time.
func VerifyS256(challenge, verifier string) bool {
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
