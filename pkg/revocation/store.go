// Package revocation implements the revocation engine: a durable store with
// server-enforced TTL, an in-process Bloom filter front, and a pub/sub
// fanout bus keeping every instance's filter in sync.
package revocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jtiKeyPrefix  = "revoked:jti:"
	userKeyPrefix = "revoked:user:"
)

// userEntry is the payload stored under a revoked:user:<userId> key.
type userEntry struct {
	IssuedBefore time.Time `json:"issued_before"`
}

// Store holds durable JTI and per-user revocations, TTL-expired by the
// backend so no cleanup RPC is ever needed.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a Store backed by rdb.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Revoke records jti as revoked until expiresAt. A call with
// expiresAt <= now is a no-op: a never-live revocation is not an error.
func (s *Store) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.rdb.Set(ctx, jtiKeyPrefix+jti, expiresAt.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("revocation: revoking jti %s: %w", jti, err)
	}
	return nil
}

// IsRevoked reports whether jti is currently revoked.
func (s *Store) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, err := s.rdb.Get(ctx, jtiKeyPrefix+jti).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("revocation: checking jti %s: %w", jti, err)
	}
	return true, nil
}

// RevokeAllForUser replaces any prior entry for userId, making every token
// issued before issuedBefore revoked until expiresAt.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string, issuedBefore, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(userEntry{IssuedBefore: issuedBefore})
	if err != nil {
		return fmt.Errorf("revocation: encoding user entry: %w", err)
	}
	if err := s.rdb.Set(ctx, userKeyPrefix+userID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("revocation: revoking user %s: %w", userID, err)
	}
	return nil
}

// IsUserRevoked reports whether tokenIssuedAt predates the user's
// issuedBefore cutoff. The comparison is strict: iat == issuedBefore is NOT
// revoked, iat < issuedBefore is.
func (s *Store) IsUserRevoked(ctx context.Context, userID string, tokenIssuedAt time.Time) (bool, error) {
	raw, err := s.rdb.Get(ctx, userKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("revocation: checking user %s: %w", userID, err)
	}
	var e userEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return false, fmt.Errorf("revocation: decoding user entry for %s: %w", userID, err)
	}
	return tokenIssuedAt.Before(e.IssuedBefore), nil
}

// StreamAllRevokedJtis performs an unordered scan of every currently
// revoked JTI, used by BloomFront.Rebuild and admin tooling.
func (s *Store) StreamAllRevokedJtis(ctx context.Context) iter.Seq2[string, error] {
	return s.scanPrefix(ctx, jtiKeyPrefix)
}

// StreamAllRevokedUsers scans every currently revoked user ID.
func (s *Store) StreamAllRevokedUsers(ctx context.Context) iter.Seq2[string, error] {
	return s.scanPrefix(ctx, userKeyPrefix)
}

func (s *Store) scanPrefix(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var cursor uint64
		for {
			keys, next, err := s.rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
			if err != nil {
				yield("", fmt.Errorf("revocation: scanning %s*: %w", prefix, err))
				return
			}
			for _, k := range keys {
				if !yield(k[len(prefix):], nil) {
					return
				}
			}
			cursor = next
			if cursor == 0 {
				return
			}
		}
	}
}
