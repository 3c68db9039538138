// Package keys implements the signing-key lifecycle: durable storage,
// rotation scheduling, and JWKS publication.
package keys

import (
	"crypto/rsa"
	"errors"
	"time"
)

// Status is a signing key's position in its lifecycle. Transitions are
// monotone: PENDING -> ACTIVE -> DEPRECATED -> RETIRED. No skipping backwards.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusActive     Status = "ACTIVE"
	StatusDeprecated Status = "DEPRECATED"
	StatusRetired    Status = "RETIRED"
)

// CanTransitionTo reports whether moving from s to next is a legal, monotone
// lifecycle step.
func (s Status) CanTransitionTo(next Status) bool {
	order := map[Status]int{
		StatusPending:    0,
		StatusActive:     1,
		StatusDeprecated: 2,
		StatusRetired:    3,
	}
	cur, ok1 := order[s]
	nxt, ok2 := order[next]
	if !ok1 || !ok2 {
		return false
	}
	return nxt == cur+1
}

// Record is a durable signing-key record. PrivateKey is nil on
// verification-only peers (see WithoutPrivateKey).
type Record struct {
	KeyID        string
	PublicKey    *rsa.PublicKey
	PrivateKey   *rsa.PrivateKey
	Status       Status
	CreatedAt    time.Time
	ActivatedAt  *time.Time
	DeprecatedAt *time.Time
	RetiredAt    *time.Time
}

// CanVerify reports whether the key may still verify signatures: only
// ACTIVE and DEPRECATED keys do.
func (r Record) CanVerify() bool {
	return r.Status == StatusActive || r.Status == StatusDeprecated
}

// CanSign reports whether the record carries a private key and is ACTIVE.
func (r Record) CanSign() bool {
	return r.Status == StatusActive && r.PrivateKey != nil
}

// WithoutPrivateKey returns a copy of r with the private key stripped, for
// handing to verification-only peers. Private keys must never cross this
// boundary, let alone reach logs or telemetry.
func (r Record) WithoutPrivateKey() Record {
	r.PrivateKey = nil
	return r
}

var (
	ErrStorageUnavailable = errors.New("keys: storage unavailable")
	ErrKeyNotFound        = errors.New("keys: key not found")
	ErrIllegalTransition  = errors.New("keys: illegal status transition")
)
