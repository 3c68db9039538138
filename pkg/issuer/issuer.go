// Package issuer mints downstream JWTs signed by the gateway's current
// ACTIVE key.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/wisbric/tollgate/internal/telemetry"
	"github.com/wisbric/tollgate/pkg/keys"
	"github.com/wisbric/tollgate/pkg/validator"
)

// ErrIssuerUnavailable is returned when no ACTIVE signing key with a private
// key is available.
var ErrIssuerUnavailable = errors.New("issuer: no active signing key available")

// standardClaimNames are never copied through the forwarded-claims
// whitelist; the issued token always sets its own registered claims.
var standardClaimNames = map[string]struct{}{
	"iss": {}, "sub": {}, "iat": {}, "exp": {}, "nbf": {}, "aud": {}, "jti": {},
}

// Config mirrors the token-issuance.* configuration section.
type Config struct {
	Issuer          string
	TokenTTL        time.Duration
	ForwardedClaims []string
	// Audience is the default aud for issued tokens, used when the caller
	// does not request one explicitly. Empty omits the claim.
	Audience string
	// KeyIDFallback names a key to sign with when no ACTIVE key can be
	// resolved, keeping issuance alive through a botched rotation. The
	// fallback key must still carry private material.
	KeyIDFallback string
}

// IssuedToken is the result of Issue.
type IssuedToken struct {
	JWS             string
	Subject         string
	ExpiresAt       time.Time
	ForwardedClaims map[string]any
}

// KeySource resolves signing keys.
type KeySource interface {
	FindActive(ctx context.Context) (keys.Record, error)
	FindByID(ctx context.Context, kid string) (keys.Record, error)
}

// Issuer signs a re-issued token with the ACTIVE key, forwarding
// whitelisted claims and recording original_iss.
type Issuer struct {
	keys KeySource
}

// New creates an Issuer backed by keys.
func New(keySource KeySource) *Issuer {
	return &Issuer{keys: keySource}
}

// IsAvailable reports whether an ACTIVE signing key with a private key
// currently exists.
func (iss *Issuer) IsAvailable(ctx context.Context) bool {
	rec, err := iss.keys.FindActive(ctx)
	return err == nil && rec.CanSign()
}

// Issue builds and signs a downstream JWT from a validated inbound token.
// audience is optional; pass "" to fall back to cfg.Audience (and omit aud
// if that is empty too).
func (iss *Issuer) Issue(ctx context.Context, valid validator.Result, cfg Config, audience string) (IssuedToken, error) {
	rec, err := iss.signingKey(ctx, cfg)
	if err != nil {
		return IssuedToken{}, err
	}
	if audience == "" {
		audience = cfg.Audience
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: rec.PrivateKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", rec.KeyID),
	)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("issuer: creating signer: %w", err)
	}

	now := time.Now()
	exp := now.Add(cfg.TokenTTL)

	registered := jwt.Claims{
		Issuer:   cfg.Issuer,
		Subject:  valid.Subject,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(exp),
		ID:       uuid.NewString(),
	}
	if audience != "" {
		registered.Audience = jwt.Audience{audience}
	}

	extra := map[string]any{"original_iss": valid.Issuer}
	forwarded := make(map[string]any)
	for _, name := range cfg.ForwardedClaims {
		if _, isStandard := standardClaimNames[name]; isStandard {
			continue
		}
		if v, ok := valid.Claims[name]; ok {
			extra[name] = v
			forwarded[name] = v
		}
	}

	builder := jwt.Signed(signer).Claims(registered).Claims(extra)
	token, err := builder.Serialize()
	if err != nil {
		return IssuedToken{}, fmt.Errorf("issuer: signing token: %w", err)
	}

	telemetry.IssuedTokensTotal.Inc()
	return IssuedToken{
		JWS:             token,
		Subject:         valid.Subject,
		ExpiresAt:       exp,
		ForwardedClaims: forwarded,
	}, nil
}

// signingKey resolves the ACTIVE key, falling back to cfg.KeyIDFallback
// when configured. The fallback record must still hold private material; a
// RETIRED or stripped record is not usable.
func (iss *Issuer) signingKey(ctx context.Context, cfg Config) (keys.Record, error) {
	rec, err := iss.keys.FindActive(ctx)
	if err == nil && rec.CanSign() {
		return rec, nil
	}

	if cfg.KeyIDFallback != "" {
		fallback, fbErr := iss.keys.FindByID(ctx, cfg.KeyIDFallback)
		if fbErr == nil && fallback.PrivateKey != nil && fallback.CanVerify() {
			return fallback, nil
		}
	}

	return keys.Record{}, ErrIssuerUnavailable
}
