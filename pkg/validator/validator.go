// Package validator verifies inbound JWTs against a JWKS cache with
// key-rotation-aware retry.
package validator

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/wisbric/tollgate/internal/telemetry"
)

// Reason is a single-tag collapse of every way a token can fail validation.
type Reason string

const (
	ReasonExpired         Reason = "Expired"
	ReasonBadIssuer       Reason = "BadIssuer"
	ReasonBadAudience     Reason = "BadAudience"
	ReasonBadSignature    Reason = "BadSignature"
	ReasonMalformed       Reason = "Malformed"
	ReasonJwksUnavailable Reason = "JwksUnavailable"
)

// clockSkew is the tolerance applied to exp/nbf checks.
const clockSkew = 30 * time.Second

// ProviderConfig describes the external IdP a validator checks tokens
// against.
type ProviderConfig struct {
	Issuer        string
	Audiences     []string
	JwksURI       string
	ClaimsMapping map[string]string // externalName -> internalName
}

// KeyResolver fetches a verification key by kid from a JWKS URI.
type KeyResolver interface {
	GetKey(ctx context.Context, uri, kid string) (any, error)
}

// Result is the sum-type outcome of Validate: exactly one of the accessors
// below is meaningful, selected by Outcome.
type Result struct {
	Outcome Outcome
	Reason  Reason // valid only when Outcome == Invalid

	Subject   string
	Issuer    string
	Claims    map[string]any
	ExpiresAt time.Time
	IssuedAt  time.Time
	JTI       string
}

// Outcome tags which variant of Result is populated.
type Outcome int

const (
	OutcomeNoToken Outcome = iota
	OutcomeInvalid
	OutcomeValid
)

// Validator verifies signature and standard claims of a compact JWT, using
// a jwkscache.Cache for key resolution.
type Validator struct {
	keys KeyResolver
}

// New creates a Validator backed by the given key resolver.
func New(keys KeyResolver) *Validator {
	return &Validator{keys: keys}
}

// Validate parses the compact form, resolves the kid (with one retry
// through the cache's own refresh-on-miss), verifies the signature, checks
// standard claims with clock skew, then applies the claims mapping.
func (v *Validator) Validate(ctx context.Context, rawToken string, cfg ProviderConfig) Result {
	rawToken = strings.TrimSpace(strings.TrimPrefix(rawToken, "Bearer "))
	if rawToken == "" {
		return Result{Outcome: OutcomeNoToken}
	}

	tok, err := jwt.ParseSigned(rawToken, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		telemetry.TokenValidationsTotal.WithLabelValues(string(ReasonMalformed)).Inc()
		return invalid(ReasonMalformed)
	}

	if len(tok.Headers) == 0 || tok.Headers[0].KeyID == "" {
		telemetry.TokenValidationsTotal.WithLabelValues(string(ReasonMalformed)).Inc()
		return invalid(ReasonMalformed)
	}
	kid := tok.Headers[0].KeyID

	rawKey, err := v.keys.GetKey(ctx, cfg.JwksURI, kid)
	if err != nil {
		telemetry.TokenValidationsTotal.WithLabelValues(string(ReasonJwksUnavailable)).Inc()
		return invalid(ReasonJwksUnavailable)
	}
	pubKey, ok := rawKey.(*rsa.PublicKey)
	if !ok {
		telemetry.TokenValidationsTotal.WithLabelValues(string(ReasonJwksUnavailable)).Inc()
		return invalid(ReasonJwksUnavailable)
	}

	var registered jwt.Claims
	var raw map[string]any
	if err := tok.Claims(pubKey, &registered, &raw); err != nil {
		telemetry.TokenValidationsTotal.WithLabelValues(string(ReasonBadSignature)).Inc()
		return invalid(ReasonBadSignature)
	}

	now := time.Now()

	if registered.Issuer != cfg.Issuer {
		telemetry.TokenValidationsTotal.WithLabelValues(string(ReasonBadIssuer)).Inc()
		return invalid(ReasonBadIssuer)
	}

	if registered.Expiry == nil {
		telemetry.TokenValidationsTotal.WithLabelValues(string(ReasonMalformed)).Inc()
		return invalid(ReasonMalformed)
	}
	if now.After(registered.Expiry.Time().Add(clockSkew)) {
		telemetry.TokenValidationsTotal.WithLabelValues(string(ReasonExpired)).Inc()
		return invalid(ReasonExpired)
	}
	if registered.NotBefore != nil && now.Before(registered.NotBefore.Time().Add(-clockSkew)) {
		telemetry.TokenValidationsTotal.WithLabelValues(string(ReasonExpired)).Inc()
		return invalid(ReasonExpired)
	}

	if len(cfg.Audiences) > 0 && !audienceIntersects(registered.Audience, cfg.Audiences) {
		telemetry.TokenValidationsTotal.WithLabelValues(string(ReasonBadAudience)).Inc()
		return invalid(ReasonBadAudience)
	}

	claims := applyClaimsMapping(raw, cfg.ClaimsMapping)

	var iat time.Time
	if registered.IssuedAt != nil {
		iat = registered.IssuedAt.Time()
	}

	jti, _ := raw["jti"].(string)

	telemetry.TokenValidationsTotal.WithLabelValues("valid").Inc()
	return Result{
		Outcome:   OutcomeValid,
		Subject:   registered.Subject,
		Issuer:    registered.Issuer,
		Claims:    claims,
		ExpiresAt: registered.Expiry.Time(),
		IssuedAt:  iat,
		JTI:       jti,
	}
}

func invalid(r Reason) Result {
	return Result{Outcome: OutcomeInvalid, Reason: r}
}

func audienceIntersects(tokenAud jwt.Audience, configured []string) bool {
	want := make(map[string]struct{}, len(configured))
	for _, a := range configured {
		want[a] = struct{}{}
	}
	for _, a := range tokenAud {
		if _, ok := want[a]; ok {
			return true
		}
	}
	return false
}

// applyClaimsMapping preserves originals and adds externalName -> internalName
// aliases.
func applyClaimsMapping(raw map[string]any, mapping map[string]string) map[string]any {
	out := make(map[string]any, len(raw)+len(mapping))
	for k, v := range raw {
		out[k] = v
	}
	for external, internal := range mapping {
		if v, ok := raw[external]; ok {
			out[internal] = v
		}
	}
	return out
}

// ExtractJTIUnverified parses a compact JWT and returns its jti claim
// without checking the signature, for the admin revoke-by-full-token
// surface. Never use this result for an authorization decision.
func ExtractJTIUnverified(rawToken string) (string, error) {
	rawToken = strings.TrimSpace(strings.TrimPrefix(rawToken, "Bearer "))
	tok, err := jwt.ParseSigned(rawToken, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return "", fmt.Errorf("validator: parsing token: %w", err)
	}
	var claims jwt.Claims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return "", fmt.Errorf("validator: extracting claims: %w", err)
	}
	if claims.ID == "" {
		return "", fmt.Errorf("validator: token has no jti claim")
	}
	return claims.ID, nil
}
