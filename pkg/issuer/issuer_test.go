package issuer

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/wisbric/tollgate/pkg/keys"
	"github.com/wisbric/tollgate/pkg/validator"
)

type fakeKeySource struct {
	rec  keys.Record
	err  error
	byID map[string]keys.Record
}

func (f *fakeKeySource) FindActive(_ context.Context) (keys.Record, error) {
	return f.rec, f.err
}

func (f *fakeKeySource) FindByID(_ context.Context, kid string) (keys.Record, error) {
	if r, ok := f.byID[kid]; ok {
		return r, nil
	}
	return keys.Record{}, keys.ErrKeyNotFound
}

func newActiveRecord(t *testing.T) keys.Record {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return keys.Record{
		KeyID:      "active-1",
		Status:     keys.StatusActive,
		PrivateKey: priv,
		PublicKey:  &priv.PublicKey,
	}
}

func TestIssuer_IsAvailable(t *testing.T) {
	iss := New(&fakeKeySource{rec: newActiveRecord(t)})
	if !iss.IsAvailable(context.Background()) {
		t.Error("expected IsAvailable to be true with an active signing key")
	}

	issNoKey := New(&fakeKeySource{err: keys.ErrKeyNotFound})
	if issNoKey.IsAvailable(context.Background()) {
		t.Error("expected IsAvailable to be false with no active key")
	}
}

func TestIssuer_Issue(t *testing.T) {
	rec := newActiveRecord(t)
	iss := New(&fakeKeySource{rec: rec})

	valid := validator.Result{
		Outcome: validator.OutcomeValid,
		Subject: "user-1",
		Issuer:  "https://idp.example.com",
		Claims: map[string]any{
			"roles": "admin",
			"iss":   "https://idp.example.com", // standard claim, must never be forwarded
		},
	}
	cfg := Config{
		Issuer:          "https://tollgate.example.com",
		TokenTTL:        5 * time.Minute,
		ForwardedClaims: []string{"roles", "iss"},
	}

	out, err := iss.Issue(context.Background(), valid, cfg, "downstream-service")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if out.Subject != "user-1" {
		t.Errorf("Subject = %q, want user-1", out.Subject)
	}
	if _, forwarded := out.ForwardedClaims["iss"]; forwarded {
		t.Error("standard claim 'iss' must never be forwarded")
	}
	if out.ForwardedClaims["roles"] != "admin" {
		t.Errorf("ForwardedClaims[roles] = %v, want admin", out.ForwardedClaims["roles"])
	}

	tok, err := jwt.ParseSigned(out.JWS, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		t.Fatalf("parsing issued token: %v", err)
	}
	var registered jwt.Claims
	var raw map[string]any
	if err := tok.Claims(&rec.PrivateKey.PublicKey, &registered, &raw); err != nil {
		t.Fatalf("verifying issued token: %v", err)
	}
	if registered.Issuer != cfg.Issuer {
		t.Errorf("Issuer = %q, want %q", registered.Issuer, cfg.Issuer)
	}
	if len(registered.Audience) != 1 || registered.Audience[0] != "downstream-service" {
		t.Errorf("Audience = %v, want [downstream-service]", registered.Audience)
	}
	if raw["original_iss"] != "https://idp.example.com" {
		t.Errorf("original_iss = %v, want https://idp.example.com", raw["original_iss"])
	}
	if tok.Headers[0].KeyID != rec.KeyID {
		t.Errorf("kid header = %q, want %q", tok.Headers[0].KeyID, rec.KeyID)
	}
}

func TestIssuer_Issue_NoActiveKey(t *testing.T) {
	iss := New(&fakeKeySource{err: keys.ErrKeyNotFound})
	_, err := iss.Issue(context.Background(), validator.Result{Outcome: validator.OutcomeValid}, Config{}, "")
	if err != ErrIssuerUnavailable {
		t.Errorf("err = %v, want ErrIssuerUnavailable", err)
	}
}

func TestIssuer_Issue_KeyWithoutPrivateMaterial(t *testing.T) {
	rec := newActiveRecord(t)
	rec.PrivateKey = nil
	iss := New(&fakeKeySource{rec: rec})

	_, err := iss.Issue(context.Background(), validator.Result{Outcome: validator.OutcomeValid}, Config{}, "")
	if err != ErrIssuerUnavailable {
		t.Errorf("err = %v, want ErrIssuerUnavailable when the active record has no private key", err)
	}
}

func TestIssuer_Issue_DefaultAudienceFromConfig(t *testing.T) {
	rec := newActiveRecord(t)
	iss := New(&fakeKeySource{rec: rec})
	cfg := Config{Issuer: "https://tollgate.example.com", TokenTTL: time.Minute, Audience: "default-aud"}

	out, err := iss.Issue(context.Background(), validator.Result{Outcome: validator.OutcomeValid, Subject: "user-1"}, cfg, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tok, err := jwt.ParseSigned(out.JWS, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		t.Fatalf("parsing issued token: %v", err)
	}
	var registered jwt.Claims
	if err := tok.Claims(&rec.PrivateKey.PublicKey, &registered); err != nil {
		t.Fatalf("verifying issued token: %v", err)
	}
	if len(registered.Audience) != 1 || registered.Audience[0] != "default-aud" {
		t.Errorf("Audience = %v, want [default-aud] from config", registered.Audience)
	}
}

func TestIssuer_Issue_KeyIDFallback(t *testing.T) {
	deprecated := newActiveRecord(t)
	deprecated.KeyID = "fallback-1"
	deprecated.Status = keys.StatusDeprecated

	iss := New(&fakeKeySource{
		err:  keys.ErrKeyNotFound,
		byID: map[string]keys.Record{"fallback-1": deprecated},
	})
	cfg := Config{Issuer: "https://tollgate.example.com", TokenTTL: time.Minute, KeyIDFallback: "fallback-1"}

	out, err := iss.Issue(context.Background(), validator.Result{Outcome: validator.OutcomeValid, Subject: "user-1"}, cfg, "")
	if err != nil {
		t.Fatalf("Issue with fallback key: %v", err)
	}

	tok, err := jwt.ParseSigned(out.JWS, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		t.Fatalf("parsing issued token: %v", err)
	}
	if tok.Headers[0].KeyID != "fallback-1" {
		t.Errorf("kid header = %q, want fallback-1", tok.Headers[0].KeyID)
	}
}

func TestIssuer_Issue_FallbackMustHoldPrivateKey(t *testing.T) {
	stripped := newActiveRecord(t).WithoutPrivateKey()
	stripped.KeyID = "fallback-1"
	stripped.Status = keys.StatusDeprecated

	iss := New(&fakeKeySource{
		err:  keys.ErrKeyNotFound,
		byID: map[string]keys.Record{"fallback-1": stripped},
	})
	cfg := Config{KeyIDFallback: "fallback-1"}

	_, err := iss.Issue(context.Background(), validator.Result{Outcome: validator.OutcomeValid}, cfg, "")
	if err != ErrIssuerUnavailable {
		t.Errorf("err = %v, want ErrIssuerUnavailable when the fallback key has no private material", err)
	}
}
