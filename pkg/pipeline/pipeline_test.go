package pipeline

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/wisbric/tollgate/pkg/configstore"
	"github.com/wisbric/tollgate/pkg/issuer"
	"github.com/wisbric/tollgate/pkg/keys"
	"github.com/wisbric/tollgate/pkg/translate"
	"github.com/wisbric/tollgate/pkg/validator"
)

type fakeKeyResolver struct{ key any }

func (f *fakeKeyResolver) GetKey(_ context.Context, _, _ string) (any, error) {
	return f.key, nil
}

type fakeKeySource struct{ rec keys.Record }

func (f *fakeKeySource) FindActive(_ context.Context) (keys.Record, error) {
	return f.rec, nil
}

func (f *fakeKeySource) FindByID(_ context.Context, _ string) (keys.Record, error) {
	return keys.Record{}, keys.ErrKeyNotFound
}

type fakeConfigLoader struct {
	version configstore.Version
	err     error
}

func (f *fakeConfigLoader) GetActive(_ context.Context) (configstore.Version, error) {
	return f.version, f.err
}

type fakeRevocationChecker struct{ revoked bool }

func (f *fakeRevocationChecker) IsRevoked(_ context.Context, _, _ string, _ time.Time) bool {
	return f.revoked
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signTestToken(t *testing.T, priv *rsa.PrivateKey, claims jwt.Claims, extra map[string]any) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: priv}, (&jose.SignerOptions{}).WithHeader("kid", "idp-kid-1"))
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}
	raw, err := jwt.Signed(signer).Claims(claims).Claims(extra).Serialize()
	if err != nil {
		t.Fatalf("serializing token: %v", err)
	}
	return raw
}

func passthroughSchema() translate.Schema {
	return translate.Schema{
		Sources: []translate.Source{
			{Name: "roles", ClaimPath: "roles", Type: translate.SourceSpaceDelimited},
		},
		Defaults: translate.Defaults{IncludeUnmapped: true},
	}
}

func newTestPipeline(t *testing.T, idpKey *rsa.PrivateKey, cfg fakeConfigLoader, rev fakeRevocationChecker, degraded bool) *Pipeline {
	t.Helper()
	signingPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating signing key: %v", err)
	}
	keySource := &fakeKeySource{rec: keys.Record{
		KeyID:      "gw-kid-1",
		Status:     keys.StatusActive,
		PrivateKey: signingPriv,
		PublicKey:  &signingPriv.PublicKey,
	}}

	v := validator.New(&fakeKeyResolver{key: &idpKey.PublicKey})
	iss := issuer.New(keySource)
	providerCfg := validator.ProviderConfig{Issuer: "https://idp.example.com", Audiences: []string{"tollgate"}}
	issuerCfg := issuer.Config{Issuer: "https://tollgate.example.com", TokenTTL: 5 * time.Minute, ForwardedClaims: []string{"roles"}}

	return New(v, &rev, &cfg, iss, providerCfg, issuerCfg, degraded, testLogger())
}

func TestPipeline_Handle_Forwards(t *testing.T) {
	idpKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating idp key: %v", err)
	}
	now := time.Now()
	raw := signTestToken(t, idpKey, jwt.Claims{
		Issuer:   "https://idp.example.com",
		Subject:  "user-1",
		Audience: jwt.Audience{"tollgate"},
		Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
		IssuedAt: jwt.NewNumericDate(now),
		ID:       "jti-1",
	}, map[string]any{"roles": "admin"})

	p := newTestPipeline(t, idpKey,
		fakeConfigLoader{version: configstore.Version{Schema: passthroughSchema()}},
		fakeRevocationChecker{revoked: false},
		false,
	)

	out := p.Handle(context.Background(), raw, "downstream")
	if out.Decision != DecisionForward {
		t.Fatalf("Decision = %v, want Forward (reason %q)", out.Decision, out.Reason)
	}
	if out.Issued.JWS == "" {
		t.Error("expected an issued JWS on forward")
	}
	if _, ok := out.Claims.Roles["admin"]; !ok {
		t.Error("expected the 'admin' role to be present in translated claims")
	}
}

func TestPipeline_Handle_DeniesNoToken(t *testing.T) {
	idpKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	p := newTestPipeline(t, idpKey, fakeConfigLoader{}, fakeRevocationChecker{}, false)

	out := p.Handle(context.Background(), "", "")
	if out.Decision != DecisionDeny || out.StatusCode != 401 || out.Reason != "no_token" {
		t.Errorf("got %+v, want Deny/401/no_token", out)
	}
}

func TestPipeline_Handle_DeniesRevoked(t *testing.T) {
	idpKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating idp key: %v", err)
	}
	now := time.Now()
	raw := signTestToken(t, idpKey, jwt.Claims{
		Issuer:   "https://idp.example.com",
		Subject:  "user-1",
		Audience: jwt.Audience{"tollgate"},
		Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
		ID:       "jti-1",
	}, nil)

	p := newTestPipeline(t, idpKey, fakeConfigLoader{version: configstore.Version{Schema: passthroughSchema()}}, fakeRevocationChecker{revoked: true}, false)

	out := p.Handle(context.Background(), raw, "")
	if out.Decision != DecisionDeny || out.Reason != "revoked" {
		t.Errorf("got %+v, want Deny/revoked", out)
	}
}

func TestPipeline_Handle_NoActiveConfigDeniesIfNoMatch(t *testing.T) {
	idpKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating idp key: %v", err)
	}
	now := time.Now()
	raw := signTestToken(t, idpKey, jwt.Claims{
		Issuer:   "https://idp.example.com",
		Subject:  "user-1",
		Audience: jwt.Audience{"tollgate"},
		Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
		ID:       "jti-1",
	}, nil)

	p := newTestPipeline(t, idpKey, fakeConfigLoader{err: configstore.ErrNotFound}, fakeRevocationChecker{}, false)

	out := p.Handle(context.Background(), raw, "")
	if out.Decision != DecisionDeny || out.StatusCode != 401 || out.Reason != "no_match" {
		t.Errorf("got %+v, want Deny/401/no_match when no active config exists and claims translate to nothing", out)
	}
}

func TestPipeline_Handle_DegradedModeForwardsOriginalOnIssuerFailure(t *testing.T) {
	idpKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating idp key: %v", err)
	}
	now := time.Now()
	raw := signTestToken(t, idpKey, jwt.Claims{
		Issuer:   "https://idp.example.com",
		Subject:  "user-1",
		Audience: jwt.Audience{"tollgate"},
		Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
		ID:       "jti-1",
	}, map[string]any{"roles": "admin"})

	v := validator.New(&fakeKeyResolver{key: &idpKey.PublicKey})
	// No active signing key: issuer.Issue will fail with ErrIssuerUnavailable.
	iss := issuer.New(&fakeKeySource{rec: keys.Record{Status: keys.StatusPending}})
	providerCfg := validator.ProviderConfig{Issuer: "https://idp.example.com", Audiences: []string{"tollgate"}}
	p := New(v, &fakeRevocationChecker{}, &fakeConfigLoader{version: configstore.Version{Schema: passthroughSchema()}}, iss, providerCfg, issuer.Config{}, true, testLogger())

	out := p.Handle(context.Background(), raw, "")
	if out.Decision != DecisionForward || !out.Degraded || out.Original != raw {
		t.Errorf("got %+v, want a degraded forward of the original token", out)
	}
}

func TestPipeline_Handle_NonDegradedModeDeniesOnIssuerFailure(t *testing.T) {
	idpKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating idp key: %v", err)
	}
	now := time.Now()
	raw := signTestToken(t, idpKey, jwt.Claims{
		Issuer:   "https://idp.example.com",
		Subject:  "user-1",
		Audience: jwt.Audience{"tollgate"},
		Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
		ID:       "jti-1",
	}, map[string]any{"roles": "admin"})

	v := validator.New(&fakeKeyResolver{key: &idpKey.PublicKey})
	iss := issuer.New(&fakeKeySource{rec: keys.Record{Status: keys.StatusPending}})
	providerCfg := validator.ProviderConfig{Issuer: "https://idp.example.com", Audiences: []string{"tollgate"}}
	p := New(v, &fakeRevocationChecker{}, &fakeConfigLoader{version: configstore.Version{Schema: passthroughSchema()}}, iss, providerCfg, issuer.Config{}, false, testLogger())

	out := p.Handle(context.Background(), raw, "")
	if out.Decision != DecisionDeny || out.StatusCode != 503 || out.Reason != "issuer_unavailable" {
		t.Errorf("got %+v, want Deny/503/issuer_unavailable", out)
	}
}
