package jwkscache

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
)

func jwksServer(t *testing.T, kid string, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: pub, KeyID: kid, Algorithm: "RS256", Use: "sig"},
	}}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
}

func TestCache_GetKey_FetchesAndCaches(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	srv := jwksServer(t, "kid-1", &priv.PublicKey)
	defer srv.Close()

	c := New(nil, 5*time.Minute)
	key, err := c.GetKey(context.Background(), srv.URL, "kid-1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if _, ok := key.(*rsa.PublicKey); !ok {
		t.Errorf("GetKey returned %T, want *rsa.PublicKey", key)
	}
}

func TestCache_GetKey_UnknownKidAfterRefresh(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	srv := jwksServer(t, "kid-1", &priv.PublicKey)
	defer srv.Close()

	c := New(nil, 5*time.Minute)
	if _, err := c.GetKey(context.Background(), srv.URL, "kid-does-not-exist"); err == nil {
		t.Fatal("expected an error for a kid absent from the fetched set")
	}
}

func TestCache_GetKey_ServerUnreachable(t *testing.T) {
	c := New(nil, 5*time.Minute)
	if _, err := c.GetKey(context.Background(), "http://127.0.0.1:1", "kid-1"); err == nil {
		t.Fatal("expected an error when the JWKS endpoint is unreachable")
	}
}

func TestCache_GetKey_ServesStaleSetWithinGrace(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	var fail bool
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &priv.PublicKey, KeyID: "kid-1", Algorithm: "RS256", Use: "sig"},
	}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	defer srv.Close()

	c := New(nil, 5*time.Minute)
	if _, err := c.GetKey(context.Background(), srv.URL, "kid-1"); err != nil {
		t.Fatalf("initial GetKey: %v", err)
	}

	fail = true
	// kid-1 is already cached, so this must be served from the stale set
	// without needing a successful refresh.
	key, err := c.GetKey(context.Background(), srv.URL, "kid-1")
	if err != nil {
		t.Fatalf("GetKey while the backend is failing: %v", err)
	}
	if _, ok := key.(*rsa.PublicKey); !ok {
		t.Errorf("GetKey returned %T, want *rsa.PublicKey", key)
	}
}
