package gatewayapi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/wisbric/tollgate/pkg/keys"
)

// memStore is a minimal in-memory keys.Store, local to this package's tests
// so the HTTP layer can be exercised without a database.
type memStore struct {
	mu      sync.Mutex
	records map[string]keys.Record
}

func newMemStore() *memStore { return &memStore{records: make(map[string]keys.Record)} }

func (m *memStore) Store(_ context.Context, r keys.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.KeyID] = r
	return nil
}

func (m *memStore) FindByID(_ context.Context, kid string) (keys.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[kid]
	if !ok {
		return keys.Record{}, keys.ErrKeyNotFound
	}
	return r, nil
}

func (m *memStore) FindActive(ctx context.Context) (keys.Record, error) {
	all, _ := m.FindByStatus(ctx, keys.StatusActive)
	if len(all) == 0 {
		return keys.Record{}, keys.ErrKeyNotFound
	}
	return all[0], nil
}

func (m *memStore) FindAllForVerification(ctx context.Context) ([]keys.Record, error) {
	active, _ := m.FindByStatus(ctx, keys.StatusActive)
	deprecated, _ := m.FindByStatus(ctx, keys.StatusDeprecated)
	return append(active, deprecated...), nil
}

func (m *memStore) FindByStatus(_ context.Context, s keys.Status) ([]keys.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []keys.Record
	for _, r := range m.records {
		if r.Status == s {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) UpdateStatus(_ context.Context, kid string, newStatus keys.Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[kid]
	if !ok {
		return keys.ErrKeyNotFound
	}
	r.Status = newStatus
	m.records[kid] = r
	return nil
}

func (m *memStore) Delete(_ context.Context, kid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, kid)
	return nil
}

func (m *memStore) FindAll(_ context.Context) ([]keys.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]keys.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) PromoteAndDeprecate(ctx context.Context, newKid, oldKid string, at time.Time) error {
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJWKSHandler_HandleJWKS(t *testing.T) {
	store := newMemStore()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	activatedAt := time.Now()
	_ = store.Store(context.Background(), keys.Record{
		KeyID:       "active-1",
		PublicKey:   &priv.PublicKey,
		PrivateKey:  priv,
		Status:      keys.StatusActive,
		ActivatedAt: &activatedAt,
	})

	publisher := keys.NewPublisher(store)
	handler := NewJWKSHandler(publisher, 5*time.Minute, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/auth/.well-known/jwks.json", nil)
	rec := httptest.NewRecorder()
	handler.HandleJWKS(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if cc := rec.Header().Get("Cache-Control"); cc == "" {
		t.Error("expected a Cache-Control header")
	}

	var doc keys.JWKSDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decoding JWKS response: %v", err)
	}
	if len(doc.Keys) != 1 || doc.Keys[0].KeyID != "active-1" {
		t.Errorf("doc.Keys = %+v, want one key with kid active-1", doc.Keys)
	}
}

func TestJWKSHandler_HandleJWKS_Empty(t *testing.T) {
	handler := NewJWKSHandler(keys.NewPublisher(newMemStore()), 5*time.Minute, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/auth/.well-known/jwks.json", nil)
	rec := httptest.NewRecorder()
	handler.HandleJWKS(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even with no keys published yet", rec.Code)
	}
}
