package keys

import (
	"context"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// Publisher exposes the verification key set (ACTIVE + DEPRECATED) as a JWKS
// document. Encoding follows RFC 7517 via go-jose: unsigned
// big-endian modulus/exponent, base64url without padding, leading
// two's-complement zero byte stripped automatically by the library.
type Publisher struct {
	store Store
}

// NewPublisher creates a Publisher over store.
func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

// JWKSDocument is the serialized shape of GET /auth/.well-known/jwks.json.
type JWKSDocument struct {
	Keys []jose.JSONWebKey `json:"keys"`
}

// PublicSet builds the current JWKS document from the verification-eligible
// keys (ACTIVE union DEPRECATED). Returns an empty set if key rotation is
// disabled or no keys exist yet, never an error for an empty result.
func (p *Publisher) PublicSet(ctx context.Context) (JWKSDocument, error) {
	records, err := p.store.FindAllForVerification(ctx)
	if err != nil {
		return JWKSDocument{}, fmt.Errorf("loading verification keys: %w", err)
	}

	doc := JWKSDocument{Keys: make([]jose.JSONWebKey, 0, len(records))}
	for _, r := range records {
		doc.Keys = append(doc.Keys, jose.JSONWebKey{
			Key:       r.PublicKey,
			KeyID:     r.KeyID,
			Algorithm: "RS256",
			Use:       "sig",
		})
	}
	return doc, nil
}
