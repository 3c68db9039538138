// Package configstore implements the tiered translation-config cache: an
// in-process LRU (L1), a distributed Redis cache (L2), and a Postgres
// primary store (L3).
package configstore

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/wisbric/tollgate/pkg/translate"
)

// Version is a single translation-config version. Exactly one version has
// Active=true at any moment; Version numbers increase monotonically; the
// active version is never deletable.
type Version struct {
	ID        string
	Version   int
	Schema    translate.Schema
	Active    bool
	CreatedBy string
	CreatedAt time.Time
	Comment   string
}

// MarshalSchema serializes the version's schema for storage.
func (v Version) MarshalSchema() ([]byte, error) {
	return json.Marshal(v.Schema)
}

var (
	ErrNotFound           = errors.New("configstore: version not found")
	ErrStorageUnavailable = errors.New("configstore: storage unavailable")
	ErrActiveNotDeletable = errors.New("configstore: active version cannot be deleted")
)
