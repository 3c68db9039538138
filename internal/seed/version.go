package seed

import (
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/tollgate/pkg/configstore"
	"github.com/wisbric/tollgate/pkg/translate"
)

func newSeedVersion(schema translate.Schema) configstore.Version {
	return configstore.Version{
		ID:        uuid.NewString(),
		Version:   1,
		Schema:    schema,
		CreatedBy: "seed",
		CreatedAt: time.Now(),
		Comment:   "default pass-through config created by seed-keys bootstrap",
	}
}
