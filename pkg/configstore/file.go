package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/wisbric/tollgate/pkg/translate"
)

// ErrReadOnlySource is returned by write operations on a file-backed
// primary. The file is operator-managed; the admin surface cannot mutate it.
var ErrReadOnlySource = errors.New("configstore: config source is read-only")

// FilePrimary serves a single translation-config version from a JSON file
// on disk, for deployments that ship their mapping as configuration rather
// than database state. The document is re-read on every access so an edit
// takes effect after the cache tiers above it expire.
type FilePrimary struct {
	path string
}

// NewFilePrimary creates a FilePrimary reading from path.
func NewFilePrimary(path string) *FilePrimary {
	return &FilePrimary{path: path}
}

func (f *FilePrimary) load() (Version, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return Version{}, fmt.Errorf("%w: reading %s: %v", ErrStorageUnavailable, f.path, err)
	}

	var header struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return Version{}, fmt.Errorf("configstore: parsing %s: %w", f.path, err)
	}

	schema, err := translate.ParseSchema(raw)
	if err != nil {
		return Version{}, fmt.Errorf("configstore: %s: %w", f.path, err)
	}

	info, err := os.Stat(f.path)
	if err != nil {
		return Version{}, fmt.Errorf("%w: stating %s: %v", ErrStorageUnavailable, f.path, err)
	}

	return Version{
		ID:        "file",
		Version:   header.Version,
		Schema:    schema,
		Active:    true,
		CreatedBy: "file",
		CreatedAt: info.ModTime(),
	}, nil
}

func (f *FilePrimary) GetActive(_ context.Context) (Version, error) {
	return f.load()
}

func (f *FilePrimary) FindByID(_ context.Context, id string) (Version, error) {
	v, err := f.load()
	if err != nil {
		return Version{}, err
	}
	if id != v.ID {
		return Version{}, ErrNotFound
	}
	return v, nil
}

func (f *FilePrimary) FindByVersion(_ context.Context, n int) (Version, error) {
	v, err := f.load()
	if err != nil {
		return Version{}, err
	}
	if n != v.Version {
		return Version{}, ErrNotFound
	}
	return v, nil
}

func (f *FilePrimary) ListVersions(_ context.Context) ([]Version, error) {
	v, err := f.load()
	if err != nil {
		return nil, err
	}
	return []Version{v}, nil
}

func (f *FilePrimary) Save(context.Context, Version) error { return ErrReadOnlySource }

func (f *FilePrimary) SetActive(context.Context, string) error { return ErrReadOnlySource }

func (f *FilePrimary) Delete(context.Context, string) error { return ErrReadOnlySource }
