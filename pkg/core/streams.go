package core

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/canonical/maas-images/pkg/model"
	"github.com/canonical/maas-images/pkg/status"
	"github.com/canonical/maas-images/pkg/storage"
	"github.com/canonical/maas-images/pkg/storage/localfs"
	"github.com/spf13/afero"
)

// Root is one catalog root: a store holding streams/v1 metadata and,
// usually, the data files the catalogs reference.
type Root struct {
	store    storage.Store
	verifier StreamVerifier
}

// StreamVerifier checks a clearsigned stream document against a keyring and
// returns the embedded payload.
type StreamVerifier interface {
	Verify(ctx context.Context, signed []byte) ([]byte, error)
}

// OpenRoot opens a catalog root on a local filesystem directory. A nil fs
// means the OS filesystem.
func OpenRoot(fs afero.Fs, dir string) *Root {
	return &Root{store: localfs.New(fs, dir)}
}

// RootFromStore wraps an arbitrary store (e.g. an HTTP mirror) as a catalog
// root.
func RootFromStore(store storage.Store) *Root {
	return &Root{store: store}
}

// Store exposes the underlying store for file-level operations.
func (r *Root) Store() storage.Store {
	return r.store
}

// SetVerifier makes every catalog load go through the clearsigned .sjson
// variant instead of the plain .json file. A stream without a valid
// signature then fails to load; verification failures are integrity errors.
func (r *Root) SetVerifier(v StreamVerifier) {
	r.verifier = v
}

// StreamPaths lists the product-stream files under streams/v1, sorted,
// excluding the master index. Roots that cannot list keys (HTTP mirrors)
// are resolved through their index file instead.
func (r *Root) StreamPaths(ctx context.Context) ([]string, error) {
	keys, err := r.store.KeysPrefix(ctx, model.StreamDir)
	if err != nil {
		return r.streamPathsFromIndex(ctx)
	}
	paths := make([]string, 0, len(keys))
	for _, k := range keys {
		if !strings.HasSuffix(k, ".json") || k == model.IndexPath() {
			continue
		}
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths, nil
}

func (r *Root) streamPathsFromIndex(ctx context.Context) ([]string, error) {
	idx, err := r.LoadIndex(ctx)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(idx.Index))
	for _, entry := range idx.Index {
		if entry.Path != "" {
			paths = append(paths, entry.Path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadIndex reads and parses the master index.
func (r *Root) LoadIndex(ctx context.Context) (*model.Index, error) {
	rdr, err := r.store.Get(ctx, model.IndexPath())
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rdr.Close()
	}()
	b, err := io.ReadAll(rdr)
	if err != nil {
		return nil, err
	}
	var idx model.Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return nil, status.ErrFormat.Wrap(err)
	}
	if idx.Format != model.IndexFormat {
		return nil, status.ErrFormat.WrapMsg("index format %q", idx.Format)
	}
	return &idx, nil
}

// LoadCatalog reads and parses one catalog file by path, going through the
// signed variant when a verifier is set.
func (r *Root) LoadCatalog(ctx context.Context, path string) (*model.Catalog, error) {
	b, err := r.readStream(ctx, path)
	if err != nil {
		return nil, err
	}
	return model.Load(b)
}

func (r *Root) readStream(ctx context.Context, path string) ([]byte, error) {
	key := path
	if r.verifier != nil {
		key = model.SignedPath(path)
	}
	rdr, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rdr.Close()
	}()
	b, err := io.ReadAll(rdr)
	if err != nil {
		return nil, err
	}
	if r.verifier == nil {
		return b, nil
	}
	payload, err := r.verifier.Verify(ctx, b)
	if err != nil {
		return nil, status.ErrIntegrity.Wrap(err)
	}
	return payload, nil
}

// LoadAll loads every product stream in the root, keyed by content id.
func (r *Root) LoadAll(ctx context.Context) (map[string]*model.Catalog, error) {
	paths, err := r.StreamPaths(ctx)
	if err != nil {
		return nil, err
	}
	catalogs := make(map[string]*model.Catalog, len(paths))
	for _, p := range paths {
		c, err := r.LoadCatalog(ctx, p)
		if err != nil {
			return nil, err
		}
		if c.ContentID == "" {
			continue
		}
		catalogs[c.ContentID] = c
	}
	return catalogs, nil
}

// WriteCatalog serializes a catalog to its canonical path.
func (r *Root) WriteCatalog(ctx context.Context, c *model.Catalog) error {
	b, err := model.Serialize(c)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, model.StreamPath(c.ContentID), strings.NewReader(string(b)), storage.OverWrite)
}
