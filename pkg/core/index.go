package core

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/canonical/maas-images/pkg/model"
	"github.com/canonical/maas-images/pkg/storage"
)

// CreateIndex regenerates the master index by scanning every catalog file
// in a root. Files that are not products:1.0 catalogs (including a previous
// index) are skipped.
func CreateIndex(ctx context.Context, r *Root) (*model.Index, error) {
	idx := model.NewIndex()
	paths, err := r.StreamPaths(ctx)
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		c, err := r.LoadCatalog(ctx, path)
		if err != nil {
			// not a catalog; the index only references product streams
			continue
		}
		if c.ContentID == "" {
			continue
		}
		entry := model.IndexEntry{
			DataType: c.DataType,
			Format:   c.Format,
			Updated:  c.Updated,
			Path:     path,
			Products: sortedKeys(c.Products),
		}
		idx.Index[c.ContentID] = entry
	}
	return idx, nil
}

// WriteIndex serializes an index deterministically to streams/v1/index.json.
func WriteIndex(ctx context.Context, r *Root, idx *model.Index) error {
	b, err := json.MarshalIndent(idx, "", " ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return r.Store().Put(ctx, model.IndexPath(), strings.NewReader(string(b)), storage.OverWrite)
}

// RefreshIndex rebuilds and writes the master index for a root.
func RefreshIndex(ctx context.Context, r *Root) error {
	idx, err := CreateIndex(ctx, r)
	if err != nil {
		return err
	}
	return WriteIndex(ctx, r, idx)
}
