package core

import (
	"context"
	"encoding/json"

	"github.com/canonical/maas-images/pkg/errors"
	"github.com/canonical/maas-images/pkg/model"
	"github.com/canonical/maas-images/pkg/status"
	"github.com/canonical/maas-images/pkg/storage"
	"go.uber.org/zap"
)

// MergeResult reports what a merge run did (or, under dry-run, would do).
type MergeResult struct {
	StreamsCopied []string
	FilesCopied   []string
	BytesCopied   int64
}

// Merge folds every product stream of the source root into the target root:
// backing files are copied first, then the stream files land wholesale under
// their own content ids. Streams are never blended item by item; a path
// claimed by both roots with differing sha256 values aborts the whole merge
// before anything is written.
func Merge(ctx context.Context, src, target *Root, opts ...MergeOption) (*MergeResult, error) {
	o := defaultMergeOptions(opts)
	res := &MergeResult{}

	cats, err := src.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(cats) == 0 {
		return res, nil
	}
	seen, err := targetPathIndex(ctx, target)
	if err != nil {
		return nil, err
	}

	// validate every stream before copying a single byte
	type pendingFile struct {
		path string
		sha  string
		size int64
	}
	var pending []pendingFile
	for _, cid := range sortedKeys(cats) {
		c := cats[cid]
		walkErr := Walk(c, WalkFuncs{
			Item: func(ped model.Pedigree, _ *model.Item) error {
				flat := FlattenExdata(c, ped, false, false)
				path := flat.GetString("path")
				sha := flat.GetString("sha256")
				if path == "" || sha == "" {
					return status.ErrSchema.WrapMsg("item %s in %s lacks path or sha256", ped.String(), cid)
				}
				if known, ok := seen[path]; ok {
					if known != sha {
						return status.ErrConsistency.WrapMsg(
							"path %s already referenced with sha256 %s, stream %s declares %s",
							path, known, cid, sha)
					}
					return nil
				}
				seen[path] = sha
				var size int64
				if num, ok := flat["size"].(json.Number); ok {
					size, _ = num.Int64()
				}
				pending = append(pending, pendingFile{path: path, sha: sha, size: size})
				return nil
			},
		})
		if walkErr != nil {
			return nil, walkErr
		}
	}

	for _, f := range pending {
		o.l.Debug("copying item file",
			zap.String("path", f.path),
			zap.Bool("dry_run", o.dryRun),
		)
		if err := transferFile(ctx, src.Store(), target.Store(), nil, f.path, f.sha, o.dryRun); err != nil {
			return nil, err
		}
		res.FilesCopied = append(res.FilesCopied, f.path)
		res.BytesCopied += f.size
	}

	for _, cid := range sortedKeys(cats) {
		o.l.Info("copying stream", zap.String("content_id", cid), zap.Bool("dry_run", o.dryRun))
		if !o.dryRun {
			if err := target.WriteCatalog(ctx, cats[cid]); err != nil {
				return nil, err
			}
		}
		res.StreamsCopied = append(res.StreamsCopied, cid)
	}
	if o.dryRun {
		return res, nil
	}
	return res, RefreshIndex(ctx, target)
}

// targetPathIndex maps every path referenced by any target stream to its
// declared sha256. An empty or index-less target yields an empty map.
func targetPathIndex(ctx context.Context, target *Root) (map[string]string, error) {
	cats, err := target.LoadAll(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	idx := map[string]string{}
	for _, c := range cats {
		for p, sha := range pathIndex(c) {
			idx[p] = sha
		}
	}
	return idx, nil
}
