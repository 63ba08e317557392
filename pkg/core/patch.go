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

// PatchResult reports what a patch run did (or, under dry-run, would do).
type PatchResult struct {
	StreamsChanged  []string
	ProductsDeleted []string
	VersionsDeleted []model.Pedigree
	VersionsCopied  []model.Pedigree
	FieldsUpdated   []string
	BytesCopied     int64
}

// Patch applies a diff document to a target catalog root. The source root
// may be nil when the diff only removes or updates; a diff that adds
// versions without a source aborts with ErrNotFound. Any integrity or
// consistency failure aborts the whole patch with the target catalog file
// unwritten.
func Patch(ctx context.Context, doc DiffDocument, target, src *Root, opts ...PatchOption) (*PatchResult, error) {
	o := defaultPatchOptions(opts)
	if o.srcLabel == "" || o.targetLabel == "" {
		return nil, status.ErrNotFound.WrapMsg("patch requires source and target labels")
	}
	res := &PatchResult{}

	for _, cid := range sortedKeys(doc) {
		sd := doc[cid]
		if sd.NotMerged != "" {
			o.l.Info("stream not merged, skipping",
				zap.String("content_id", cid),
				zap.String("missing_label", sd.NotMerged),
			)
			continue
		}
		if err := patchStream(ctx, cid, sd, target, src, o, res); err != nil {
			return nil, err
		}
	}

	if len(res.StreamsChanged) > 0 && !o.dryRun {
		if err := RefreshIndex(ctx, target); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func patchStream(ctx context.Context, cid string, sd *StreamDiff, target, src *Root, o *patchOptions, res *PatchResult) error {
	tcid := model.Relabel(cid, o.srcLabel, o.targetLabel)
	logger := o.l.With(zap.String("content_id", tcid))

	tc, err := target.LoadCatalog(ctx, model.StreamPath(tcid))
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		if !streamAdds(sd, o.targetLabel) {
			logger.Debug("target stream absent and diff adds nothing, skipping")
			return nil
		}
		sc, err := loadSourceStream(ctx, src, cid)
		if err != nil {
			return err
		}
		// brand-new stream: relabel the source header
		tc = model.NewCatalog(tcid, sc.DataType)
		for k, v := range sc.Attrs {
			tc.Attrs[k] = v
		}
	default:
		return err
	}

	var sc *model.Catalog
	sourceStream := func() (*model.Catalog, error) {
		if sc != nil {
			return sc, nil
		}
		loaded, err := loadSourceStream(ctx, src, cid)
		if err != nil {
			return nil, err
		}
		sc = loaded
		return sc, nil
	}

	changed := false
	for _, pname := range sortedKeys(sd.Products) {
		pd := sd.Products[pname]
		tpname := model.Relabel(pname, o.srcLabel, o.targetLabel)

		if len(pd.Labels) > 0 && !containsString(pd.Labels, o.targetLabel) {
			if Delete(tc, model.NewPedigree(tpname)) {
				logger.Info("deleting product", zap.String("product", tpname))
				res.ProductsDeleted = append(res.ProductsDeleted, tpname)
				changed = true
			}
			continue
		}

		versions := pd.Versions
		if versions == nil && len(pd.Labels) > 0 && containsString(pd.Labels, o.targetLabel) {
			if _, ok := tc.Products[tpname]; !ok {
				// whole-product addition: every source version is copied
				scat, err := sourceStream()
				if err != nil {
					return err
				}
				sp, ok := scat.Products[pname]
				if !ok {
					return status.ErrNotFound.WrapMsg("product %s missing from source stream %s", pname, cid)
				}
				versions = map[string]*VersionDiff{}
				for vname := range sp.Versions {
					versions[vname] = &VersionDiff{Labels: []string{o.srcLabel, o.targetLabel}}
				}
			}
		}

		for _, vname := range sortedKeys(versions) {
			vd := versions[vname]
			_, inTarget := versionInTarget(tc, tpname, vname)
			hasLabel := containsString(vd.Labels, o.targetLabel)
			switch {
			case inTarget && !hasLabel:
				Delete(tc, model.NewPedigree(tpname, vname))
				logger.Info("deleting version", zap.String("product", tpname), zap.String("version", vname))
				res.VersionsDeleted = append(res.VersionsDeleted, model.NewPedigree(tpname, vname))
				changed = true
			case !inTarget && hasLabel:
				scat, err := sourceStream()
				if err != nil {
					return err
				}
				if err := copyVersion(ctx, scat, pname, vname, tc, tpname, target, src, o, res); err != nil {
					return err
				}
				res.VersionsCopied = append(res.VersionsCopied, model.NewPedigree(tpname, vname))
				changed = true
			}
		}

		for _, field := range sortedKeys(pd.Fields) {
			byLabel := pd.Fields[field]
			want, ok := byLabel[o.targetLabel]
			if !ok {
				continue
			}
			tp, ok := tc.Products[tpname]
			if !ok {
				continue
			}
			if !model.ScalarEqual(tp.Attrs[field], want) {
				logger.Info("updating product field",
					zap.String("product", tpname),
					zap.String("field", field),
				)
				if want == nil {
					delete(tp.Attrs, field)
				} else {
					tp.Attrs[field] = want
				}
				res.FieldsUpdated = append(res.FieldsUpdated, tpname+"."+field)
				changed = true
			}
		}
	}

	if !changed {
		return nil
	}
	res.StreamsChanged = append(res.StreamsChanged, tcid)
	Prune(tc, false)
	Condense(tc, StickySet(o.sticky))
	tc.Updated = model.Timestamp()
	if o.dryRun {
		logger.Info("dry-run: target catalog left unwritten")
		return nil
	}
	return target.WriteCatalog(ctx, tc)
}

// copyVersion pulls one version's items and backing files from the source
// stream into the target tree.
func copyVersion(ctx context.Context, sc *model.Catalog, pname, vname string, tc *model.Catalog, tpname string, target, src *Root, o *patchOptions, res *PatchResult) error {
	sp, ok := sc.Products[pname]
	if !ok {
		return status.ErrNotFound.WrapMsg("product %s missing from source stream %s", pname, sc.ContentID)
	}
	sv, ok := sp.Versions[vname]
	if !ok {
		return status.ErrNotFound.WrapMsg("version %s/%s missing from source stream %s", pname, vname, sc.ContentID)
	}

	targetPaths := pathIndex(tc)
	var srcStore storage.Store
	if src != nil {
		srcStore = src.Store()
	}

	for _, iname := range sortedKeys(sv.Items) {
		flat := FlattenExdata(sc, model.NewPedigree(pname, vname, iname), false, false)
		flat["label"] = o.targetLabel

		path := flat.GetString("path")
		sha := flat.GetString("sha256")
		if path == "" || sha == "" {
			return status.ErrSchema.WrapMsg("item %s/%s/%s lacks path or sha256", pname, vname, iname)
		}
		if known, ok := targetPaths[path]; ok && known != sha {
			return status.ErrConsistency.WrapMsg(
				"path %s already referenced with sha256 %s, source declares %s", path, known, sha)
		}

		if !o.skipFiles {
			o.l.Debug("copying item file",
				zap.String("path", path),
				zap.Bool("dry_run", o.dryRun),
			)
			if err := transferFile(ctx, srcStore, target.Store(), o.fallback, path, sha, o.dryRun); err != nil {
				return err
			}
			if num, ok := flat["size"].(json.Number); ok {
				if sz, err := num.Int64(); err == nil {
					res.BytesCopied += sz
				}
			}
		}

		if err := Set(tc, model.NewPedigree(tpname, vname, iname), flat); err != nil {
			return err
		}
		targetPaths[path] = sha
	}
	return nil
}

// pathIndex maps every path referenced by a catalog to its declared sha256.
func pathIndex(c *model.Catalog) map[string]string {
	idx := map[string]string{}
	_ = Walk(c, WalkFuncs{
		Item: func(ped model.Pedigree, _ *model.Item) error {
			flat := FlattenExdata(c, ped, false, false)
			if p := flat.GetString("path"); p != "" {
				idx[p] = flat.GetString("sha256")
			}
			return nil
		},
	})
	return idx
}

func loadSourceStream(ctx context.Context, src *Root, cid string) (*model.Catalog, error) {
	if src == nil {
		return nil, status.ErrNotFound.WrapMsg("diff adds content but no source root was supplied")
	}
	return src.LoadCatalog(ctx, model.StreamPath(cid))
}

func streamAdds(sd *StreamDiff, targetLabel string) bool {
	for _, pd := range sd.Products {
		if containsString(pd.Labels, targetLabel) {
			return true
		}
		for _, vd := range pd.Versions {
			if containsString(vd.Labels, targetLabel) {
				return true
			}
		}
	}
	return false
}

func versionInTarget(tc *model.Catalog, pname, vname string) (*model.Version, bool) {
	p, ok := tc.Products[pname]
	if !ok {
		return nil, false
	}
	v, ok := p.Versions[vname]
	return v, ok
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
