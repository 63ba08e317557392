package core

import (
	"context"
	"sort"

	"github.com/canonical/maas-images/pkg/model"
	"go.uber.org/zap"
)

// CatalogSyncSink is the contract a mirror-sync driver drives a catalog
// writer through. Filter callbacks are pure predicates over flattened
// pedigree data and may be called speculatively; InsertItem only stages, the
// actual tree mutation happens once, inside InsertProducts. Pedigrees are
// expressed in the source catalog's namespace throughout; a sink that writes
// under different identifiers owns the mapping.
type CatalogSyncSink interface {
	LoadTarget(ctx context.Context, contentID string) (*model.Catalog, error)
	FilterProduct(flat model.Attrs) bool
	FilterItem(flat model.Attrs) bool
	InsertItem(ped model.Pedigree, flat model.Attrs) error
	InsertProducts(ctx context.Context) error
	RemoveVersion(ped model.Pedigree) error
}

// Sync walks one source catalog against a sink: filtered inserts first, then
// removal of target versions the source no longer offers, then the single
// batched apply.
func Sync(ctx context.Context, src *model.Catalog, sink CatalogSyncSink) error {
	tgt, err := sink.LoadTarget(ctx, src.ContentID)
	if err != nil {
		return err
	}

	wanted := map[string]map[string]bool{}
	for _, pname := range sortedKeys(src.Products) {
		pflat := FlattenExdata(src, model.NewPedigree(pname), true, true)
		if !sink.FilterProduct(pflat) {
			continue
		}
		versions := map[string]bool{}
		p := src.Products[pname]
		for _, vname := range sortedKeys(p.Versions) {
			for _, iname := range sortedKeys(p.Versions[vname].Items) {
				ped := model.NewPedigree(pname, vname, iname)
				flat := FlattenExdata(src, ped, true, true)
				if !sink.FilterItem(flat) {
					continue
				}
				if err := sink.InsertItem(ped, flat); err != nil {
					return err
				}
				versions[vname] = true
			}
		}
		wanted[pname] = versions
	}

	// versions the target holds but the source no longer offers follow the
	// remove path. The insert walk never sees them, so the filters are
	// applied here: a version the filters would not have selected stays
	// untouched.
	for _, pname := range sortedKeys(tgt.Products) {
		pflat := FlattenExdata(tgt, model.NewPedigree(pname), true, true)
		if !sink.FilterProduct(pflat) {
			continue
		}
		for _, vname := range sortedKeys(tgt.Products[pname].Versions) {
			if wanted[pname][vname] {
				continue
			}
			ped := model.NewPedigree(pname, vname)
			if !sink.FilterItem(FlattenExdata(tgt, ped, true, true)) {
				continue
			}
			if err := sink.RemoveVersion(ped); err != nil {
				return err
			}
		}
	}

	return sink.InsertProducts(ctx)
}

type stagedItem struct {
	ped  model.Pedigree
	flat model.Attrs
}

// BareWriter is the plain sync sink: it loads the target stream under the
// source's own content id, stages inserts, applies removals, and commits
// everything in one prune+condense+write pass.
type BareWriter struct {
	root     *Root
	opts     *syncOptions
	target   *model.Catalog
	existing map[string]map[string]bool
	staged   []stagedItem
	removed  []model.Pedigree
}

// NewBareWriter builds a sink writing into the given catalog root.
func NewBareWriter(root *Root, opts ...SyncOption) *BareWriter {
	return &BareWriter{root: root, opts: defaultSyncOptions(opts)}
}

// LoadTarget reads the target stream. A missing or corrupt target recovers
// to an empty catalog rather than aborting the sync.
func (w *BareWriter) LoadTarget(ctx context.Context, contentID string) (*model.Catalog, error) {
	c, err := w.root.LoadCatalog(ctx, model.StreamPath(contentID))
	if err != nil {
		w.opts.l.Info("target stream unreadable, starting empty",
			zap.String("content_id", contentID),
			zap.Error(err),
		)
		c = model.NewCatalog(contentID, "")
	}
	w.target = c
	w.existing = map[string]map[string]bool{}
	for pname, p := range c.Products {
		w.existing[pname] = map[string]bool{}
		for vname := range p.Versions {
			w.existing[pname][vname] = true
		}
	}
	return c, nil
}

// FilterProduct accepts products matching every configured filter whose
// field exists at product level; item-level filters defer to FilterItem.
func (w *BareWriter) FilterProduct(flat model.Attrs) bool {
	return w.opts.filters.MatchesPresent(flat)
}

// FilterItem accepts items matching every configured filter.
func (w *BareWriter) FilterItem(flat model.Attrs) bool {
	return w.opts.filters.Matches(flat)
}

// InsertItem stages one flattened item. No tree mutation happens here.
func (w *BareWriter) InsertItem(ped model.Pedigree, flat model.Attrs) error {
	w.staged = append(w.staged, stagedItem{ped: ped, flat: flat.Clone()})
	return nil
}

// RemoveVersion drops a version from the target tree. The emptied parents
// are cleaned up by the final prune.
func (w *BareWriter) RemoveVersion(ped model.Pedigree) error {
	w.opts.l.Info("removing version",
		zap.String("product", ped.Product),
		zap.String("version", ped.Version),
	)
	Delete(w.target, model.NewPedigree(ped.Product, ped.Version))
	w.removed = append(w.removed, ped)
	return nil
}

// InsertProducts applies the staged items, trims to max-versions, prunes,
// condenses and writes the target stream with a regenerated index.
func (w *BareWriter) InsertProducts(ctx context.Context) error {
	if err := w.apply(); err != nil {
		return err
	}
	return w.writeOut(ctx, w.target)
}

// catalogLevelKeys are injected by the flattened view and never belong to an
// item node.
var catalogLevelKeys = []string{"content_id", "format", "datatype", "updated"}

func (w *BareWriter) apply() error {
	for _, st := range w.staged {
		if w.target.DataType == "" {
			w.target.DataType = st.flat.GetString("datatype")
		}
		for _, k := range catalogLevelKeys {
			delete(st.flat, k)
		}
		if err := Set(w.target, st.ped, st.flat); err != nil {
			return err
		}
	}
	w.trimVersions()
	Prune(w.target, false)
	Condense(w.target, StickySet(w.opts.sticky))
	return nil
}

// trimVersions keeps the newest maxVersions version ids per product,
// optionally exempting versions that predate this sync run.
func (w *BareWriter) trimVersions() {
	if w.opts.maxVersions <= 0 {
		return
	}
	for pname, p := range w.target.Products {
		vnames := sortedKeys(p.Versions)
		sort.Sort(sort.Reverse(sort.StringSlice(vnames)))
		kept := 0
		for _, vname := range vnames {
			if w.opts.keepExisting && w.existing[pname][vname] {
				continue
			}
			if kept < w.opts.maxVersions {
				kept++
				continue
			}
			w.opts.l.Debug("trimming version",
				zap.String("product", pname),
				zap.String("version", vname),
			)
			delete(p.Versions, vname)
		}
	}
}

func (w *BareWriter) writeOut(ctx context.Context, c *model.Catalog) error {
	c.Updated = model.Timestamp()
	if err := w.root.WriteCatalog(ctx, c); err != nil {
		return err
	}
	return RefreshIndex(ctx, w.root)
}

// InsertWriter is a BareWriter that only ever adds: versions the source
// dropped stay in the target until a clean-md run trims them.
type InsertWriter struct {
	*BareWriter
}

// NewInsertWriter builds a non-removing sink writing into the given root.
func NewInsertWriter(root *Root, opts ...SyncOption) *InsertWriter {
	return &InsertWriter{BareWriter: NewBareWriter(root, opts...)}
}

// RemoveVersion is a no-op.
func (w *InsertWriter) RemoveVersion(model.Pedigree) error {
	return nil
}

// PromotingWriter is a sync sink that writes under a different label than
// the source: content and product ids are relabeled and every inserted item
// is stamped with the target label. The driver keeps talking in the source
// namespace; the mapping lives entirely here.
type PromotingWriter struct {
	*BareWriter
	srcLabel    string
	targetLabel string
}

// NewPromotingWriter builds a relabeling sink writing into the given root.
func NewPromotingWriter(root *Root, srcLabel, targetLabel string, opts ...SyncOption) *PromotingWriter {
	return &PromotingWriter{
		BareWriter:  NewBareWriter(root, opts...),
		srcLabel:    srcLabel,
		targetLabel: targetLabel,
	}
}

// LoadTarget loads the relabeled counterpart stream and presents it to the
// driver in the source namespace, so presence comparisons line up.
func (w *PromotingWriter) LoadTarget(ctx context.Context, contentID string) (*model.Catalog, error) {
	tcid := model.Relabel(contentID, w.srcLabel, w.targetLabel)
	c, err := w.BareWriter.LoadTarget(ctx, tcid)
	if err != nil {
		return nil, err
	}
	back := w.relabelCatalog(c, w.targetLabel, w.srcLabel)
	w.target = back
	w.existing = map[string]map[string]bool{}
	for pname, p := range back.Products {
		w.existing[pname] = map[string]bool{}
		for vname := range p.Versions {
			w.existing[pname][vname] = true
		}
	}
	return back, nil
}

// InsertItem stamps the target label before staging.
func (w *PromotingWriter) InsertItem(ped model.Pedigree, flat model.Attrs) error {
	if w.targetLabel == "" {
		return w.BareWriter.InsertItem(ped, flat)
	}
	stamped := flat.Clone()
	stamped["label"] = w.targetLabel
	return w.BareWriter.InsertItem(ped, stamped)
}

// RemoveVersion is a no-op; a promotion only ever adds to the higher-label
// stream.
func (w *PromotingWriter) RemoveVersion(model.Pedigree) error {
	return nil
}

// InsertProducts applies in the source namespace, then relabels the whole
// tree forward and writes it under the target content id.
func (w *PromotingWriter) InsertProducts(ctx context.Context) error {
	if err := w.apply(); err != nil {
		return err
	}
	out := w.relabelCatalog(w.target, w.srcLabel, w.targetLabel)
	return w.writeOut(ctx, out)
}

func (w *PromotingWriter) relabelCatalog(c *model.Catalog, from, to string) *model.Catalog {
	out := model.NewCatalog(model.Relabel(c.ContentID, from, to), c.DataType)
	out.Updated = c.Updated
	for k, v := range c.Attrs {
		out.Attrs[k] = v
	}
	for pname, p := range c.Products {
		out.Products[model.Relabel(pname, from, to)] = p
	}
	return out
}

// DryRunWriter records what a sync would download and remove without
// touching the target root. It previews whichever real sink the run would
// use, so a promoting preview loads the relabeled counterpart stream and an
// insert preview never reports removals.
type DryRunWriter struct {
	*PromotingWriter
	removes   bool
	Downloads []string
	Removals  []model.Pedigree
}

// NewDryRunWriter previews a removing sync, the BareWriter kind.
func NewDryRunWriter(root *Root, opts ...SyncOption) *DryRunWriter {
	return &DryRunWriter{
		PromotingWriter: NewPromotingWriter(root, "", "", opts...),
		removes:         true,
	}
}

// NewInsertDryRunWriter previews an insert-only sync.
func NewInsertDryRunWriter(root *Root, opts ...SyncOption) *DryRunWriter {
	w := NewDryRunWriter(root, opts...)
	w.removes = false
	return w
}

// NewPromotingDryRunWriter previews a promotion, loading the target under
// the relabeled content id the way the real PromotingWriter would.
func NewPromotingDryRunWriter(root *Root, srcLabel, targetLabel string, opts ...SyncOption) *DryRunWriter {
	return &DryRunWriter{
		PromotingWriter: NewPromotingWriter(root, srcLabel, targetLabel, opts...),
	}
}

// InsertItem records the backing file the sync would fetch. Versions the
// target already holds are not downloads.
func (w *DryRunWriter) InsertItem(ped model.Pedigree, flat model.Attrs) error {
	if !w.existing[ped.Product][ped.Version] {
		if p := flat.GetString("path"); p != "" {
			w.Downloads = append(w.Downloads, p)
		}
	}
	return w.PromotingWriter.InsertItem(ped, flat)
}

// RemoveVersion records the removal without mutating the target.
func (w *DryRunWriter) RemoveVersion(ped model.Pedigree) error {
	if !w.removes {
		return nil
	}
	w.Removals = append(w.Removals, model.NewPedigree(ped.Product, ped.Version))
	return nil
}

// InsertProducts applies in memory only, so the run surfaces schema errors,
// and writes nothing.
func (w *DryRunWriter) InsertProducts(_ context.Context) error {
	return w.apply()
}
