package core

import (
	"bytes"
	"context"
	"fmt"

	"github.com/canonical/maas-images/pkg/model"
	"github.com/canonical/maas-images/pkg/status"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v2"
)

// DiffDocument is the human-editable structural diff between two
// label-variants of a catalog set, keyed by source-side content id.
type DiffDocument map[string]*StreamDiff

// StreamDiff describes one product stream. A stream whose counterpart file
// is entirely missing carries NotMerged (the missing side's label) and no
// products.
type StreamDiff struct {
	NotMerged string                  `yaml:"not_merged,omitempty"`
	Products  map[string]*ProductDiff `yaml:",inline"`
}

// ProductDiff records which labels hold the product, which versions each
// label holds, and scalar fields whose values differ per label.
type ProductDiff struct {
	Labels   []string                          `yaml:"labels,omitempty"`
	Versions map[string]*VersionDiff           `yaml:"versions,omitempty"`
	Fields   map[string]map[string]interface{} `yaml:",inline"`
}

// VersionDiff records the labels holding one version.
type VersionDiff struct {
	Labels []string `yaml:"labels,omitempty"`
}

func (p *ProductDiff) empty() bool {
	return len(p.Labels) == 0 && len(p.Versions) == 0 && len(p.Fields) == 0
}

// Diff computes the structural diff between two catalog roots that share a
// content-id family but differ in their label token. Versions present on
// both sides with differing payloads abort with ErrConsistency: published
// versions are immutable.
func Diff(ctx context.Context, src, target *Root, opts ...DiffOption) (DiffDocument, error) {
	o := defaultDiffOptions(opts)

	srcCats, err := src.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	tgtCats, err := target.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	if o.srcLabel == "" || o.targetLabel == "" {
		if err := inferLabels(o, srcCats, tgtCats); err != nil {
			return nil, err
		}
	}
	o.l.Debug("diffing catalog sets",
		zap.String("src_label", o.srcLabel),
		zap.String("target_label", o.targetLabel),
	)

	doc := DiffDocument{}
	seen := map[string]bool{}
	for _, cid := range sortedKeys(srcCats) {
		tcid := model.Relabel(cid, o.srcLabel, o.targetLabel)
		seen[tcid] = true
		tc, ok := tgtCats[tcid]
		if !ok {
			doc[cid] = &StreamDiff{NotMerged: o.targetLabel}
			continue
		}
		sd, err := diffStream(srcCats[cid], tc, o)
		if err != nil {
			return nil, err
		}
		if len(sd.Products) > 0 {
			doc[cid] = sd
		}
	}
	for _, tcid := range sortedKeys(tgtCats) {
		if seen[tcid] {
			continue
		}
		cid := model.Relabel(tcid, o.targetLabel, o.srcLabel)
		doc[cid] = &StreamDiff{NotMerged: o.srcLabel}
	}
	return doc, nil
}

func inferLabels(o *diffOptions, srcCats, tgtCats map[string]*model.Catalog) error {
	if o.srcLabel == "" {
		o.srcLabel = labelOfAny(srcCats, o.knownLabels)
	}
	if o.targetLabel == "" {
		o.targetLabel = labelOfAny(tgtCats, o.knownLabels)
	}
	if o.srcLabel == "" || o.targetLabel == "" {
		return status.ErrNotFound.WrapMsg(
			"could not infer labels (src=%q target=%q); pass them explicitly",
			o.srcLabel, o.targetLabel)
	}
	return nil
}

func labelOfAny(cats map[string]*model.Catalog, known []string) string {
	for _, cid := range sortedKeys(cats) {
		if l := model.ContentIDLabel(cid, known); l != "" {
			return l
		}
	}
	return ""
}

// diffStream diffs two catalogs holding the same logical stream.
func diffStream(sc, tc *model.Catalog, o *diffOptions) (*StreamDiff, error) {
	sd := &StreamDiff{Products: map[string]*ProductDiff{}}
	seen := map[string]bool{}

	for _, pname := range sortedKeys(sc.Products) {
		tpname := model.Relabel(pname, o.srcLabel, o.targetLabel)
		seen[tpname] = true
		tp, ok := tc.Products[tpname]
		if !ok {
			sd.Products[pname] = &ProductDiff{Labels: oneSidedLabels(o, o.srcLabel)}
			continue
		}
		pd, err := diffProduct(sc, tc, pname, tpname, sc.Products[pname], tp, o)
		if err != nil {
			return nil, err
		}
		if !pd.empty() {
			sd.Products[pname] = pd
		}
	}
	for _, tpname := range sortedKeys(tc.Products) {
		if seen[tpname] {
			continue
		}
		pname := model.Relabel(tpname, o.targetLabel, o.srcLabel)
		sd.Products[pname] = &ProductDiff{Labels: oneSidedLabels(o, o.targetLabel)}
	}
	return sd, nil
}

// oneSidedLabels tags an entry that exists on one side only: both labels
// under promote, the originating label otherwise.
func oneSidedLabels(o *diffOptions, origin string) []string {
	if o.promote {
		return []string{o.srcLabel, o.targetLabel}
	}
	return []string{origin}
}

func diffProduct(sc, tc *model.Catalog, pname, tpname string, sp, tp *model.Product, o *diffOptions) (*ProductDiff, error) {
	pd := &ProductDiff{
		Versions: map[string]*VersionDiff{},
		Fields:   map[string]map[string]interface{}{},
	}

	// scalar product fields drifting between labels are reported
	// per-field; the label field itself differs by design
	fieldKeys := map[string]bool{}
	for k := range sp.Attrs {
		fieldKeys[k] = true
	}
	for k := range tp.Attrs {
		fieldKeys[k] = true
	}
	delete(fieldKeys, "label")
	masked := map[string]bool{"label": true}
	for _, k := range sortedKeys(fieldKeys) {
		sv, tv := sp.Attrs[k], tp.Attrs[k]
		if !model.ScalarEqual(sv, tv) {
			pd.Fields[k] = map[string]interface{}{
				o.srcLabel:    sv,
				o.targetLabel: tv,
			}
			masked[k] = true
		}
	}

	seen := map[string]bool{}
	for _, vname := range sortedKeys(sp.Versions) {
		seen[vname] = true
		_, ok := tp.Versions[vname]
		if !ok {
			pd.Versions[vname] = &VersionDiff{Labels: oneSidedLabels(o, o.srcLabel)}
			continue
		}
		equal, err := versionsEqual(sc, tc, pname, tpname, vname, masked)
		if err != nil {
			return nil, err
		}
		if !equal {
			// versions are immutable once published; two payloads under
			// one version id is corruption, not a diff
			return nil, status.ErrConsistency.WrapMsg(
				"version %s of %s differs between labels %s and %s",
				vname, pname, o.srcLabel, o.targetLabel)
		}
	}
	for _, vname := range sortedKeys(tp.Versions) {
		if seen[vname] || o.newVersionsOnly {
			continue
		}
		pd.Versions[vname] = &VersionDiff{Labels: oneSidedLabels(o, o.targetLabel)}
	}

	if o.latestOnly {
		collapseToLatest(pd, sp, tp, o)
	}
	if len(pd.Versions) == 0 {
		pd.Versions = nil
	}
	if len(pd.Fields) == 0 {
		pd.Fields = nil
	}
	return pd, nil
}

// versionsEqual compares the flattened items of one version id on both
// sides, ignoring masked fields (label, plus any field already reported as
// a per-label product difference).
func versionsEqual(sc, tc *model.Catalog, pname, tpname, vname string, masked map[string]bool) (bool, error) {
	sv := sc.Products[pname].Versions[vname]
	tv := tc.Products[tpname].Versions[vname]
	if len(sv.Items) != len(tv.Items) {
		return false, nil
	}
	for iname := range sv.Items {
		if _, ok := tv.Items[iname]; !ok {
			return false, nil
		}
		sflat := FlattenExdata(sc, model.NewPedigree(pname, vname, iname), false, false)
		tflat := FlattenExdata(tc, model.NewPedigree(tpname, vname, iname), false, false)
		if !attrsEqual(sflat, tflat, masked) {
			return false, nil
		}
	}
	return true, nil
}

func attrsEqual(a, b model.Attrs, masked map[string]bool) bool {
	for k, av := range a {
		if masked[k] {
			continue
		}
		bv, ok := b[k]
		if !ok || !model.ScalarEqual(av, bv) {
			return false
		}
	}
	for k := range b {
		if masked[k] {
			continue
		}
		if _, ok := a[k]; !ok {
			return false
		}
	}
	return true
}

// collapseToLatest keeps only the single newest missing version, and only
// when the target holds nothing strictly newer.
func collapseToLatest(pd *ProductDiff, sp, tp *model.Product, o *diffOptions) {
	latest := ""
	for vname, vd := range pd.Versions {
		if _, srcHas := sp.Versions[vname]; !srcHas {
			continue
		}
		if len(vd.Labels) > 0 && vname > latest {
			latest = vname
		}
	}
	if latest == "" || LatestVersion(tp) >= latest {
		pd.Versions = nil
		return
	}
	pd.Versions = map[string]*VersionDiff{
		latest: {Labels: oneSidedLabels(o, o.srcLabel)},
	}
}

// DiffMeta is rendered as the header comment block of a diff document.
type DiffMeta struct {
	Generator  string
	SrcRoot    string
	TargetRoot string
	Options    []string
	Timestamp  string
}

// MarshalDiff renders a diff document as YAML with its header comment
// block.
func MarshalDiff(doc DiffDocument, meta DiffMeta) ([]byte, error) {
	var buf bytes.Buffer
	if meta.Generator != "" {
		fmt.Fprintf(&buf, "# generator: %s\n", meta.Generator)
	}
	if meta.Timestamp != "" {
		fmt.Fprintf(&buf, "# timestamp: %s\n", meta.Timestamp)
	}
	if meta.SrcRoot != "" {
		fmt.Fprintf(&buf, "# src: %s\n", meta.SrcRoot)
	}
	if meta.TargetRoot != "" {
		fmt.Fprintf(&buf, "# target: %s\n", meta.TargetRoot)
	}
	for _, opt := range meta.Options {
		fmt.Fprintf(&buf, "# option: %s\n", opt)
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	buf.Write(b)
	return buf.Bytes(), nil
}

// ParseDiff reads a diff document, hand-authored or generated. Header
// comments are ignored by the YAML parser.
func ParseDiff(b []byte) (DiffDocument, error) {
	var doc DiffDocument
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, status.ErrFormat.Wrap(err)
	}
	return doc, nil
}
