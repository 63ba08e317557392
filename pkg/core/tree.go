// Package core implements the catalog mutation and promotion engine: tree
// primitives, cross-label diffing, patching, orphan collection and the sync
// writer protocol.
package core

import (
	"encoding/json"
	"sort"

	"github.com/canonical/maas-images/pkg/model"
	"github.com/canonical/maas-images/pkg/status"
)

// knownIntFields are coerced to json.Number on insertion so trees built in
// memory compare equal to trees reloaded from disk.
var knownIntFields = []string{"size"}

// fieldNameKeys are the synthetic address fields FlattenExdata can inject;
// Set strips them so they never land in the stored tree.
var fieldNameKeys = []string{"product_name", "version_name", "item_name"}

// DefaultStickyFields vary per item even when every other field is
// identical; Condense never lifts them to the product level.
var DefaultStickyFields = []string{
	"di_version", "kpackage", "sha256", "md5", "path", "ftype",
	"src_package", "src_version", "src_release",
}

// StickySet builds the lookup Condense expects from a field list.
func StickySet(fields []string) map[string]struct{} {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Set writes a flattened item at a pedigree, creating intermediate product
// and version nodes as needed. An existing item at that pedigree is
// overwritten unconditionally; cross-catalog hash consistency is the
// caller's responsibility.
func Set(c *model.Catalog, ped model.Pedigree, flat model.Attrs) error {
	if ped.Depth() != 3 {
		return status.ErrSchema.WrapMsg("set requires a full pedigree, got %q", ped)
	}
	p, ok := c.Products[ped.Product]
	if !ok {
		p = model.NewProduct()
		c.Products[ped.Product] = p
	}
	v, ok := p.Versions[ped.Version]
	if !ok {
		v = model.NewVersion()
		p.Versions[ped.Version] = v
	}
	attrs := flat.Clone()
	for _, k := range fieldNameKeys {
		delete(attrs, k)
	}
	for k, val := range attrs {
		attrs[k] = model.NormalizeScalar(val)
	}
	for _, k := range knownIntFields {
		if s, ok := attrs[k].(string); ok {
			attrs[k] = model.NormalizeScalar(atoiOr(s, attrs[k]))
		}
	}
	v.Items[ped.Item] = &model.Item{Attrs: attrs}
	return nil
}

// Delete removes the node addressed by the pedigree: an item, a whole
// version, or a whole product, depending on the pedigree depth. Emptied
// parents are left in place; removing them is Prune's job.
func Delete(c *model.Catalog, ped model.Pedigree) bool {
	p, ok := c.Products[ped.Product]
	if !ok {
		return false
	}
	if ped.Depth() == 1 {
		delete(c.Products, ped.Product)
		return true
	}
	v, ok := p.Versions[ped.Version]
	if !ok {
		return false
	}
	if ped.Depth() == 2 {
		delete(p.Versions, ped.Version)
		return true
	}
	if _, ok := v.Items[ped.Item]; !ok {
		return false
	}
	delete(v.Items, ped.Item)
	return true
}

// Prune removes versions with zero items, then products with zero versions
// unless preserveEmptyProducts is set.
func Prune(c *model.Catalog, preserveEmptyProducts bool) {
	for pname, p := range c.Products {
		for vname, v := range p.Versions {
			if len(v.Items) == 0 {
				delete(p.Versions, vname)
			}
		}
		if !preserveEmptyProducts && len(p.Versions) == 0 {
			delete(c.Products, pname)
		}
	}
}

// Condense lifts fields that hold an identical value across every child up
// one level: first item fields constant within a version, then version
// fields constant within a product. Fields in sticky are never lifted.
// Condense is idempotent and does not change the flattened view of any
// pedigree.
func Condense(c *model.Catalog, sticky map[string]struct{}) {
	for _, p := range c.Products {
		for _, v := range p.Versions {
			children := make([]model.Attrs, 0, len(v.Items))
			for _, it := range v.Items {
				children = append(children, it.Attrs)
			}
			liftConstant(v.Attrs, children, sticky)
		}
		children := make([]model.Attrs, 0, len(p.Versions))
		for _, v := range p.Versions {
			children = append(children, v.Attrs)
		}
		liftConstant(p.Attrs, children, sticky)
	}
}

// liftConstant moves fields present with an equal, non-nil value in every
// child into parent, removing them from the children.
func liftConstant(parent model.Attrs, children []model.Attrs, sticky map[string]struct{}) {
	if len(children) == 0 {
		return
	}
	candidates := model.Attrs{}
	for k, v := range children[0] {
		if v == nil {
			continue
		}
		if _, isSticky := sticky[k]; isSticky {
			continue
		}
		candidates[k] = v
	}
	for _, child := range children[1:] {
		for k, v := range candidates {
			cv, ok := child[k]
			if !ok || !model.ScalarEqual(cv, v) {
				delete(candidates, k)
			}
		}
	}
	for k, v := range candidates {
		parent[k] = v
		for _, child := range children {
			delete(child, k)
		}
	}
}

// FlattenExdata reconstructs the fully-expanded field set for one pedigree,
// merging catalog, product, version and item fields with the most specific
// level winning. It is the inverse of Condense and the read path for every
// diff, patch and report operation. With insertFieldnames the address
// components are injected as product_name/version_name/item_name.
func FlattenExdata(c *model.Catalog, ped model.Pedigree, includeTop, insertFieldnames bool) model.Attrs {
	flat := model.Attrs{}
	if includeTop {
		for k, v := range c.TopAttrs() {
			flat[k] = v
		}
	}
	p, ok := c.Products[ped.Product]
	if ok {
		for k, v := range p.Attrs {
			flat[k] = v
		}
	}
	if insertFieldnames {
		flat["product_name"] = ped.Product
	}
	if !ok || ped.Version == "" {
		return flat
	}
	v, ok := p.Versions[ped.Version]
	if ok {
		for k, av := range v.Attrs {
			flat[k] = av
		}
	}
	if insertFieldnames {
		flat["version_name"] = ped.Version
	}
	if !ok || ped.Item == "" {
		return flat
	}
	if it, ok := v.Items[ped.Item]; ok {
		for k, iv := range it.Attrs {
			flat[k] = iv
		}
	}
	if insertFieldnames {
		flat["item_name"] = ped.Item
	}
	return flat
}

// WalkFuncs carries the per-level callbacks for Walk. Nil callbacks are
// skipped.
type WalkFuncs struct {
	Product func(name string, p *model.Product) error
	Version func(ped model.Pedigree, v *model.Version) error
	Item    func(ped model.Pedigree, i *model.Item) error
}

// Walk traverses the tree in sorted key order so results merge
// deterministically.
func Walk(c *model.Catalog, w WalkFuncs) error {
	for _, pname := range sortedKeys(c.Products) {
		p := c.Products[pname]
		if w.Product != nil {
			if err := w.Product(pname, p); err != nil {
				return err
			}
		}
		for _, vname := range sortedKeys(p.Versions) {
			v := p.Versions[vname]
			if w.Version != nil {
				if err := w.Version(model.NewPedigree(pname, vname), v); err != nil {
					return err
				}
			}
			for _, iname := range sortedKeys(v.Items) {
				if w.Item != nil {
					if err := w.Item(model.NewPedigree(pname, vname, iname), v.Items[iname]); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// LatestVersion returns the lexically greatest version id of a product, or
// "". Version ids are date-like strings whose lexical order equals
// chronological order.
func LatestVersion(p *model.Product) string {
	latest := ""
	for v := range p.Versions {
		if v > latest {
			latest = v
		}
	}
	return latest
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func atoiOr(s string, fallback interface{}) interface{} {
	for _, r := range s {
		if r < '0' || r > '9' {
			return fallback
		}
	}
	if s == "" {
		return fallback
	}
	return json.Number(s)
}
