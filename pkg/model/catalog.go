// Package model holds the in-memory representation of a simplestreams
// product tree ("products:1.0" catalog) and its invariants.
package model

import (
	"encoding/json"
	"reflect"
	"strconv"
)

// ProductsFormat is the only catalog format understood by this engine.
const ProductsFormat = "products:1.0"

// Attrs is a bag of scalar fields attached to a tree node. Values are
// strings, bools or json.Number: integers inserted from Go code are
// normalized to json.Number so that a reloaded catalog compares equal to the
// tree that produced it.
type Attrs map[string]interface{}

// Clone returns a shallow copy. Values are scalars, so a shallow copy is a
// full copy.
func (a Attrs) Clone() Attrs {
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// GetString returns the field as a string, or "" when absent or non-string.
func (a Attrs) GetString(key string) string {
	s, _ := a[key].(string)
	return s
}

// NormalizeScalar converts Go integer values to json.Number. Other scalars
// pass through unchanged.
func NormalizeScalar(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return json.Number(strconv.FormatInt(int64(n), 10))
	case int64:
		return json.Number(strconv.FormatInt(n, 10))
	case uint64:
		return json.Number(strconv.FormatUint(n, 10))
	default:
		return v
	}
}

// ScalarEqual compares two attribute values. All supported scalar types are
// comparable; anything else falls back to a deep comparison.
func ScalarEqual(a, b interface{}) bool {
	ca, cb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ca.IsValid() && cb.IsValid() && ca.Comparable() && cb.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// Catalog is the top-level document for one content-id/label.
type Catalog struct {
	ContentID string
	Format    string
	DataType  string
	Updated   string
	Attrs     Attrs // remaining top-level scalar fields
	Products  map[string]*Product
}

// Product is a named image/kernel variant family holding a version history.
type Product struct {
	Attrs    Attrs
	Versions map[string]*Version
}

// Version is one immutable build/serial of a product.
type Version struct {
	Attrs Attrs
	Items map[string]*Item
}

// Item is one physical file's metadata (path, size, hash, type tag).
type Item struct {
	Attrs Attrs
}

// NewCatalog returns an empty products:1.0 catalog for a content id.
func NewCatalog(contentID, datatype string) *Catalog {
	return &Catalog{
		ContentID: contentID,
		Format:    ProductsFormat,
		DataType:  datatype,
		Attrs:     Attrs{},
		Products:  map[string]*Product{},
	}
}

// NewProduct returns an empty product node.
func NewProduct() *Product {
	return &Product{Attrs: Attrs{}, Versions: map[string]*Version{}}
}

// NewVersion returns an empty version node.
func NewVersion() *Version {
	return &Version{Attrs: Attrs{}, Items: map[string]*Item{}}
}

// NewItem returns an item node holding a copy of the given attributes.
func NewItem(attrs Attrs) *Item {
	return &Item{Attrs: attrs.Clone()}
}

// TopAttrs returns all scalar top-level fields, including the typed ones.
// This is what FlattenExdata merges in when includeTop is set.
func (c *Catalog) TopAttrs() Attrs {
	out := c.Attrs.Clone()
	out["content_id"] = c.ContentID
	out["format"] = c.Format
	if c.DataType != "" {
		out["datatype"] = c.DataType
	}
	if c.Updated != "" {
		out["updated"] = c.Updated
	}
	return out
}
