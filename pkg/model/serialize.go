package model

import (
	"bytes"
	"encoding/json"

	"github.com/canonical/maas-images/pkg/status"
)

// Load parses catalog bytes. Numbers are kept as json.Number so a
// load/serialize round trip is byte-identical. A missing or unrecognized
// format yields ErrFormat; a products entry that is not a map yields
// ErrSchema.
func Load(b []byte) (*Catalog, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, status.ErrFormat.Wrap(err)
	}

	format, _ := raw["format"].(string)
	if format != ProductsFormat {
		return nil, status.ErrFormat.WrapMsg("format %q", format)
	}

	c := &Catalog{
		Format:   format,
		Attrs:    Attrs{},
		Products: map[string]*Product{},
	}

	for k, v := range raw {
		switch k {
		case "format":
		case "content_id":
			c.ContentID, _ = v.(string)
		case "datatype":
			c.DataType, _ = v.(string)
		case "updated":
			c.Updated, _ = v.(string)
		case "products":
			products, ok := v.(map[string]interface{})
			if !ok {
				return nil, status.ErrSchema.WrapMsg("products is not a map in %q", c.ContentID)
			}
			for name, pv := range products {
				p, err := loadProduct(pv)
				if err != nil {
					return nil, err
				}
				c.Products[name] = p
			}
		default:
			c.Attrs[k] = v
		}
	}
	return c, nil
}

func loadProduct(v interface{}) (*Product, error) {
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil, status.ErrSchema.WrapMsg("product entry is not a map")
	}
	p := NewProduct()
	for k, fv := range raw {
		if k != "versions" {
			p.Attrs[k] = fv
			continue
		}
		versions, ok := fv.(map[string]interface{})
		if !ok {
			return nil, status.ErrSchema.WrapMsg("versions is not a map")
		}
		for name, vv := range versions {
			ver, err := loadVersion(vv)
			if err != nil {
				return nil, err
			}
			p.Versions[name] = ver
		}
	}
	return p, nil
}

func loadVersion(v interface{}) (*Version, error) {
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil, status.ErrSchema.WrapMsg("version entry is not a map")
	}
	ver := NewVersion()
	for k, fv := range raw {
		if k != "items" {
			ver.Attrs[k] = fv
			continue
		}
		items, ok := fv.(map[string]interface{})
		if !ok {
			return nil, status.ErrSchema.WrapMsg("items is not a map")
		}
		for name, iv := range items {
			attrs, ok := iv.(map[string]interface{})
			if !ok {
				return nil, status.ErrSchema.WrapMsg("item %q is not a map", name)
			}
			ver.Items[name] = &Item{Attrs: Attrs(attrs)}
		}
	}
	return ver, nil
}

// Serialize renders a catalog deterministically: sorted keys, 1-space
// indent, trailing newline. Serializing an unmodified catalog twice yields
// byte-identical output, which signature stability depends on.
func Serialize(c *Catalog) ([]byte, error) {
	b, err := c.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, b, "", " "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// marshalNoEscape is json.Marshal without HTML escaping, so URLs with query
// strings serialize verbatim instead of as & entities.
func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// MarshalJSON flattens the typed fields and the attribute bag into one
// object. Ordering is delegated to encoding/json's sorted map keys.
func (c *Catalog) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(c.Attrs)+5)
	for k, v := range c.Attrs {
		m[k] = v
	}
	m["content_id"] = c.ContentID
	m["format"] = c.Format
	if c.DataType != "" {
		m["datatype"] = c.DataType
	}
	if c.Updated != "" {
		m["updated"] = c.Updated
	}
	if c.Products == nil {
		m["products"] = map[string]*Product{}
	} else {
		m["products"] = c.Products
	}
	return marshalNoEscape(m)
}

// MarshalJSON renders product attrs plus the versions map.
func (p *Product) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(p.Attrs)+1)
	for k, v := range p.Attrs {
		m[k] = v
	}
	if len(p.Versions) > 0 {
		m["versions"] = p.Versions
	}
	return marshalNoEscape(m)
}

// MarshalJSON renders version attrs plus the items map.
func (v *Version) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(v.Attrs)+1)
	for k, av := range v.Attrs {
		m[k] = av
	}
	if len(v.Items) > 0 {
		m["items"] = v.Items
	}
	return marshalNoEscape(m)
}

// MarshalJSON renders the item attribute bag.
func (i *Item) MarshalJSON() ([]byte, error) {
	return marshalNoEscape(map[string]interface{}(i.Attrs))
}
