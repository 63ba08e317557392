package model

import (
	"encoding/json"
	"testing"

	"github.com/canonical/maas-images/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalogJSON = `{
 "content_id": "com.ubuntu.maas:candidate:v2:download",
 "datatype": "image-downloads",
 "format": "products:1.0",
 "license": "http://www.canonical.com/intellectual-property-policy",
 "products": {
  "com.ubuntu.maas:v2:boot:14.04:amd64:ga-14.04": {
   "arch": "amd64",
   "os": "ubuntu",
   "release": "trusty",
   "versions": {
    "20140101": {
     "items": {
      "root-image.gz": {
       "ftype": "root-image.gz",
       "path": "trusty/amd64/20140101/root-image.gz",
       "sha256": "0f433f9a6abfc7b3e735b0c87f322e6e2ca78ffa24a4e1facfbd49467e284b3b",
       "size": 12345
      }
     },
     "label": "candidate"
    }
   }
  }
 },
 "updated": "Wed, 01 Jan 2014 00:00:00 +0000"
}
`

func TestLoadSerializeRoundTrip(t *testing.T) {
	c, err := Load([]byte(testCatalogJSON))
	require.NoError(t, err)
	assert.Equal(t, "com.ubuntu.maas:candidate:v2:download", c.ContentID)
	assert.Equal(t, ProductsFormat, c.Format)
	assert.Equal(t, "image-downloads", c.DataType)
	assert.Contains(t, c.Attrs, "license")

	out, err := Serialize(c)
	require.NoError(t, err)
	assert.Equal(t, testCatalogJSON, string(out))

	// repeated serialization of an unmodified catalog is byte-identical
	again, err := Serialize(c)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestSerializeDoesNotEscapeURLs(t *testing.T) {
	c := NewCatalog("com.ubuntu.maas:daily:v2:download", "image-downloads")
	c.Attrs["support_url"] = "https://maas.io/?utm_source=stream&utm_medium=json"

	out, err := Serialize(c)
	require.NoError(t, err)
	assert.Contains(t, string(out), "stream&utm_medium")
	assert.NotContains(t, string(out), `\u0026`)

	// the unescaped form still round-trips
	again, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, c.Attrs["support_url"], again.Attrs["support_url"])
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	_, err := Load([]byte(`{"format": "products:2.0", "products": {}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrFormat)

	_, err = Load([]byte(`{"products": {}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrFormat)

	_, err = Load([]byte(`not json`))
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrFormat)
}

func TestLoadRejectsBadSchema(t *testing.T) {
	_, err := Load([]byte(`{"format": "products:1.0", "products": ["a"]}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrSchema)

	_, err = Load([]byte(`{"format": "products:1.0", "products": {"p": {"versions": 3}}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrSchema)
}

func TestNumbersSurviveRoundTrip(t *testing.T) {
	c, err := Load([]byte(testCatalogJSON))
	require.NoError(t, err)
	item := c.Products["com.ubuntu.maas:v2:boot:14.04:amd64:ga-14.04"].
		Versions["20140101"].Items["root-image.gz"]
	assert.Equal(t, json.Number("12345"), item.Attrs["size"])
	assert.Equal(t, NormalizeScalar(12345), item.Attrs["size"])
}
