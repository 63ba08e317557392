package core

import (
	"context"
	"strings"
	"testing"

	"github.com/canonical/maas-images/pkg/model"
	"github.com/canonical/maas-images/pkg/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syncSource(t *testing.T, versions ...string) *model.Catalog {
	t.Helper()
	c := model.NewCatalog(srcCID, "image-downloads")
	for _, v := range versions {
		require.NoError(t, Set(c, model.NewPedigree(testProduct, v, "root.tar.gz"), model.Attrs{
			"ftype": "root.tar.gz", "arch": "amd64", "release": "trusty",
			"label": "daily", "path": "trusty/amd64/" + v + "/root.tar.gz",
			"sha256": "sha-" + v, "size": 100,
		}))
	}
	return c
}

func TestSyncIntoEmptyTarget(t *testing.T) {
	ctx := context.Background()
	root := OpenRoot(afero.NewMemMapFs(), "/target")
	src := syncSource(t, "20140101", "20140201")

	require.NoError(t, Sync(ctx, src, NewBareWriter(root)))

	c, err := root.LoadCatalog(ctx, model.StreamPath(srcCID))
	require.NoError(t, err)
	assert.Equal(t, "image-downloads", c.DataType)
	require.Contains(t, c.Products, testProduct)
	assert.Len(t, c.Products[testProduct].Versions, 2)
	assert.NotEmpty(t, c.Updated)

	idx, err := root.LoadIndex(ctx)
	require.NoError(t, err)
	assert.Contains(t, idx.Index, srcCID)
}

func TestSyncRecoversCorruptTarget(t *testing.T) {
	ctx := context.Background()
	root := OpenRoot(afero.NewMemMapFs(), "/target")
	putFile(t, root.Store(), model.StreamPath(srcCID), "{ not json")

	require.NoError(t, Sync(ctx, syncSource(t, "20140101"), NewBareWriter(root)))

	c, err := root.LoadCatalog(ctx, model.StreamPath(srcCID))
	require.NoError(t, err)
	assert.Contains(t, c.Products, testProduct)
}

func TestSyncRemovesStaleVersions(t *testing.T) {
	ctx := context.Background()
	root := OpenRoot(afero.NewMemMapFs(), "/target")
	require.NoError(t, Sync(ctx, syncSource(t, "20131201", "20140101"), NewBareWriter(root)))

	// the source moved on without 20131201
	require.NoError(t, Sync(ctx, syncSource(t, "20140101"), NewBareWriter(root)))

	c, err := root.LoadCatalog(ctx, model.StreamPath(srcCID))
	require.NoError(t, err)
	assert.NotContains(t, c.Products[testProduct].Versions, "20131201")
	assert.Contains(t, c.Products[testProduct].Versions, "20140101")
}

func TestSyncItemLevelFilter(t *testing.T) {
	ctx := context.Background()
	root := OpenRoot(afero.NewMemMapFs(), "/target")
	src := syncSource(t, "20140101")
	require.NoError(t, Set(src, model.NewPedigree(testProduct, "20140101", "boot-kernel"), model.Attrs{
		"ftype": "boot-kernel", "arch": "amd64", "release": "trusty",
		"label": "daily", "path": "trusty/amd64/20140101/boot-kernel",
		"sha256": "sha-k", "size": 10,
	}))

	// an item-level field in the filter must not exclude the whole product
	filters, err := ParseFilters([]string{"ftype=root.tar.gz"})
	require.NoError(t, err)
	require.NoError(t, Sync(ctx, src, NewBareWriter(root, WithSyncFilters(filters))))

	c, err := root.LoadCatalog(ctx, model.StreamPath(srcCID))
	require.NoError(t, err)
	items := c.Products[testProduct].Versions["20140101"].Items
	assert.Contains(t, items, "root.tar.gz")
	assert.NotContains(t, items, "boot-kernel")
}

func TestSyncProductFilterExcludes(t *testing.T) {
	ctx := context.Background()
	root := OpenRoot(afero.NewMemMapFs(), "/target")
	filters, err := ParseFilters([]string{"release=precise"})
	require.NoError(t, err)

	require.NoError(t, Sync(ctx, syncSource(t, "20140101"),
		NewBareWriter(root, WithSyncFilters(filters))))

	// nothing matched, so nothing was inserted; the stream is still written
	c, err := root.LoadCatalog(ctx, model.StreamPath(srcCID))
	require.NoError(t, err)
	assert.Empty(t, c.Products)
}

func TestSyncMaxVersions(t *testing.T) {
	ctx := context.Background()
	root := OpenRoot(afero.NewMemMapFs(), "/target")

	require.NoError(t, Sync(ctx, syncSource(t, "20140101", "20140201", "20140301"),
		NewBareWriter(root, WithSyncMaxVersions(2))))

	c, err := root.LoadCatalog(ctx, model.StreamPath(srcCID))
	require.NoError(t, err)
	versions := c.Products[testProduct].Versions
	assert.Len(t, versions, 2)
	assert.Contains(t, versions, "20140301")
	assert.Contains(t, versions, "20140201")
	assert.NotContains(t, versions, "20140101")
}

func TestSyncKeepExisting(t *testing.T) {
	ctx := context.Background()
	root := OpenRoot(afero.NewMemMapFs(), "/target")
	require.NoError(t, Sync(ctx, syncSource(t, "20131201"), NewBareWriter(root)))

	// the pre-existing version does not count against the cap
	require.NoError(t, Sync(ctx, syncSource(t, "20131201", "20140101", "20140201"),
		NewBareWriter(root, WithSyncMaxVersions(1), WithSyncKeepExisting(true))))

	c, err := root.LoadCatalog(ctx, model.StreamPath(srcCID))
	require.NoError(t, err)
	versions := c.Products[testProduct].Versions
	assert.Contains(t, versions, "20131201")
	assert.Contains(t, versions, "20140201")
	assert.NotContains(t, versions, "20140101")
}

func TestSyncRemovalRespectsFilters(t *testing.T) {
	ctx := context.Background()
	root := OpenRoot(afero.NewMemMapFs(), "/target")
	require.NoError(t, Sync(ctx, syncSource(t, "20131201", "20140101"), NewBareWriter(root)))

	// a run scoped to one version must not remove the others, even though
	// the source walk never offered them
	filters, err := ParseFilters([]string{"version_name=20140101"})
	require.NoError(t, err)
	require.NoError(t, Sync(ctx, syncSource(t, "20140101"),
		NewBareWriter(root, WithSyncFilters(filters))))

	c, err := root.LoadCatalog(ctx, model.StreamPath(srcCID))
	require.NoError(t, err)
	assert.Contains(t, c.Products[testProduct].Versions, "20131201")
	assert.Contains(t, c.Products[testProduct].Versions, "20140101")
}

func TestInsertWriterNeverRemoves(t *testing.T) {
	ctx := context.Background()
	root := OpenRoot(afero.NewMemMapFs(), "/target")
	require.NoError(t, Sync(ctx, syncSource(t, "20131201"), NewBareWriter(root)))

	// the source moved on, but an insert only ever adds
	require.NoError(t, Sync(ctx, syncSource(t, "20140101"), NewInsertWriter(root)))

	c, err := root.LoadCatalog(ctx, model.StreamPath(srcCID))
	require.NoError(t, err)
	assert.Contains(t, c.Products[testProduct].Versions, "20131201")
	assert.Contains(t, c.Products[testProduct].Versions, "20140101")
}

func TestPromoteScopedFilterKeepsOtherVersions(t *testing.T) {
	ctx := context.Background()
	root := OpenRoot(afero.NewMemMapFs(), "/target")
	src := syncSource(t, "20140101", "20140201")

	filters, err := ParseFilters([]string{"version_name=20140101"})
	require.NoError(t, err)
	require.NoError(t, Sync(ctx, src,
		NewPromotingWriter(root, "daily", "candidate", WithSyncFilters(filters))))

	// a later promotion scoped to 20140201 must leave 20140101 in place
	filters, err = ParseFilters([]string{"version_name=20140201"})
	require.NoError(t, err)
	require.NoError(t, Sync(ctx, src,
		NewPromotingWriter(root, "daily", "candidate", WithSyncFilters(filters))))

	c, err := root.LoadCatalog(ctx, model.StreamPath(tgtCID))
	require.NoError(t, err)
	require.Contains(t, c.Products, testProduct)
	assert.Contains(t, c.Products[testProduct].Versions, "20140101")
	assert.Contains(t, c.Products[testProduct].Versions, "20140201")
}

func TestPromotingWriter(t *testing.T) {
	ctx := context.Background()
	root := OpenRoot(afero.NewMemMapFs(), "/target")
	product := "com.ubuntu.maas:daily:boot:14.04:amd64"

	src := model.NewCatalog(srcCID, "image-downloads")
	require.NoError(t, Set(src, model.NewPedigree(product, "20140101", "root.tar.gz"), model.Attrs{
		"ftype": "root.tar.gz", "arch": "amd64", "release": "trusty",
		"label": "daily", "path": "trusty/amd64/20140101/root.tar.gz",
		"sha256": "sha-1", "size": 100,
	}))

	require.NoError(t, Sync(ctx, src, NewPromotingWriter(root, "daily", "candidate")))

	// written under the relabeled content id with relabeled product ids
	c, err := root.LoadCatalog(ctx, model.StreamPath(tgtCID))
	require.NoError(t, err)
	promoted := "com.ubuntu.maas:candidate:boot:14.04:amd64"
	require.Contains(t, c.Products, promoted)
	flat := FlattenExdata(c, model.NewPedigree(promoted, "20140101", "root.tar.gz"), false, false)
	assert.Equal(t, "candidate", flat["label"])
	assert.Equal(t, "sha-1", flat["sha256"])

	// a second promotion run over unchanged input is a no-op diff-wise
	require.NoError(t, Sync(ctx, src, NewPromotingWriter(root, "daily", "candidate")))
	c2, err := root.LoadCatalog(ctx, model.StreamPath(tgtCID))
	require.NoError(t, err)
	assert.Contains(t, c2.Products, promoted)
}

func TestDryRunWriter(t *testing.T) {
	ctx := context.Background()
	root := OpenRoot(afero.NewMemMapFs(), "/target")
	require.NoError(t, Sync(ctx, syncSource(t, "20131201"), NewBareWriter(root)))

	w := NewDryRunWriter(root)
	require.NoError(t, Sync(ctx, syncSource(t, "20140101"), w))

	assert.Equal(t, []string{"trusty/amd64/20140101/root.tar.gz"}, w.Downloads)
	assert.Equal(t, []model.Pedigree{model.NewPedigree(testProduct, "20131201")}, w.Removals)

	// the target stream on disk is untouched
	c, err := root.LoadCatalog(ctx, model.StreamPath(srcCID))
	require.NoError(t, err)
	assert.Contains(t, c.Products[testProduct].Versions, "20131201")
	assert.NotContains(t, c.Products[testProduct].Versions, "20140101")
}

func TestPromotingWriterReleaseConvention(t *testing.T) {
	ctx := context.Background()
	root := OpenRoot(afero.NewMemMapFs(), "/target")
	product := "com.ubuntu.maas.daily:v2:boot:14.04:amd64:ga-14.04"

	src := model.NewCatalog(srcCID, "image-downloads")
	require.NoError(t, Set(src, model.NewPedigree(product, "20140101", "root.tar.gz"), model.Attrs{
		"ftype": "root.tar.gz", "arch": "amd64", "release": "trusty",
		"label": "daily", "path": "trusty/amd64/20140101/root.tar.gz",
		"sha256": "sha-1", "size": 100,
	}))

	require.NoError(t, Sync(ctx, src, NewPromotingWriter(root, "daily", "release")))

	// release streams carry no label marker in their identifiers
	released := "com.ubuntu.maas:v2:boot:14.04:amd64:ga-14.04"
	c, err := root.LoadCatalog(ctx, model.StreamPath("com.ubuntu.maas:v2:download"))
	require.NoError(t, err)
	require.Contains(t, c.Products, released)
	flat := FlattenExdata(c, model.NewPedigree(released, "20140101", "root.tar.gz"), false, false)
	assert.Equal(t, "release", flat["label"])

	// a second run lines up with the existing release entries instead of
	// duplicating them under daily names
	require.NoError(t, Set(src, model.NewPedigree(product, "20140201", "root.tar.gz"), model.Attrs{
		"ftype": "root.tar.gz", "arch": "amd64", "release": "trusty",
		"label": "daily", "path": "trusty/amd64/20140201/root.tar.gz",
		"sha256": "sha-2", "size": 100,
	}))
	require.NoError(t, Sync(ctx, src, NewPromotingWriter(root, "daily", "release")))

	c2, err := root.LoadCatalog(ctx, model.StreamPath("com.ubuntu.maas:v2:download"))
	require.NoError(t, err)
	require.Len(t, c2.Products, 1)
	assert.Len(t, c2.Products[released].Versions, 2)
}

func TestPromotingDryRunWriter(t *testing.T) {
	ctx := context.Background()
	root := OpenRoot(afero.NewMemMapFs(), "/target")
	src := syncSource(t, "20140101", "20140201")

	filters, err := ParseFilters([]string{"version_name=20140101"})
	require.NoError(t, err)
	require.NoError(t, Sync(ctx, src,
		NewPromotingWriter(root, "daily", "candidate", WithSyncFilters(filters))))

	// the preview loads the relabeled counterpart stream, so the already
	// promoted version is not reported as a download
	w := NewPromotingDryRunWriter(root, "daily", "candidate")
	require.NoError(t, Sync(ctx, src, w))

	assert.Equal(t, []string{"trusty/amd64/20140201/root.tar.gz"}, w.Downloads)
	assert.Empty(t, w.Removals)

	// the target stream on disk is untouched
	c, err := root.LoadCatalog(ctx, model.StreamPath(tgtCID))
	require.NoError(t, err)
	assert.NotContains(t, c.Products[testProduct].Versions, "20140201")
}

func TestInsertDryRunWriterReportsNoRemovals(t *testing.T) {
	ctx := context.Background()
	root := OpenRoot(afero.NewMemMapFs(), "/target")
	require.NoError(t, Sync(ctx, syncSource(t, "20131201"), NewBareWriter(root)))

	w := NewInsertDryRunWriter(root)
	require.NoError(t, Sync(ctx, syncSource(t, "20140101"), w))

	assert.Equal(t, []string{"trusty/amd64/20140101/root.tar.gz"}, w.Downloads)
	assert.Empty(t, w.Removals)
}

func TestSyncDataTypeBackfill(t *testing.T) {
	ctx := context.Background()
	root := OpenRoot(afero.NewMemMapFs(), "/target")
	src := syncSource(t, "20140101")

	require.NoError(t, Sync(ctx, src, NewBareWriter(root)))

	rdr, err := root.Store().Get(ctx, model.StreamPath(srcCID))
	require.NoError(t, err)
	defer func() { _ = rdr.Close() }()
	var sb strings.Builder
	_, err = storage.PipeIO(&sb, rdr)
	require.NoError(t, err)
	assert.Contains(t, sb.String(), `"datatype": "image-downloads"`)
}
