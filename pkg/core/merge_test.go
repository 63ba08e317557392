package core

import (
	"context"
	"io"
	"testing"

	"github.com/canonical/maas-images/pkg/errors"
	"github.com/canonical/maas-images/pkg/model"
	"github.com/canonical/maas-images/pkg/status"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMergeRoots builds a populated daily source and an empty target, both on
// one in-memory filesystem.
func newMergeRoots(t *testing.T) (src, tgt *Root) {
	t.Helper()
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	src = OpenRoot(fs, "/src")
	tgt = OpenRoot(fs, "/target")

	sc := model.NewCatalog(srcCID, "image-downloads")
	require.NoError(t, Set(sc, model.NewPedigree(testProduct, "20140101", "root.tar.gz"),
		imageAttrs("daily", oldImagePath, oldImageSHA)))
	require.NoError(t, Set(sc, model.NewPedigree(testProduct, "20140201", "root.tar.gz"),
		imageAttrs("daily", newImagePath, newImageSHA)))
	Condense(sc, testSticky())
	require.NoError(t, src.WriteCatalog(ctx, sc))
	require.NoError(t, RefreshIndex(ctx, src))
	putFile(t, src.Store(), oldImagePath, oldImageBody)
	putFile(t, src.Store(), newImagePath, newImageBody)
	return src, tgt
}

func TestMergeIntoEmptyRoot(t *testing.T) {
	ctx := context.Background()
	src, tgt := newMergeRoots(t)

	res, err := Merge(ctx, src, tgt)
	require.NoError(t, err)
	assert.Equal(t, []string{srcCID}, res.StreamsCopied)
	assert.ElementsMatch(t, []string{oldImagePath, newImagePath}, res.FilesCopied)
	assert.Equal(t, int64(len(oldImageBody)+len(newImageBody)), res.BytesCopied)

	// backing files landed verbatim
	rdr, err := tgt.Store().Get(ctx, newImagePath)
	require.NoError(t, err)
	body, err := io.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, newImageBody, string(body))

	// the stream came over wholesale, items intact
	tc, err := tgt.LoadCatalog(ctx, model.StreamPath(srcCID))
	require.NoError(t, err)
	assert.Len(t, tc.Products[testProduct].Versions, 2)

	idx, err := tgt.LoadIndex(ctx)
	require.NoError(t, err)
	assert.Contains(t, idx.Index, srcCID)
}

func TestMergeHashConflictIsFatal(t *testing.T) {
	ctx := context.Background()
	src, tgt := newMergeRoots(t)

	// the target already claims oldImagePath under a different hash
	tc := model.NewCatalog(tgtCID, "image-downloads")
	require.NoError(t, Set(tc, model.NewPedigree(testProduct, "20140101", "root.tar.gz"),
		imageAttrs("candidate", oldImagePath, newImageSHA)))
	Condense(tc, testSticky())
	require.NoError(t, tgt.WriteCatalog(ctx, tc))

	_, err := Merge(ctx, src, tgt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrConsistency), "want ErrConsistency, got %v", err)

	// the merge aborted before writing anything
	has, err := tgt.Store().Has(ctx, model.StreamPath(srcCID))
	require.NoError(t, err)
	assert.False(t, has)
	has, err = tgt.Store().Has(ctx, newImagePath)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMergeSkipsItemsAlreadyInTarget(t *testing.T) {
	ctx := context.Background()
	src, tgt := newMergeRoots(t)

	// the target already holds the older image under the same hash
	tc := model.NewCatalog(tgtCID, "image-downloads")
	require.NoError(t, Set(tc, model.NewPedigree(testProduct, "20140101", "root.tar.gz"),
		imageAttrs("candidate", oldImagePath, oldImageSHA)))
	Condense(tc, testSticky())
	require.NoError(t, tgt.WriteCatalog(ctx, tc))
	putFile(t, tgt.Store(), oldImagePath, oldImageBody)

	res, err := Merge(ctx, src, tgt)
	require.NoError(t, err)
	assert.Equal(t, []string{newImagePath}, res.FilesCopied)
	assert.Equal(t, int64(len(newImageBody)), res.BytesCopied)
	assert.Equal(t, []string{srcCID}, res.StreamsCopied)

	// both streams now coexist in the target index
	idx, err := tgt.LoadIndex(ctx)
	require.NoError(t, err)
	assert.Contains(t, idx.Index, srcCID)
	assert.Contains(t, idx.Index, tgtCID)
}

func TestMergeDryRun(t *testing.T) {
	ctx := context.Background()
	src, tgt := newMergeRoots(t)

	res, err := Merge(ctx, src, tgt, WithMergeDryRun(true))
	require.NoError(t, err)
	assert.Equal(t, []string{srcCID}, res.StreamsCopied)
	assert.Len(t, res.FilesCopied, 2)

	// everything validated, nothing written
	for _, key := range []string{model.StreamPath(srcCID), oldImagePath, newImagePath, model.IndexPath()} {
		has, err := tgt.Store().Has(ctx, key)
		require.NoError(t, err)
		assert.False(t, has, key)
	}

	// dry-run still reads and hashes the source payload
	putFile(t, src.Store(), newImagePath, "tampered bytes")
	_, err = Merge(ctx, src, tgt, WithMergeDryRun(true))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrIntegrity))
}
