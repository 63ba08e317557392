package core

import (
	"context"
	"testing"
	"time"

	"github.com/canonical/maas-images/pkg/model"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	referencedPath = "trusty/amd64/20140101/root.tar.gz"
	stalePath      = "precise/amd64/20120101/root.tar.gz"
)

// newOrphanRoot builds a data root whose catalog references one file while a
// second, stale file sits unreferenced beside it.
func newOrphanRoot(t *testing.T) *Root {
	t.Helper()
	ctx := context.Background()
	data := OpenRoot(afero.NewMemMapFs(), "/data")

	c := model.NewCatalog(tgtCID, "image-downloads")
	require.NoError(t, Set(c, model.NewPedigree(testProduct, "20140101", "root.tar.gz"), model.Attrs{
		"ftype": "root.tar.gz", "path": referencedPath, "sha256": "aaa", "size": 100,
	}))
	require.NoError(t, data.WriteCatalog(ctx, c))
	putFile(t, data.Store(), referencedPath, "live bytes")
	putFile(t, data.Store(), stalePath, "stale bytes")
	return data
}

func fixedClock(at time.Time) OrphanOption {
	return WithOrphanClock(func() time.Time { return at })
}

func TestParseGrace(t *testing.T) {
	for _, fix := range []struct {
		in   string
		want time.Duration
		bad  bool
	}{
		{in: "", want: DefaultGrace},
		{in: "3", want: 72 * time.Hour},
		{in: "3d", want: 72 * time.Hour},
		{in: "1d12h", want: 36 * time.Hour},
		{in: "90m", want: 90 * time.Minute},
		{in: "45s", want: 45 * time.Second},
		{in: "1d12", want: 13 * 24 * time.Hour}, // trailing bare digits count days
		{in: "d", bad: true},
		{in: "1x", bad: true},
	} {
		got, err := ParseGrace(fix.in)
		if fix.bad {
			assert.Error(t, err, fix.in)
			continue
		}
		require.NoError(t, err, fix.in)
		assert.Equal(t, fix.want, got, fix.in)
	}
}

func TestFindOrphans(t *testing.T) {
	ctx := context.Background()
	data := newOrphanRoot(t)
	t0 := time.Date(2014, 7, 1, 12, 0, 0, 0, time.UTC)

	led, err := FindOrphans(ctx, data, []*Root{data}, fixedClock(t0))
	require.NoError(t, err)
	require.Len(t, led, 1)
	assert.Contains(t, led, stalePath)
	assert.Equal(t, t0.Format(model.TimestampLayout), led[stalePath])

	// the ledger was persisted
	reloaded, err := LoadLedger(ctx, data, DefaultLedgerPath)
	require.NoError(t, err)
	assert.Equal(t, led, reloaded)
}

func TestOrphanFirstSeenIsMonotonic(t *testing.T) {
	ctx := context.Background()
	data := newOrphanRoot(t)
	t0 := time.Date(2014, 7, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(48 * time.Hour)

	led0, err := FindOrphans(ctx, data, []*Root{data}, fixedClock(t0))
	require.NoError(t, err)
	led1, err := FindOrphans(ctx, data, []*Root{data}, fixedClock(t1))
	require.NoError(t, err)

	// a second pass never refreshes first-seen
	assert.Equal(t, led0, led1)
	assert.Equal(t, t0.Format(model.TimestampLayout), led1[stalePath])
}

func TestOrphanReferencedAgainDropsOut(t *testing.T) {
	ctx := context.Background()
	data := newOrphanRoot(t)
	t0 := time.Date(2014, 7, 1, 12, 0, 0, 0, time.UTC)

	_, err := FindOrphans(ctx, data, []*Root{data}, fixedClock(t0))
	require.NoError(t, err)

	// a new catalog picks the stale file back up
	c, err := data.LoadCatalog(ctx, model.StreamPath(tgtCID))
	require.NoError(t, err)
	require.NoError(t, Set(c, model.NewPedigree(testProduct, "20120101", "root.tar.gz"), model.Attrs{
		"ftype": "root.tar.gz", "path": stalePath, "sha256": "bbb", "size": 100,
	}))
	require.NoError(t, data.WriteCatalog(ctx, c))

	led, err := FindOrphans(ctx, data, []*Root{data}, fixedClock(t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Empty(t, led)
}

func TestReapOrphans(t *testing.T) {
	ctx := context.Background()
	data := newOrphanRoot(t)
	now := time.Date(2014, 7, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, WriteLedger(ctx, data, DefaultLedgerPath, Ledger{
		stalePath:      now.Add(-4 * 24 * time.Hour).Format(model.TimestampLayout),
		referencedPath: now.Add(-time.Hour).Format(model.TimestampLayout),
	}))

	res, err := ReapOrphans(ctx, data, fixedClock(now))
	require.NoError(t, err)
	assert.Equal(t, []string{stalePath}, res.Reaped)
	assert.Equal(t, []string{referencedPath}, res.Kept)

	has, err := data.Store().Has(ctx, stalePath)
	require.NoError(t, err)
	assert.False(t, has)
	has, err = data.Store().Has(ctx, referencedPath)
	require.NoError(t, err)
	assert.True(t, has)

	// the reaped entry left the ledger, the young one stayed
	led, err := LoadLedger(ctx, data, DefaultLedgerPath)
	require.NoError(t, err)
	assert.NotContains(t, led, stalePath)
	assert.Contains(t, led, referencedPath)
}

func TestReapOrphansDryRun(t *testing.T) {
	ctx := context.Background()
	data := newOrphanRoot(t)
	now := time.Date(2014, 7, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, WriteLedger(ctx, data, DefaultLedgerPath, Ledger{
		stalePath: now.Add(-4 * 24 * time.Hour).Format(model.TimestampLayout),
	}))

	res, err := ReapOrphans(ctx, data, fixedClock(now), WithOrphanDryRun(true))
	require.NoError(t, err)
	assert.Equal(t, []string{stalePath}, res.Reaped)

	has, err := data.Store().Has(ctx, stalePath)
	require.NoError(t, err)
	assert.True(t, has)
	led, err := LoadLedger(ctx, data, DefaultLedgerPath)
	require.NoError(t, err)
	assert.Contains(t, led, stalePath)
}

func TestReapOrphansForce(t *testing.T) {
	ctx := context.Background()
	data := newOrphanRoot(t)
	now := time.Date(2014, 7, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, WriteLedger(ctx, data, DefaultLedgerPath, Ledger{
		stalePath: now.Add(-time.Minute).Format(model.TimestampLayout),
	}))

	res, err := ReapOrphans(ctx, data, fixedClock(now), WithOrphanForce(true))
	require.NoError(t, err)
	assert.Equal(t, []string{stalePath}, res.Reaped)
	has, err := data.Store().Has(ctx, stalePath)
	require.NoError(t, err)
	assert.False(t, has)
}
