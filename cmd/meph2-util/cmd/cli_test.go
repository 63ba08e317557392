package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/canonical/maas-images/pkg/core"
	"github.com/canonical/maas-images/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testCID     = "com.ubuntu.maas:daily:v2:download"
	testProduct = "com.ubuntu.maas:v2:boot:14.04:amd64:ga-14.04"
)

func runCmd(t *testing.T, args ...string) {
	t.Helper()
	fatals := 0
	savedFatalf, savedFatalln, savedExit := logFatalf, logFatalln, osExit
	logFatalf = func(format string, v ...interface{}) { fatals++; t.Logf(format, v...) }
	logFatalln = func(v ...interface{}) { fatals++; t.Log(v...) }
	osExit = func(code int) { fatals++ }
	defer func() {
		logFatalf, logFatalln, osExit = savedFatalf, savedFatalln, savedExit
	}()

	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	require.Zero(t, fatals, "command hit a fatal error")
}

func writeSourceTree(t *testing.T, dir string) {
	t.Helper()
	ctx := context.Background()
	r := core.OpenRoot(nil, dir)
	c := model.NewCatalog(testCID, "image-downloads")
	require.NoError(t, core.Set(c, model.NewPedigree(testProduct, "20140101", "root.tar.gz"), model.Attrs{
		"ftype": "root.tar.gz", "arch": "amd64", "release": "trusty",
		"label": "daily", "path": "trusty/amd64/20140101/root.tar.gz",
		"sha256": "aaa", "size": 10,
	}))
	require.NoError(t, r.WriteCatalog(ctx, c))
	require.NoError(t, core.RefreshIndex(ctx, r))
}

func TestInsertCommand(t *testing.T) {
	srcDir, tgtDir := t.TempDir(), t.TempDir()
	writeSourceTree(t, srcDir)

	runCmd(t, "insert", srcDir, tgtDir, "--no-sign", "--log-level", "none")

	r := core.OpenRoot(nil, tgtDir)
	c, err := r.LoadCatalog(context.Background(), model.StreamPath(testCID))
	require.NoError(t, err)
	assert.Contains(t, c.Products, testProduct)
}

func TestInsertCommandWithFilter(t *testing.T) {
	srcDir, tgtDir := t.TempDir(), t.TempDir()
	writeSourceTree(t, srcDir)

	runCmd(t, "insert", srcDir, tgtDir, "release=precise", "--no-sign", "--log-level", "none")

	r := core.OpenRoot(nil, tgtDir)
	c, err := r.LoadCatalog(context.Background(), model.StreamPath(testCID))
	require.NoError(t, err)
	assert.Empty(t, c.Products)
}

func TestOrphanCommands(t *testing.T) {
	dir := t.TempDir()
	writeSourceTree(t, dir)
	stale := filepath.Join(dir, "precise", "old.tar.gz")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0644))

	runCmd(t, "find-orphans", dir, "--log-level", "none")

	led, err := core.LoadLedger(context.Background(), core.OpenRoot(nil, dir), core.DefaultLedgerPath)
	require.NoError(t, err)
	assert.Contains(t, led, "precise/old.tar.gz")

	runCmd(t, "reap-orphans", dir, "--force", "--log-level", "none")
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestMergeCommand(t *testing.T) {
	ctx := context.Background()
	srcDir, tgtDir := t.TempDir(), t.TempDir()

	body := "root-image-bytes-20140101"
	sha := "372dbaadbddbf43070d28b2611a7388d8fae5980f1d10358ea6eb6c94be65e80"
	r := core.OpenRoot(nil, srcDir)
	c := model.NewCatalog(testCID, "image-downloads")
	require.NoError(t, core.Set(c, model.NewPedigree(testProduct, "20140101", "root.tar.gz"), model.Attrs{
		"ftype": "root.tar.gz", "arch": "amd64", "release": "trusty",
		"label": "daily", "path": "trusty/amd64/20140101/root.tar.gz",
		"sha256": sha, "size": len(body),
	}))
	require.NoError(t, r.WriteCatalog(ctx, c))
	require.NoError(t, core.RefreshIndex(ctx, r))
	img := filepath.Join(srcDir, "trusty", "amd64", "20140101", "root.tar.gz")
	require.NoError(t, os.MkdirAll(filepath.Dir(img), 0755))
	require.NoError(t, os.WriteFile(img, []byte(body), 0644))

	runCmd(t, "merge", srcDir, tgtDir, "--no-sign", "--log-level", "none")

	tgt := core.OpenRoot(nil, tgtDir)
	tc, err := tgt.LoadCatalog(ctx, model.StreamPath(testCID))
	require.NoError(t, err)
	assert.Contains(t, tc.Products, testProduct)
	got, err := os.ReadFile(filepath.Join(tgtDir, "trusty", "amd64", "20140101", "root.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestDiffCommandWritesDocument(t *testing.T) {
	srcDir, tgtDir := t.TempDir(), t.TempDir()
	writeSourceTree(t, srcDir)
	out := filepath.Join(t.TempDir(), "diff.yaml")

	runCmd(t, "diff", srcDir, tgtDir,
		"--src-label", "daily", "--target-label", "candidate",
		"--promote", "--output", out, "--log-level", "none")

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	doc, err := core.ParseDiff(b)
	require.NoError(t, err)
	require.Contains(t, doc, testCID)
	assert.Equal(t, "candidate", doc[testCID].NotMerged)
}
