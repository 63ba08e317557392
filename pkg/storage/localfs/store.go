// Package localfs implements a local filesystem backed store. Writes are
// atomic: content is staged under a hidden prefix inside the same afero.Fs,
// then renamed into place.
package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/canonical/maas-images/pkg/storage"
	"github.com/spf13/afero"
)

const stageDirName = ".put-stage"

// New creates a local file system backed store rooted at dir. When fs is
// nil the OS filesystem is used.
func New(fs afero.Fs, dir string) storage.Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if dir != "" {
		fs = afero.NewBasePathFs(fs, dir)
	}
	return &localFS{fs: fs}
}

type localFS struct {
	fs afero.Fs
}

func (l *localFS) Has(_ context.Context, key string) (bool, error) {
	fi, err := l.fs.Stat(key)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !fi.IsDir(), nil
}

func (l *localFS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	has, err := l.Has(ctx, key)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, storage.ErrNotFound.WrapMsg("%s", key)
	}
	return l.fs.Open(key)
}

func (l *localFS) Put(_ context.Context, key string, source io.Reader, overwrite bool) error {
	stageKey := filepath.Join(stageDirName, key)
	if err := l.fs.MkdirAll(filepath.Dir(stageKey), 0755); err != nil {
		return fmt.Errorf("ensuring stage directories for %q: %w", key, err)
	}
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !overwrite {
		if _, err := l.fs.Stat(key); err == nil {
			return fmt.Errorf("refusing to overwrite %q", key)
		}
	}
	target, err := l.fs.OpenFile(stageKey, flag, 0644)
	if err != nil {
		return fmt.Errorf("create record for %q: %w", key, err)
	}
	if _, err = storage.PipeIO(target, source); err != nil {
		_ = target.Close()
		_ = l.fs.Remove(stageKey)
		return fmt.Errorf("write record for %q: %w", key, err)
	}
	if err = target.Close(); err != nil {
		return err
	}
	if err := l.fs.MkdirAll(filepath.Dir(key), 0755); err != nil {
		return fmt.Errorf("ensuring directories for %q: %w", key, err)
	}
	return l.fs.Rename(stageKey, key)
}

// Move renames a key in place. Used by the patch engine to commit a staged,
// verified file.
func (l *localFS) Move(_ context.Context, from, to string) error {
	if err := l.fs.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return fmt.Errorf("ensuring directories for %q: %w", to, err)
	}
	return l.fs.Rename(from, to)
}

func (l *localFS) Delete(_ context.Context, key string) error {
	if err := l.fs.Remove(key); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %q: %w", key, err)
	}
	return nil
}

// DeleteDirs removes now-empty parent directories of key, walking upward.
// Non-empty directories end the walk silently.
func (l *localFS) DeleteDirs(_ context.Context, key string) {
	for dir := filepath.Dir(key); dir != "." && dir != "/" && dir != ""; dir = filepath.Dir(dir) {
		if err := l.fs.Remove(dir); err != nil {
			return
		}
	}
}

func (l *localFS) Keys(ctx context.Context) ([]string, error) {
	return l.KeysPrefix(ctx, "")
}

// KeysPrefix lists file keys under a directory prefix. The staging area is
// never reported.
func (l *localFS) KeysPrefix(_ context.Context, prefix string) ([]string, error) {
	root := "."
	if prefix != "" {
		root = strings.TrimRight(prefix, "/")
		if ok, err := afero.DirExists(l.fs, root); err != nil || !ok {
			return nil, err
		}
	}
	var res []string
	err := afero.Walk(l.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		path = filepath.ToSlash(path)
		if info.IsDir() {
			if path == stageDirName || strings.HasPrefix(path, stageDirName+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		res = append(res, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RealPath resolves a key to an OS path when the store is backed by a real
// filesystem.
func (l *localFS) RealPath(key string) (string, bool) {
	switch fs := l.fs.(type) {
	case *afero.BasePathFs:
		pp, err := fs.RealPath(key)
		if err != nil {
			return "", false
		}
		abs, err := filepath.Abs(pp)
		if err != nil {
			return "", false
		}
		return abs, true
	case *afero.OsFs:
		abs, err := filepath.Abs(key)
		if err != nil {
			return "", false
		}
		return abs, true
	default:
		return "", false
	}
}

func (l *localFS) String() string {
	const localfs = "localfs"
	if pp, ok := l.RealPath(""); ok {
		return localfs + "@" + pp
	}
	return localfs
}
