// Package storage abstracts the filesystem-ish backends catalog roots and
// data roots live on.
package storage

import (
	"context"
	"io"

	"github.com/canonical/maas-images/pkg/errors"
)

// Overwrite mode for Put operations
const (
	OverWrite   = true
	NoOverWrite = false
)

// ErrNotFound is returned by Get on a missing key.
var ErrNotFound = errors.New("storage: not found")

// Store implements a content addressable model over a backend.
type Store interface {
	Has(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, source io.Reader, overwrite bool) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	KeysPrefix(ctx context.Context, prefix string) ([]string, error)
	String() string
}

// Mover is implemented by stores that can atomically rename a key. The patch
// engine relies on it for its copy-then-verify-then-commit sequence.
type Mover interface {
	Move(ctx context.Context, from, to string) error
}

// PathMapper is implemented by stores whose keys map to real filesystem
// paths. It enables hard-linked copies when source and destination share a
// filesystem.
type PathMapper interface {
	RealPath(key string) (string, bool)
}

// DirCleaner is implemented by stores that can sweep up the empty parent
// directories a deleted key leaves behind. Best effort: a directory that is
// still populated ends the sweep silently.
type DirCleaner interface {
	DeleteDirs(ctx context.Context, key string)
}

// PipeIO copies all bytes from a reader to a writer.
func PipeIO(writer io.Writer, reader io.Reader) (n int64, err error) {
	return io.Copy(writer, reader)
}
