package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/canonical/maas-images/pkg/errors"
	"github.com/canonical/maas-images/pkg/status"
	"github.com/canonical/maas-images/pkg/storage"
)

// hashReader reads everything from r and returns the hex sha256.
func hashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashKey(ctx context.Context, store storage.Store, key string) (string, error) {
	rdr, err := store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = rdr.Close()
	}()
	return hashReader(rdr)
}

// transferFile moves one backing file from src to target under the
// copy-then-verify-then-commit contract: hard link when both roots are on a
// real filesystem, else a byte copy through the source store, else a fetch
// from the fallback store. The content always lands on a temporary path
// first and is renamed into place only after its sha256 matches wantSHA; a
// mismatch yields ErrIntegrity and leaves no file at the final path.
func transferFile(ctx context.Context, src, target storage.Store, fallback storage.Store,
	path, wantSHA string, dryRun bool) error {

	// an already-present file must agree with the catalog-declared hash:
	// two owners of one path never disagree silently
	if has, err := target.Has(ctx, path); err != nil {
		return err
	} else if has {
		got, err := hashKey(ctx, target, path)
		if err != nil {
			return err
		}
		if got != wantSHA {
			return status.ErrConsistency.WrapMsg(
				"existing file %s has sha256 %s, catalog declares %s", path, got, wantSHA)
		}
		return nil
	}

	if src != nil {
		if done, err := tryLink(ctx, src, target, path, wantSHA, dryRun); done || err != nil {
			return err
		}
	}

	rdr, err := openSource(ctx, src, fallback, path)
	if err != nil {
		return err
	}
	defer func() {
		_ = rdr.Close()
	}()

	if dryRun {
		got, err := hashReader(rdr)
		if err != nil {
			return err
		}
		if got != wantSHA {
			return status.ErrIntegrity.WrapMsg("%s: got sha256 %s, want %s", path, got, wantSHA)
		}
		return nil
	}

	h := sha256.New()
	tmp := path + ".part"
	if err := target.Put(ctx, tmp, io.TeeReader(rdr, h), storage.OverWrite); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != wantSHA {
		_ = target.Delete(ctx, tmp)
		return status.ErrIntegrity.WrapMsg("%s: got sha256 %s, want %s", path, got, wantSHA)
	}
	mover, ok := target.(storage.Mover)
	if !ok {
		_ = target.Delete(ctx, tmp)
		return status.ErrSchema.WrapMsg("target store %s cannot commit staged files", target)
	}
	return mover.Move(ctx, tmp, path)
}

func openSource(ctx context.Context, src, fallback storage.Store, path string) (io.ReadCloser, error) {
	if src != nil {
		rdr, err := src.Get(ctx, path)
		if err == nil {
			return rdr, nil
		}
		if !errors.Is(err, storage.ErrNotFound) || fallback == nil {
			return nil, err
		}
	}
	if fallback == nil {
		return nil, status.ErrNotFound.WrapMsg("no source for %s", path)
	}
	return fallback.Get(ctx, path)
}

// tryLink attempts a hard-linked copy. Returns done=true when the file was
// committed this way; a failed link attempt is not an error, merely a cue
// to fall back to a byte copy.
func tryLink(ctx context.Context, src, target storage.Store, path, wantSHA string, dryRun bool) (bool, error) {
	srcMapper, ok := src.(storage.PathMapper)
	if !ok {
		return false, nil
	}
	dstMapper, ok := target.(storage.PathMapper)
	if !ok {
		return false, nil
	}
	srcReal, ok := srcMapper.RealPath(path)
	if !ok {
		return false, nil
	}
	if _, err := os.Stat(srcReal); err != nil {
		// not on a real filesystem after all, or gone; the byte copy
		// path reports the proper error
		return false, nil
	}
	if dryRun {
		// validation only: the link itself is a write
		return false, nil
	}
	dstReal, ok := dstMapper.RealPath(path)
	if !ok {
		return false, nil
	}
	tmp := dstReal + ".part"
	if err := os.MkdirAll(filepath.Dir(dstReal), 0755); err != nil {
		return false, err
	}
	if err := os.Link(srcReal, tmp); err != nil {
		return false, nil
	}
	f, err := os.Open(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	got, err := hashReader(f)
	_ = f.Close()
	if err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	if got != wantSHA {
		_ = os.Remove(tmp)
		return true, status.ErrIntegrity.WrapMsg("%s: got sha256 %s, want %s", path, got, wantSHA)
	}
	if err := os.Rename(tmp, dstReal); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	return true, nil
}
