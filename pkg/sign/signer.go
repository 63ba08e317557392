// Package sign drives the external GPG collaborator that produces the
// signed variants of stream metadata: a detached armored signature next to
// each .json file and an inline-clearsigned .sjson copy.
package sign

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/canonical/maas-images/pkg/core"
	"github.com/canonical/maas-images/pkg/errors"
	"github.com/canonical/maas-images/pkg/model"
	"github.com/canonical/maas-images/pkg/storage"
)

// Signer produces and checks armored GPG signatures. The engine never
// manages keys itself; it only requires that a signed file round-trips
// through Verify to the exact payload that was signed.
type Signer interface {
	Detached(ctx context.Context, data []byte) ([]byte, error)
	Clearsign(ctx context.Context, data []byte) ([]byte, error)
	Verify(ctx context.Context, signed []byte) ([]byte, error)
}

// SjsonPath maps a stream file path to its clearsigned variant.
func SjsonPath(path string) string {
	return model.SignedPath(path)
}

// GpgPath maps a stream file path to its detached signature.
func GpgPath(path string) string {
	return path + ".gpg"
}

// SignRoot signs every stream file in a catalog root: each catalog gets a
// detached .json.gpg and a clearsigned .sjson; the index additionally gets
// an .sjson variant whose entry paths point at the .sjson catalogs, so a
// client following the signed index stays on signed files throughout.
func SignRoot(ctx context.Context, r *core.Root, s Signer) error {
	paths, err := r.StreamPaths(ctx)
	if err != nil {
		return err
	}
	for _, p := range paths {
		b, err := readKey(ctx, r.Store(), p)
		if err != nil {
			return err
		}
		if err := signOne(ctx, r.Store(), s, p, b, b); err != nil {
			return err
		}
	}

	idx, err := r.LoadIndex(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// no index yet; nothing more to sign
			return nil
		}
		return err
	}
	raw, err := readKey(ctx, r.Store(), model.IndexPath())
	if err != nil {
		return err
	}
	for cid, entry := range idx.Index {
		entry.Path = SjsonPath(entry.Path)
		idx.Index[cid] = entry
	}
	rewritten, err := json.MarshalIndent(idx, "", " ")
	if err != nil {
		return err
	}
	rewritten = append(rewritten, '\n')
	return signOne(ctx, r.Store(), s, model.IndexPath(), raw, rewritten)
}

// signOne writes the detached signature of raw and the clearsigned copy of
// sjsonPayload for one stream path.
func signOne(ctx context.Context, store storage.Store, s Signer, path string, raw, sjsonPayload []byte) error {
	sig, err := s.Detached(ctx, raw)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, GpgPath(path), strings.NewReader(string(sig)), storage.OverWrite); err != nil {
		return err
	}
	cs, err := s.Clearsign(ctx, sjsonPayload)
	if err != nil {
		return err
	}
	return store.Put(ctx, SjsonPath(path), strings.NewReader(string(cs)), storage.OverWrite)
}

func readKey(ctx context.Context, store storage.Store, key string) ([]byte, error) {
	rdr, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rdr.Close()
	}()
	return io.ReadAll(rdr)
}
