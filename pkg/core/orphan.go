package core

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/canonical/maas-images/pkg/errors"
	"github.com/canonical/maas-images/pkg/model"
	"github.com/canonical/maas-images/pkg/status"
	"github.com/canonical/maas-images/pkg/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultLedgerPath is where the orphan ledger lives inside a data root.
	DefaultLedgerPath = model.DataDir + "/orphans.json"

	// DefaultGrace is how long a file stays in the ledger before it becomes
	// reapable. The grace period is what makes reaping safe against catalogs
	// updated between the find and reap passes.
	DefaultGrace = 3 * 24 * time.Hour
)

// Ledger maps an orphaned file's path, relative to the data root, to the
// timestamp it was first seen orphaned.
type Ledger map[string]string

// ParseGrace reads a grace period such as "3d", "1d12h" or "90m". A bare
// number counts days. An empty string yields the default.
func ParseGrace(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultGrace, nil
	}
	units := map[rune]time.Duration{
		'd': 24 * time.Hour,
		'h': time.Hour,
		'm': time.Minute,
		's': time.Second,
	}
	var total time.Duration
	num := ""
	for _, r := range s {
		if r >= '0' && r <= '9' {
			num += string(r)
			continue
		}
		unit, ok := units[r]
		if !ok || num == "" {
			return 0, status.ErrFormat.WrapMsg("bad grace period %q", s)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, status.ErrFormat.WrapMsg("bad grace period %q", s)
		}
		total += time.Duration(n) * unit
		num = ""
	}
	// trailing bare digits count days
	if num != "" {
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, status.ErrFormat.WrapMsg("bad grace period %q", s)
		}
		total += time.Duration(n) * 24 * time.Hour
	}
	return total, nil
}

// LoadLedger reads the orphan ledger from a data root. A missing ledger is
// an empty one.
func LoadLedger(ctx context.Context, data *Root, path string) (Ledger, error) {
	rdr, err := data.Store().Get(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Ledger{}, nil
		}
		return nil, err
	}
	defer func() {
		_ = rdr.Close()
	}()
	b, err := io.ReadAll(rdr)
	if err != nil {
		return nil, err
	}
	var led Ledger
	if err := json.Unmarshal(b, &led); err != nil {
		return nil, status.ErrFormat.Wrap(err)
	}
	return led, nil
}

// WriteLedger persists the ledger in full, replacing any previous one.
func WriteLedger(ctx context.Context, data *Root, path string, led Ledger) error {
	b, err := json.MarshalIndent(led, "", " ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return data.Store().Put(ctx, path, strings.NewReader(string(b)), storage.OverWrite)
}

// FindOrphans computes the set of files in the data root referenced by no
// pedigree in any of the given catalog roots and persists it as the new
// ledger. A candidate already in the prior ledger keeps its original
// first-seen timestamp; first-seen never moves forward. Files referenced
// again since the last run drop out of the ledger entirely.
func FindOrphans(ctx context.Context, data *Root, catalogs []*Root, opts ...OrphanOption) (Ledger, error) {
	o := defaultOrphanOptions(opts)

	referenced, err := referencedPaths(ctx, catalogs)
	if err != nil {
		return nil, err
	}
	physical, err := physicalPaths(ctx, data, o.ledgerPath)
	if err != nil {
		return nil, err
	}
	prior, err := LoadLedger(ctx, data, o.ledgerPath)
	if err != nil {
		return nil, err
	}

	now := o.now().UTC().Format(model.TimestampLayout)
	led := Ledger{}
	for _, p := range physical {
		if referenced[p] {
			continue
		}
		if ts, ok := prior[p]; ok {
			led[p] = ts
		} else {
			led[p] = now
		}
	}
	o.l.Info("orphan scan complete",
		zap.Int("referenced", len(referenced)),
		zap.Int("physical", len(physical)),
		zap.Int("orphaned", len(led)),
	)
	if o.dryRun {
		return led, nil
	}
	if err := WriteLedger(ctx, data, o.ledgerPath, led); err != nil {
		return nil, err
	}
	return led, nil
}

// referencedPaths unions the flattened path of every pedigree across every
// catalog root. Roots are scanned concurrently; an unreadable catalog aborts
// the scan, since an incomplete referenced set would over-report orphans.
func referencedPaths(ctx context.Context, catalogs []*Root) (map[string]bool, error) {
	var mu sync.Mutex
	referenced := map[string]bool{}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range catalogs {
		r := r
		g.Go(func() error {
			paths, err := r.StreamPaths(gctx)
			if err != nil {
				return err
			}
			local := map[string]bool{}
			for _, sp := range paths {
				c, err := r.LoadCatalog(gctx, sp)
				if err != nil {
					return err
				}
				err = Walk(c, WalkFuncs{
					Item: func(ped model.Pedigree, _ *model.Item) error {
						flat := FlattenExdata(c, ped, false, false)
						if p := flat.GetString("path"); p != "" {
							local[p] = true
						}
						return nil
					},
				})
				if err != nil {
					return err
				}
			}
			mu.Lock()
			for p := range local {
				referenced[p] = true
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return referenced, nil
}

// physicalPaths walks the data root, excluding the metadata subtree, the
// blob area and the ledger itself.
func physicalPaths(ctx context.Context, data *Root, ledgerPath string) ([]string, error) {
	keys, err := data.Store().Keys(ctx)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == ledgerPath ||
			k == "streams" || strings.HasPrefix(k, "streams/") ||
			k == model.DataDir || strings.HasPrefix(k, model.DataDir+"/") {
			continue
		}
		paths = append(paths, k)
	}
	return paths, nil
}

// ReapResult reports one reap pass.
type ReapResult struct {
	Reaped []string
	Kept   []string
}

// ReapOrphans deletes ledger entries whose grace period has expired (or all
// of them, under force) and rewrites the ledger without them. Emptied parent
// directories are swept up best effort. Dry-run reports intentions and
// touches nothing.
func ReapOrphans(ctx context.Context, data *Root, opts ...OrphanOption) (*ReapResult, error) {
	o := defaultOrphanOptions(opts)

	led, err := LoadLedger(ctx, data, o.ledgerPath)
	if err != nil {
		return nil, err
	}
	res := &ReapResult{}
	remaining := Ledger{}
	now := o.now()

	for _, p := range sortedKeys(led) {
		firstSeen, err := model.ParseTimestamp(led[p])
		if err != nil {
			return nil, status.ErrFormat.WrapMsg("ledger entry %q: bad timestamp %q", p, led[p])
		}
		if !o.force && !firstSeen.Add(o.grace).Before(now) {
			remaining[p] = led[p]
			res.Kept = append(res.Kept, p)
			continue
		}
		o.l.Info("reaping orphan",
			zap.String("path", p),
			zap.Bool("dry_run", o.dryRun),
		)
		res.Reaped = append(res.Reaped, p)
		if o.dryRun {
			continue
		}
		if err := data.Store().Delete(ctx, p); err != nil {
			return nil, err
		}
		if cleaner, ok := data.Store().(storage.DirCleaner); ok {
			cleaner.DeleteDirs(ctx, p)
		}
	}

	if o.dryRun || len(res.Reaped) == 0 {
		return res, nil
	}
	if err := WriteLedger(ctx, data, o.ledgerPath, remaining); err != nil {
		return nil, err
	}
	return res, nil
}
