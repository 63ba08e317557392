package cmd

import (
	"context"
	"sort"

	"github.com/canonical/maas-images/pkg/core"
	"github.com/canonical/maas-images/pkg/model"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var insertCmd = &cobra.Command{
	Use:   "insert <source> <target> [filters...]",
	Short: "Sync product streams from a source root into a target root",
	Long: `Sync every product stream of a source catalog root (a directory or an
http(s) mirror URL) into a target root. Filters restrict which products
and items are taken, e.g. release=trusty arch~(amd64|i386).

Insert only ever adds: versions the source no longer offers stay in the
target until a clean-md run trims them. The whole run condenses and
rewrites each touched stream once.`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		logger := mephFlags.getLogger()
		src := openSourceRoot(args[0])
		tgt := openRoot(args[1])
		filters := parseFilterArgs(args[2:])

		cats, err := src.LoadAll(ctx)
		if err != nil {
			wrapFatalln("loading source streams", err)
			return
		}
		opts := []core.SyncOption{
			core.WithSyncFilters(filters),
			core.WithSyncSticky(stickyFields()),
			core.WithSyncMaxVersions(mephFlags.syncF.maxVersions),
			core.WithSyncKeepExisting(mephFlags.syncF.keepExisting),
			core.WithSyncLogger(logger),
		}
		for _, cid := range sortedContentIDs(cats) {
			if mephFlags.dryRun {
				w := core.NewInsertDryRunWriter(tgt, opts...)
				if err := core.Sync(ctx, cats[cid], w); err != nil {
					wrapFatalln("dry-run sync of "+cid, err)
					return
				}
				reportDryRunSync(cid, w)
				continue
			}
			if err := core.Sync(ctx, cats[cid], core.NewInsertWriter(tgt, opts...)); err != nil {
				wrapFatalln("syncing "+cid, err)
				return
			}
			infoLogger.Println("synced", cid)
		}
		maybeSign(ctx, tgt)
	},
}

func sortedContentIDs(cats map[string]*model.Catalog) []string {
	cids := make([]string, 0, len(cats))
	for cid := range cats {
		cids = append(cids, cid)
	}
	sort.Strings(cids)
	return cids
}

func reportDryRunSync(cid string, w *core.DryRunWriter) {
	header := color.New(color.FgYellow).SprintFunc()
	infoLogger.Println(header("dry-run:"), cid)
	for _, p := range w.Downloads {
		infoLogger.Println("  would fetch", p)
	}
	for _, ped := range w.Removals {
		infoLogger.Println("  would remove", ped.String())
	}
}

func init() {
	rootCmd.AddCommand(insertCmd)
	addDryRunFlag(insertCmd)
	addNoSignFlag(insertCmd)
	addKeyIDFlag(insertCmd)
	addKeyringFlag(insertCmd)
	addMaxVersionsFlag(insertCmd)
	addKeepExistingFlag(insertCmd)
}
