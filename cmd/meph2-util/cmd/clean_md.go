package cmd

import (
	"context"

	"github.com/canonical/maas-images/pkg/core"
	"github.com/spf13/cobra"
)

var cleanMdCmd = &cobra.Command{
	Use:   "clean-md <root> [filters...]",
	Short: "Trim old versions out of a catalog root's metadata",
	Long: `Rewrite every product stream of a catalog root keeping only the newest
--max-versions versions per product. The backing files are not touched;
run find-orphans / reap-orphans afterwards to collect them.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		logger := mephFlags.getLogger()
		if mephFlags.syncF.maxVersions <= 0 {
			wrapFatalWithCodef(1, "clean-md requires --max-versions")
			return
		}
		root := openRoot(args[0])
		filters := parseFilterArgs(args[1:])

		cats, err := root.LoadAll(ctx)
		if err != nil {
			wrapFatalln("loading streams", err)
			return
		}
		opts := []core.SyncOption{
			core.WithSyncFilters(filters),
			core.WithSyncSticky(stickyFields()),
			core.WithSyncMaxVersions(mephFlags.syncF.maxVersions),
			core.WithSyncLogger(logger),
		}
		for _, cid := range sortedContentIDs(cats) {
			if mephFlags.dryRun {
				w := core.NewDryRunWriter(root, opts...)
				if err := core.Sync(ctx, cats[cid], w); err != nil {
					wrapFatalln("dry-run clean of "+cid, err)
					return
				}
				reportDryRunSync(cid, w)
				continue
			}
			if err := core.Sync(ctx, cats[cid], core.NewBareWriter(root, opts...)); err != nil {
				wrapFatalln("cleaning "+cid, err)
				return
			}
			infoLogger.Println("cleaned", cid)
		}
		maybeSign(ctx, root)
	},
}

func init() {
	rootCmd.AddCommand(cleanMdCmd)
	addDryRunFlag(cleanMdCmd)
	addNoSignFlag(cleanMdCmd)
	addKeyIDFlag(cleanMdCmd)
	addKeyringFlag(cleanMdCmd)
	addMaxVersionsFlag(cleanMdCmd)
}
