package cmd

import (
	"context"

	"github.com/canonical/maas-images/pkg/core"
	"github.com/canonical/maas-images/pkg/model"
	"github.com/spf13/cobra"
)

var promoteCmd = &cobra.Command{
	Use:   "promote <source> <target> [filters...]",
	Short: "Promote product streams from one lifecycle label to another",
	Long: `Copy product streams from a lower-label source root into their
higher-label counterparts in the target root, relabeling content and
product ids and stamping every item with the target label.

The source label is inferred from the source content ids when not given;
the target label must always be given.`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		logger := mephFlags.getLogger()
		if mephFlags.labels.target == "" {
			wrapFatalWithCodef(1, "promote requires --target-label")
			return
		}
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
			srcLabel := mephFlags.labels.src
			if srcLabel == "" {
				srcLabel = model.ContentIDLabel(cid, knownLabels())
			}
			if srcLabel == "" {
				wrapFatalWithCodef(1, "cannot infer source label from %s; pass --src-label", cid)
				return
			}
			if mephFlags.dryRun {
				w := core.NewPromotingDryRunWriter(tgt, srcLabel, mephFlags.labels.target, opts...)
				if err := core.Sync(ctx, cats[cid], w); err != nil {
					wrapFatalln("dry-run promote of "+cid, err)
					return
				}
				reportDryRunSync(cid, w)
				continue
			}
			w := core.NewPromotingWriter(tgt, srcLabel, mephFlags.labels.target, opts...)
			if err := core.Sync(ctx, cats[cid], w); err != nil {
				wrapFatalln("promoting "+cid, err)
				return
			}
			infoLogger.Println("promoted", cid, "to", mephFlags.labels.target)
		}
		maybeSign(ctx, tgt)
	},
}

func init() {
	rootCmd.AddCommand(promoteCmd)
	addDryRunFlag(promoteCmd)
	addNoSignFlag(promoteCmd)
	addKeyIDFlag(promoteCmd)
	addKeyringFlag(promoteCmd)
	addLabelFlags(promoteCmd)
	addMaxVersionsFlag(promoteCmd)
	addKeepExistingFlag(promoteCmd)
}
