package cmd

import (
	"context"

	"github.com/canonical/maas-images/pkg/core"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var reapOrphansCmd = &cobra.Command{
	Use:   "reap-orphans <data-root>",
	Short: "Delete ledger entries whose grace period has expired",
	Long: `Consume the orphan ledger written by find-orphans: delete every entry
orphaned for longer than the grace period (or all of them with --force),
sweep up emptied parent directories best effort, and rewrite the ledger
without the reaped entries.

The grace period is what makes reaping safe against catalogs updated
between the find and reap passes; do not shorten it casually.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		logger := mephFlags.getLogger()
		grace, err := core.ParseGrace(mephFlags.orphan.grace)
		if err != nil {
			wrapFatalWithCodef(1, "bad --grace value %q", mephFlags.orphan.grace)
			return
		}
		data := openRoot(args[0])

		res, err := core.ReapOrphans(ctx, data,
			core.WithOrphanGrace(grace),
			core.WithOrphanForce(mephFlags.orphan.force),
			core.WithOrphanDryRun(mephFlags.dryRun),
			core.WithOrphanLogger(logger),
		)
		if err != nil {
			wrapFatalln("reaping orphans", err)
			return
		}
		if mephFlags.dryRun {
			header := color.New(color.FgYellow).SprintFunc()
			infoLogger.Println(header("dry-run: nothing deleted"))
		}
		for _, p := range res.Reaped {
			infoLogger.Println("reaped", p)
		}
		infoLogger.Println(len(res.Reaped), "reaped,", len(res.Kept), "still in grace")
	},
}

func init() {
	rootCmd.AddCommand(reapOrphansCmd)
	addDryRunFlag(reapOrphansCmd)
	addGraceFlag(reapOrphansCmd)
	addForceFlag(reapOrphansCmd)
}
