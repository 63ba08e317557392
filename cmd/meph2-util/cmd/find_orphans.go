package cmd

import (
	"context"
	"sort"

	"github.com/canonical/maas-images/pkg/core"
	"github.com/spf13/cobra"
)

var findOrphansCmd = &cobra.Command{
	Use:   "find-orphans <data-root> [catalog-roots...]",
	Short: "Record files no catalog references into the orphan ledger",
	Long: `Walk the data root and every catalog root (the data root itself when
none are given), and persist the set of files referenced by no pedigree
as the orphan ledger. A file already in the ledger keeps its original
first-seen timestamp; files referenced again drop out.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		logger := mephFlags.getLogger()
		data := openRoot(args[0])
		catalogs := []*core.Root{data}
		for _, arg := range args[1:] {
			catalogs = append(catalogs, openRoot(arg))
		}

		led, err := core.FindOrphans(ctx, data, catalogs,
			core.WithOrphanDryRun(mephFlags.dryRun),
			core.WithOrphanLogger(logger),
		)
		if err != nil {
			wrapFatalln("finding orphans", err)
			return
		}
		paths := make([]string, 0, len(led))
		for p := range led {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			infoLogger.Println(p, "first seen", led[p])
		}
		infoLogger.Println(len(led), "orphaned files")
	},
}

func init() {
	rootCmd.AddCommand(findOrphansCmd)
	addDryRunFlag(findOrphansCmd)
}
