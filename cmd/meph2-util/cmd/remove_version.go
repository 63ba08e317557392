package cmd

import (
	"context"

	"github.com/canonical/maas-images/pkg/core"
	"github.com/canonical/maas-images/pkg/model"
	"github.com/spf13/cobra"
)

var removeVersionCmd = &cobra.Command{
	Use:   "remove-version <root> <content-id> <version> [product]",
	Short: "Remove a version from a product stream",
	Long: `Remove one version from every product of a stream, or from a single
product when one is named. The stream is pruned, condensed and
rewritten; backing files are left for the orphan collector.`,
	Args: cobra.RangeArgs(3, 4),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		root := openRoot(args[0])
		cid, version := args[1], args[2]

		c, err := root.LoadCatalog(ctx, model.StreamPath(cid))
		if err != nil {
			wrapFatalln("loading stream "+cid, err)
			return
		}
		var removed []string
		if len(args) == 4 {
			if core.Delete(c, model.NewPedigree(args[3], version)) {
				removed = append(removed, args[3])
			}
		} else {
			for pname := range c.Products {
				if core.Delete(c, model.NewPedigree(pname, version)) {
					removed = append(removed, pname)
				}
			}
		}
		if len(removed) == 0 {
			infoLogger.Println("version", version, "not present, nothing to do")
			return
		}
		for _, p := range removed {
			infoLogger.Println("removed", p+"/"+version)
		}
		if mephFlags.dryRun {
			return
		}
		core.Prune(c, false)
		core.Condense(c, core.StickySet(stickyFields()))
		c.Updated = model.Timestamp()
		if err := root.WriteCatalog(ctx, c); err != nil {
			wrapFatalln("writing stream "+cid, err)
			return
		}
		if err := core.RefreshIndex(ctx, root); err != nil {
			wrapFatalln("refreshing index", err)
			return
		}
		maybeSign(ctx, root)
	},
}

func init() {
	rootCmd.AddCommand(removeVersionCmd)
	addDryRunFlag(removeVersionCmd)
	addNoSignFlag(removeVersionCmd)
	addKeyIDFlag(removeVersionCmd)
	addKeyringFlag(removeVersionCmd)
}
