package cmd

import (
	"context"

	"github.com/canonical/maas-images/pkg/core"
	"github.com/canonical/maas-images/pkg/model"
	"github.com/spf13/cobra"
)

var copyVersionCmd = &cobra.Command{
	Use:   "copy-version <source> <target> <content-id> <version>",
	Short: "Copy one version of every product across catalog roots",
	Long: `Copy a single version from a source root into a target root, including
its backing files, relabeling identifiers when the roots live under
different lifecycle labels. Equivalent to patching with a hand-written
diff that names just this version.`,
	Args: cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		logger := mephFlags.getLogger()
		src := openSourceRoot(args[0])
		tgt := openRoot(args[1])
		cid, version := args[2], args[3]

		srcLabel := mephFlags.labels.src
		if srcLabel == "" {
			srcLabel = model.ContentIDLabel(cid, knownLabels())
		}
		targetLabel := mephFlags.labels.target
		if targetLabel == "" {
			targetLabel = srcLabel
		}
		if srcLabel == "" || targetLabel == "" {
			wrapFatalWithCodef(1, "cannot infer labels from %s; pass --src-label/--target-label", cid)
			return
		}

		c, err := src.LoadCatalog(ctx, model.StreamPath(cid))
		if err != nil {
			wrapFatalln("loading source stream "+cid, err)
			return
		}
		sd := &core.StreamDiff{Products: map[string]*core.ProductDiff{}}
		for pname, p := range c.Products {
			if _, ok := p.Versions[version]; !ok {
				continue
			}
			sd.Products[pname] = &core.ProductDiff{
				Versions: map[string]*core.VersionDiff{
					version: {Labels: []string{srcLabel, targetLabel}},
				},
			}
		}
		if len(sd.Products) == 0 {
			wrapFatalWithCodef(1, "version %s not present in %s", version, cid)
			return
		}

		res, err := core.Patch(ctx, core.DiffDocument{cid: sd}, tgt, src,
			core.WithPatchLabels(srcLabel, targetLabel),
			core.WithPatchDryRun(mephFlags.dryRun),
			core.WithPatchSticky(stickyFields()),
			core.WithPatchLogger(logger),
		)
		if err != nil {
			wrapFatalln("copying version", err)
			return
		}
		reportPatch(res)
		maybeSign(ctx, tgt)
	},
}

func init() {
	rootCmd.AddCommand(copyVersionCmd)
	addDryRunFlag(copyVersionCmd)
	addNoSignFlag(copyVersionCmd)
	addKeyIDFlag(copyVersionCmd)
	addKeyringFlag(copyVersionCmd)
	addLabelFlags(copyVersionCmd)
}
