package cmd

import (
	"context"
	"os"

	"github.com/canonical/maas-images/pkg/core"
	"github.com/canonical/maas-images/pkg/model"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff <source> <target>",
	Short: "Compute the structural diff between two label-variants of a catalog set",
	Long: `Compare two catalog roots holding the same logical streams under
different lifecycle labels and emit a human-editable YAML document
describing what the target is missing, what only it holds, and which
product fields drifted apart.

The document can be reviewed, edited and then applied with patch.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		logger := mephFlags.getLogger()
		src := openRoot(args[0])
		tgt := openRoot(args[1])

		opts := []core.DiffOption{
			core.WithDiffLogger(logger),
			core.WithNewVersionsOnly(mephFlags.diff.newVersionsOnly),
			core.WithLatestOnly(mephFlags.diff.latestOnly),
			core.WithPromote(mephFlags.diff.promote),
		}
		if mephFlags.labels.src != "" || mephFlags.labels.target != "" {
			opts = append(opts, core.WithDiffLabels(mephFlags.labels.src, mephFlags.labels.target))
		}
		doc, err := core.Diff(ctx, src, tgt, opts...)
		if err != nil {
			wrapFatalln("computing diff", err)
			return
		}

		var usedOpts []string
		if mephFlags.diff.newVersionsOnly {
			usedOpts = append(usedOpts, "new_versions_only")
		}
		if mephFlags.diff.latestOnly {
			usedOpts = append(usedOpts, "latest_only")
		}
		if mephFlags.diff.promote {
			usedOpts = append(usedOpts, "promote")
		}
		b, err := core.MarshalDiff(doc, core.DiffMeta{
			Generator:  "meph2-util diff",
			SrcRoot:    args[0],
			TargetRoot: args[1],
			Options:    usedOpts,
			Timestamp:  model.Timestamp(),
		})
		if err != nil {
			wrapFatalln("rendering diff", err)
			return
		}
		if mephFlags.diff.output == "" {
			_, _ = os.Stdout.Write(b)
			return
		}
		if err := os.WriteFile(mephFlags.diff.output, b, 0644); err != nil {
			wrapFatalln("writing diff document", err)
			return
		}
		infoLogger.Println("wrote", mephFlags.diff.output)
	},
}

func init() {
	rootCmd.AddCommand(diffCmd)
	addLabelFlags(diffCmd)
	addOutputFlag(diffCmd)
	diffCmd.Flags().BoolVar(&mephFlags.diff.newVersionsOnly, "new-versions-only", false,
		"suppress versions that exist only on the target side")
	diffCmd.Flags().BoolVar(&mephFlags.diff.latestOnly, "latest-only", false,
		"collapse to the single newest missing version per product")
	diffCmd.Flags().BoolVar(&mephFlags.diff.promote, "promote", false,
		"tag one-sided entries with both labels, for later patching")
}
