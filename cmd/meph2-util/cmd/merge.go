package cmd

import (
	"context"

	"github.com/canonical/maas-images/pkg/core"
	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <source> <target>",
	Short: "Fold every stream of one catalog root into another",
	Long: `Copy all product streams of a source root, and the backing files they
reference, into a target root. Streams keep their content ids and land
wholesale; existing target streams with other content ids stay as they
are. When both roots reference the same file path with different sha256
values the merge aborts before writing anything.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		logger := mephFlags.getLogger()
		src := openSourceRoot(args[0])
		tgt := openRoot(args[1])

		res, err := core.Merge(ctx, src, tgt,
			core.WithMergeDryRun(mephFlags.dryRun),
			core.WithMergeLogger(logger),
		)
		if err != nil {
			wrapFatalln("merging", err)
			return
		}
		if mephFlags.dryRun {
			header := color.New(color.FgYellow).SprintFunc()
			infoLogger.Println(header("dry-run: no changes written"))
		}
		for _, cid := range res.StreamsCopied {
			infoLogger.Println("  copied stream", cid)
		}
		for _, p := range res.FilesCopied {
			infoLogger.Println("  copied file", p)
		}
		if res.BytesCopied > 0 {
			infoLogger.Println("copied", units.HumanSize(float64(res.BytesCopied)), "of image data")
		}
		if len(res.StreamsCopied) == 0 {
			infoLogger.Println("nothing to do")
		}
		maybeSign(ctx, tgt)
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
	addDryRunFlag(mergeCmd)
	addNoSignFlag(mergeCmd)
	addKeyIDFlag(mergeCmd)
	addKeyringFlag(mergeCmd)
}
