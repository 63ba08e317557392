package cmd

import (
	"context"
	"os"

	"github.com/canonical/maas-images/pkg/core"
	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var patchCmd = &cobra.Command{
	Use:   "patch <diff.yaml> <target>",
	Short: "Apply a diff document to a target catalog root",
	Long: `Apply a diff document (from the diff command, possibly hand-edited) to a
target root. Added versions are copied from the --source root, file by
file: staged next to the destination, verified against the declared
sha256 and only then renamed into place. Any hash mismatch aborts the
whole patch and leaves no partial file behind.

With --dry-run every read and validation step still runs, including
hashing the source files, but nothing is written.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		logger := mephFlags.getLogger()
		if mephFlags.labels.src == "" || mephFlags.labels.target == "" {
			wrapFatalWithCodef(1, "patch requires --src-label and --target-label")
			return
		}
		b, err := os.ReadFile(args[0])
		if err != nil {
			wrapFatalln("reading diff document", err)
			return
		}
		doc, err := core.ParseDiff(b)
		if err != nil {
			wrapFatalln("parsing diff document", err)
			return
		}
		tgt := openRoot(args[1])
		var src *core.Root
		if mephFlags.patch.source != "" {
			src = openSourceRoot(mephFlags.patch.source)
		}

		res, err := core.Patch(ctx, doc, tgt, src,
			core.WithPatchLabels(mephFlags.labels.src, mephFlags.labels.target),
			core.WithPatchDryRun(mephFlags.dryRun),
			core.WithPatchSkipFiles(mephFlags.patch.skipFiles),
			core.WithPatchSticky(stickyFields()),
			core.WithPatchLogger(logger),
		)
		if err != nil {
			wrapFatalln("applying patch", err)
			return
		}
		reportPatch(res)
		maybeSign(ctx, tgt)
	},
}

func reportPatch(res *core.PatchResult) {
	if mephFlags.dryRun {
		header := color.New(color.FgYellow).SprintFunc()
		infoLogger.Println(header("dry-run: no changes written"))
	}
	for _, p := range res.ProductsDeleted {
		infoLogger.Println("  deleted product", p)
	}
	for _, ped := range res.VersionsDeleted {
		infoLogger.Println("  deleted version", ped.String())
	}
	for _, ped := range res.VersionsCopied {
		infoLogger.Println("  copied version", ped.String())
	}
	for _, f := range res.FieldsUpdated {
		infoLogger.Println("  updated field", f)
	}
	if res.BytesCopied > 0 {
		infoLogger.Println("copied", units.HumanSize(float64(res.BytesCopied)), "of image data")
	}
	if len(res.StreamsChanged) == 0 {
		infoLogger.Println("nothing to do")
	}
}

func init() {
	rootCmd.AddCommand(patchCmd)
	addDryRunFlag(patchCmd)
	addNoSignFlag(patchCmd)
	addKeyIDFlag(patchCmd)
	addKeyringFlag(patchCmd)
	addLabelFlags(patchCmd)
	addPatchSourceFlag(patchCmd)
	addSkipFilesFlag(patchCmd)
}
