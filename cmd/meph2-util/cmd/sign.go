package cmd

import (
	"context"
	"errors"

	"github.com/canonical/maas-images/pkg/core"
	"github.com/canonical/maas-images/pkg/sign"
	"github.com/spf13/cobra"
)

var signCmd = &cobra.Command{
	Use:   "sign <root>",
	Short: "Sign every stream file in a catalog root",
	Long: `Produce the signed variants of a root's stream metadata: a detached
armored .json.gpg next to each file and an inline-clearsigned .sjson
copy; the signed index points at the signed catalogs.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		signRoot(context.Background(), openRoot(args[0]))
	},
}

func signRoot(ctx context.Context, r *core.Root) {
	if err := sign.SignRoot(ctx, r, newSigner()); err != nil {
		var xerr *sign.ExitError
		if errors.As(err, &xerr) {
			// subprocess exit codes pass through unchanged
			wrapFatalWithCodef(xerr.Code, "gpg failed: %s", xerr.Stderr)
			return
		}
		wrapFatalln("signing streams", err)
		return
	}
	infoLogger.Println("signed", r.Store().String())
}

// maybeSign re-signs a root after a successful mutation unless --no-sign or
// --dry-run was given.
func maybeSign(ctx context.Context, r *core.Root) {
	if mephFlags.sign.noSign || mephFlags.dryRun {
		return
	}
	signRoot(ctx, r)
}

func init() {
	rootCmd.AddCommand(signCmd)
	addKeyIDFlag(signCmd)
	addKeyringFlag(signCmd)
}
