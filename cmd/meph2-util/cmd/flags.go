package cmd

import (
	"strings"
	"sync"

	"github.com/canonical/maas-images/pkg/core"
	"github.com/canonical/maas-images/pkg/dlogger"
	"github.com/canonical/maas-images/pkg/sign"
	"github.com/canonical/maas-images/pkg/storage/httpstore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type flagsT struct {
	root struct {
		logLevel string
	}
	labels struct {
		src    string
		target string
	}
	syncF struct {
		maxVersions  int
		keepExisting bool
	}
	diff struct {
		newVersionsOnly bool
		latestOnly      bool
		promote         bool
		output          string
	}
	patch struct {
		source    string
		skipFiles bool
	}
	orphan struct {
		grace string
		force bool
	}
	sign struct {
		keyring string
		keyID   string
		noSign  bool
	}
	dryRun bool

	onceLogger sync.Once
	logger     *zap.Logger
}

var mephFlags = flagsT{}

func addLogLevelFlag(cmd *cobra.Command) string {
	logLevel := "log-level"
	cmd.PersistentFlags().StringVar(&mephFlags.root.logLevel, logLevel, "info",
		"log level: info, debug or none")
	return logLevel
}

func addDryRunFlag(cmd *cobra.Command) string {
	dryRun := "dry-run"
	cmd.Flags().BoolVar(&mephFlags.dryRun, dryRun, false,
		"perform all reads and validation but write nothing")
	return dryRun
}

func addNoSignFlag(cmd *cobra.Command) string {
	noSign := "no-sign"
	cmd.Flags().BoolVar(&mephFlags.sign.noSign, noSign, false,
		"skip re-signing the stream metadata after a successful mutation")
	return noSign
}

func addLabelFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&mephFlags.labels.src, "src-label", "",
		"source label token; inferred from content ids when unset")
	cmd.Flags().StringVar(&mephFlags.labels.target, "target-label", "",
		"target label token; inferred from content ids when unset")
}

func addMaxVersionsFlag(cmd *cobra.Command) string {
	maxVersions := "max-versions"
	cmd.Flags().IntVar(&mephFlags.syncF.maxVersions, maxVersions, 0,
		"keep only the newest N versions per product (0 keeps everything)")
	return maxVersions
}

func addKeepExistingFlag(cmd *cobra.Command) string {
	keepExisting := "keep-existing"
	cmd.Flags().BoolVar(&mephFlags.syncF.keepExisting, keepExisting, false,
		"versions already in the target do not count against --max-versions")
	return keepExisting
}

func addGraceFlag(cmd *cobra.Command) string {
	grace := "grace"
	cmd.Flags().StringVar(&mephFlags.orphan.grace, grace, "",
		"grace period before an orphan becomes reapable, e.g. 3d or 1d12h (bare number counts days)")
	return grace
}

func addForceFlag(cmd *cobra.Command) string {
	force := "force"
	cmd.Flags().BoolVar(&mephFlags.orphan.force, force, false,
		"reap every ledger entry regardless of age")
	return force
}

func addKeyringFlag(cmd *cobra.Command) string {
	keyring := "keyring"
	cmd.Flags().StringVar(&mephFlags.sign.keyring, keyring, "",
		"keyring file used to verify signed (.sjson) input")
	return keyring
}

func addKeyIDFlag(cmd *cobra.Command) string {
	keyID := "key-id"
	cmd.Flags().StringVar(&mephFlags.sign.keyID, keyID, "",
		"gpg key id to sign with")
	return keyID
}

func addOutputFlag(cmd *cobra.Command) string {
	output := "output"
	cmd.Flags().StringVar(&mephFlags.diff.output, output, "",
		"write the diff document to this file instead of stdout")
	return output
}

func addPatchSourceFlag(cmd *cobra.Command) string {
	source := "source"
	cmd.Flags().StringVar(&mephFlags.patch.source, source, "",
		"catalog root (path or URL) to pull added versions and files from")
	return source
}

func addSkipFilesFlag(cmd *cobra.Command) string {
	skipFiles := "skip-files"
	cmd.Flags().BoolVar(&mephFlags.patch.skipFiles, skipFiles, false,
		"apply metadata only, do not copy backing files")
	return skipFiles
}

func (f *flagsT) getLogger() *zap.Logger {
	f.onceLogger.Do(func() {
		l, err := dlogger.GetLogger(f.root.logLevel)
		if err != nil {
			wrapFatalln("failed to set log level", err)
			return
		}
		f.logger = l
	})
	return f.logger
}

// openRoot opens a catalog root from a CLI argument: a local directory or an
// http(s) mirror URL.
func openRoot(arg string) *core.Root {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return core.RootFromStore(httpstore.New(arg, nil))
	}
	return core.OpenRoot(nil, arg)
}

// openSourceRoot opens a root whose metadata is about to be trusted. With a
// keyring configured, every stream load goes through the clearsigned .sjson
// variant and is verified against it.
func openSourceRoot(arg string) *core.Root {
	r := openRoot(arg)
	if mephFlags.sign.keyring != "" {
		r.SetVerifier(newSigner())
	}
	return r
}

func parseFilterArgs(args []string) core.ItemFilters {
	filters, err := core.ParseFilters(args)
	if err != nil {
		wrapFatalln("invalid filter", err)
		return nil
	}
	return filters
}

func knownLabels() []string {
	if len(config.Labels) > 0 {
		return config.Labels
	}
	return core.KnownLabels
}

func stickyFields() []string {
	if len(config.Sticky) > 0 {
		return config.Sticky
	}
	return core.DefaultStickyFields
}

func newSigner() sign.Signer {
	opts := []sign.GPGOption{}
	if mephFlags.sign.keyID != "" {
		opts = append(opts, sign.WithKeyID(mephFlags.sign.keyID))
	}
	if mephFlags.sign.keyring != "" {
		opts = append(opts, sign.WithKeyring(mephFlags.sign.keyring))
	}
	return sign.NewGPG(opts...)
}
