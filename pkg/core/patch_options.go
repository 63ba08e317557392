package core

import (
	"github.com/canonical/maas-images/pkg/dlogger"
	"github.com/canonical/maas-images/pkg/storage"
	"go.uber.org/zap"
)

type (
	// PatchOption modifies the behavior of the patch engine.
	PatchOption func(*patchOptions)

	patchOptions struct {
		srcLabel    string
		targetLabel string
		knownLabels []string
		dryRun      bool
		skipFiles   bool
		sticky      []string
		fallback    storage.Store
		l           *zap.Logger
	}
)

// WithPatchLabels pins the source and target label tokens.
func WithPatchLabels(src, target string) PatchOption {
	return func(o *patchOptions) {
		o.srcLabel = src
		o.targetLabel = target
	}
}

// WithPatchDryRun performs every read and validation step but suppresses
// all writes, including the final catalog write and index regeneration.
func WithPatchDryRun(enabled bool) PatchOption {
	return func(o *patchOptions) {
		o.dryRun = enabled
	}
}

// WithPatchSkipFiles skips copying backing files, moving metadata only.
func WithPatchSkipFiles(enabled bool) PatchOption {
	return func(o *patchOptions) {
		o.skipFiles = enabled
	}
}

// WithPatchSticky overrides the sticky field set applied by the final
// condense pass.
func WithPatchSticky(fields []string) PatchOption {
	return func(o *patchOptions) {
		if fields != nil {
			o.sticky = fields
		}
	}
}

// WithPatchFallback sets a last-resort store (normally an HTTP mirror) for
// files that cannot be linked or copied from the source root.
func WithPatchFallback(store storage.Store) PatchOption {
	return func(o *patchOptions) {
		o.fallback = store
	}
}

// WithPatchLogger sets the patch engine logger.
func WithPatchLogger(zlg *zap.Logger) PatchOption {
	return func(o *patchOptions) {
		if zlg != nil {
			o.l = zlg
		}
	}
}

func defaultPatchOptions(opts []PatchOption) *patchOptions {
	o := &patchOptions{
		knownLabels: KnownLabels,
		sticky:      DefaultStickyFields,
		l:           dlogger.MustGetLogger(dlogger.LogLevelNone),
	}
	for _, apply := range opts {
		apply(o)
	}
	return o
}
