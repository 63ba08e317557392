package core

import (
	"github.com/canonical/maas-images/pkg/dlogger"
	"go.uber.org/zap"
)

type (
	// MergeOption modifies the behavior of the merge engine.
	MergeOption func(*mergeOptions)

	mergeOptions struct {
		dryRun bool
		l      *zap.Logger
	}
)

// WithMergeDryRun performs every read and validation step, including hashing
// the source files, but suppresses all writes.
func WithMergeDryRun(enabled bool) MergeOption {
	return func(o *mergeOptions) {
		o.dryRun = enabled
	}
}

// WithMergeLogger sets the merge engine logger.
func WithMergeLogger(zlg *zap.Logger) MergeOption {
	return func(o *mergeOptions) {
		if zlg != nil {
			o.l = zlg
		}
	}
}

func defaultMergeOptions(opts []MergeOption) *mergeOptions {
	o := &mergeOptions{
		l: dlogger.MustGetLogger(dlogger.LogLevelNone),
	}
	for _, apply := range opts {
		apply(o)
	}
	return o
}
