package core

import (
	"github.com/canonical/maas-images/pkg/dlogger"
	"go.uber.org/zap"
)

type (
	// DiffOption modifies the behavior of the diff engine.
	DiffOption func(*diffOptions)

	diffOptions struct {
		srcLabel        string
		targetLabel     string
		knownLabels     []string
		newVersionsOnly bool
		latestOnly      bool
		promote         bool
		l               *zap.Logger
	}
)

// KnownLabels is the lifecycle label vocabulary used to locate the label
// token inside content ids when labels are not given explicitly.
var KnownLabels = []string{
	"daily", "alpha1", "alpha2", "alpha3",
	"beta1", "beta2", "beta3", "rc", "candidate", "release",
}

// WithDiffLabels pins the source and target label tokens instead of
// inferring them from content ids.
func WithDiffLabels(src, target string) DiffOption {
	return func(o *diffOptions) {
		o.srcLabel = src
		o.targetLabel = target
	}
}

// WithNewVersionsOnly suppresses versions that exist only on the target
// side.
func WithNewVersionsOnly(enabled bool) DiffOption {
	return func(o *diffOptions) {
		o.newVersionsOnly = enabled
	}
}

// WithLatestOnly collapses the diff to the single newest missing version
// per product.
func WithLatestOnly(enabled bool) DiffOption {
	return func(o *diffOptions) {
		o.latestOnly = enabled
	}
}

// WithPromote tags one-sided entries with both labels, since promotion
// intends to create the counterpart.
func WithPromote(enabled bool) DiffOption {
	return func(o *diffOptions) {
		o.promote = enabled
	}
}

// WithDiffLogger sets the diff engine logger.
func WithDiffLogger(zlg *zap.Logger) DiffOption {
	return func(o *diffOptions) {
		if zlg != nil {
			o.l = zlg
		}
	}
}

func defaultDiffOptions(opts []DiffOption) *diffOptions {
	o := &diffOptions{
		knownLabels: KnownLabels,
		l:           dlogger.MustGetLogger(dlogger.LogLevelNone),
	}
	for _, apply := range opts {
		apply(o)
	}
	return o
}
