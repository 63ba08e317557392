package core

import (
	"github.com/canonical/maas-images/pkg/dlogger"
	"go.uber.org/zap"
)

type (
	// SyncOption modifies the behavior of a sync writer.
	SyncOption func(*syncOptions)

	syncOptions struct {
		filters      ItemFilters
		sticky       []string
		maxVersions  int
		keepExisting bool
		l            *zap.Logger
	}
)

// WithSyncFilters restricts the sync to products and items matching every
// filter.
func WithSyncFilters(filters ItemFilters) SyncOption {
	return func(o *syncOptions) {
		o.filters = filters
	}
}

// WithSyncSticky overrides the sticky field set used by the final condense
// pass.
func WithSyncSticky(fields []string) SyncOption {
	return func(o *syncOptions) {
		if fields != nil {
			o.sticky = fields
		}
	}
}

// WithSyncMaxVersions keeps only the newest n versions per product, by
// lexical version id. Zero keeps everything.
func WithSyncMaxVersions(n int) SyncOption {
	return func(o *syncOptions) {
		o.maxVersions = n
	}
}

// WithSyncKeepExisting exempts versions already present in the target from
// max-versions trimming.
func WithSyncKeepExisting(enabled bool) SyncOption {
	return func(o *syncOptions) {
		o.keepExisting = enabled
	}
}

// WithSyncLogger sets the sync writer logger.
func WithSyncLogger(zlg *zap.Logger) SyncOption {
	return func(o *syncOptions) {
		if zlg != nil {
			o.l = zlg
		}
	}
}

func defaultSyncOptions(opts []SyncOption) *syncOptions {
	o := &syncOptions{
		sticky: DefaultStickyFields,
		l:      dlogger.MustGetLogger(dlogger.LogLevelNone),
	}
	for _, apply := range opts {
		apply(o)
	}
	return o
}
