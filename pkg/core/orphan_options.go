package core

import (
	"time"

	"github.com/canonical/maas-images/pkg/dlogger"
	"go.uber.org/zap"
)

type (
	// OrphanOption modifies the behavior of the orphan collector.
	OrphanOption func(*orphanOptions)

	orphanOptions struct {
		ledgerPath string
		grace      time.Duration
		force      bool
		dryRun     bool
		now        func() time.Time
		l          *zap.Logger
	}
)

// WithOrphanLedgerPath overrides where the ledger file lives inside the data
// root.
func WithOrphanLedgerPath(path string) OrphanOption {
	return func(o *orphanOptions) {
		if path != "" {
			o.ledgerPath = path
		}
	}
}

// WithOrphanGrace sets how long a file must stay orphaned before reaping
// touches it.
func WithOrphanGrace(grace time.Duration) OrphanOption {
	return func(o *orphanOptions) {
		o.grace = grace
	}
}

// WithOrphanForce reaps every ledger entry regardless of age.
func WithOrphanForce(enabled bool) OrphanOption {
	return func(o *orphanOptions) {
		o.force = enabled
	}
}

// WithOrphanDryRun reports what would happen without writing the ledger or
// deleting anything.
func WithOrphanDryRun(enabled bool) OrphanOption {
	return func(o *orphanOptions) {
		o.dryRun = enabled
	}
}

// WithOrphanClock injects the time source, for tests.
func WithOrphanClock(now func() time.Time) OrphanOption {
	return func(o *orphanOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithOrphanLogger sets the orphan collector logger.
func WithOrphanLogger(zlg *zap.Logger) OrphanOption {
	return func(o *orphanOptions) {
		if zlg != nil {
			o.l = zlg
		}
	}
}

func defaultOrphanOptions(opts []OrphanOption) *orphanOptions {
	o := &orphanOptions{
		ledgerPath: DefaultLedgerPath,
		grace:      DefaultGrace,
		now:        time.Now,
		l:          dlogger.MustGetLogger(dlogger.LogLevelNone),
	}
	for _, apply := range opts {
		apply(o)
	}
	return o
}
