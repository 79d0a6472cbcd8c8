package merge

import (
	"context"

	"github.com/KevoDB/kmerge/pkg/common/log"
)

// Option configures a MergeIterator
type Option func(*options)

type options struct {
	cmp     Comparator
	metrics Metrics
	logger  log.Logger
	ctx     context.Context
}

func defaultOptions() options {
	return options{
		cmp:     DefaultComparator,
		metrics: NewNoopMetrics(),
		logger:  log.NewNopLogger(),
		ctx:     context.Background(),
	}
}

// WithComparator replaces the bytewise key ordering. Every source must be
// sorted by the same comparator.
func WithComparator(cmp Comparator) Option {
	return func(o *options) {
		if cmp != nil {
			o.cmp = cmp
		}
	}
}

// WithMetrics records merge activity through m
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger sets the logger used to report evicted sources
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithContext sets the context attached to recorded metrics
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}
