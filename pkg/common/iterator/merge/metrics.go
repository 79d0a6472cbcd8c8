// ABOUTME: Merge iterator telemetry: construction fan-in, Next latency, shadowed duplicates, and evictions
// ABOUTME: Wraps the telemetry abstraction; a nil telemetry yields a no-op implementation

package merge

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/kmerge/pkg/telemetry"
)

// Metrics defines the telemetry operations recorded by a MergeIterator.
// All metrics are optional - implementations can safely be no-op.
type Metrics interface {
	telemetry.ComponentMetrics

	// RecordCreate records a new merge over sources inputs, of which live were valid.
	RecordCreate(ctx context.Context, sources, live int)

	// RecordNext records one successful Next call and whether the merge is still valid.
	RecordNext(ctx context.Context, duration time.Duration, valid bool)

	// RecordShadowed records n duplicate entries discarded in favour of a newer source.
	RecordShadowed(ctx context.Context, n int)

	// RecordSourceFailure records the eviction of the source at index after a failed Next.
	RecordSourceFailure(ctx context.Context, index int)
}

type mergeMetrics struct {
	tel telemetry.Telemetry
}

// NewMetrics creates a Metrics backed by tel. If tel is nil, returns a no-op implementation.
func NewMetrics(tel telemetry.Telemetry) Metrics {
	if tel == nil {
		return &noopMetrics{}
	}
	return &mergeMetrics{tel: tel}
}

// NewNoopMetrics creates a no-op Metrics implementation.
func NewNoopMetrics() Metrics {
	return &noopMetrics{}
}

func (m *mergeMetrics) RecordCreate(ctx context.Context, sources, live int) {
	m.tel.RecordCounter(ctx, "kmerge.merge.created.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentMerge),
		attribute.String(telemetry.AttrStatus, statusFromLive(live)),
	)
	m.tel.RecordHistogram(ctx, "kmerge.merge.sources", float64(sources),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentMerge),
	)
	m.tel.RecordHistogram(ctx, "kmerge.merge.sources.live", float64(live),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentMerge),
	)
}

func (m *mergeMetrics) RecordNext(ctx context.Context, duration time.Duration, valid bool) {
	m.tel.RecordHistogram(ctx, "kmerge.merge.next.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentMerge),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeNext),
	)
	m.tel.RecordCounter(ctx, "kmerge.merge.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentMerge),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeNext),
		attribute.String(telemetry.AttrStatus, statusFromValid(valid)),
	)
}

func (m *mergeMetrics) RecordShadowed(ctx context.Context, n int) {
	m.tel.RecordCounter(ctx, "kmerge.merge.shadowed.total", int64(n),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentMerge),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeDrain),
	)
}

func (m *mergeMetrics) RecordSourceFailure(ctx context.Context, index int) {
	m.tel.RecordCounter(ctx, "kmerge.merge.evicted.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentMerge),
		attribute.Int(telemetry.AttrSourceIndex, index),
		attribute.String(telemetry.AttrStatus, telemetry.StatusError),
	)
}

// Close implements telemetry.ComponentMetrics.
func (m *mergeMetrics) Close() error {
	return nil
}

type noopMetrics struct{}

func (n *noopMetrics) RecordCreate(ctx context.Context, sources, live int) {}

func (n *noopMetrics) RecordNext(ctx context.Context, duration time.Duration, valid bool) {}

func (n *noopMetrics) RecordShadowed(ctx context.Context, count int) {}

func (n *noopMetrics) RecordSourceFailure(ctx context.Context, index int) {}

func (n *noopMetrics) Close() error { return nil }

func statusFromValid(valid bool) string {
	if valid {
		return telemetry.StatusSuccess
	}
	return telemetry.StatusExhausted
}

func statusFromLive(live int) string {
	if live > 0 {
		return telemetry.StatusSuccess
	}
	return telemetry.StatusExhausted
}
