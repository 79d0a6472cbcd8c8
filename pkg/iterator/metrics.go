// ABOUTME: Read-path factory telemetry: iterator construction, fan-in, point lookups and range scans
// ABOUTME: A nil telemetry yields a no-op implementation so callers never need to branch

package iterator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/kmerge/pkg/telemetry"
)

// IteratorMetrics defines the interface for read-path telemetry operations.
// All metrics are optional - implementations can safely be no-op.
type IteratorMetrics interface {
	telemetry.ComponentMetrics

	// RecordHierarchicalMerge records the construction of a merge tree over
	// memSources memtables and sstSources sstables.
	RecordHierarchicalMerge(ctx context.Context, memSources, sstSources int, buildTime time.Duration)

	// RecordIteratorType records the type of iterator being handed out.
	RecordIteratorType(ctx context.Context, iteratorType string, sourceCount int)

	// RecordGet records a point lookup through the merge.
	RecordGet(ctx context.Context, duration time.Duration, found bool)

	// RecordRangeScan records a completed range scan.
	RecordRangeScan(ctx context.Context, duration time.Duration, keysReturned int64, startKey, endKey []byte)

	// RecordSourceError records a failure while opening or draining a source.
	RecordSourceError(ctx context.Context, operation string)
}

// iteratorMetrics implements IteratorMetrics using the telemetry interface.
type iteratorMetrics struct {
	tel telemetry.Telemetry
}

// NewIteratorMetrics creates a new iterator metrics implementation.
// If tel is nil, returns a no-op implementation.
func NewIteratorMetrics(tel telemetry.Telemetry) IteratorMetrics {
	if tel == nil {
		return &noopIteratorMetrics{}
	}
	return &iteratorMetrics{tel: tel}
}

// NewNoopIteratorMetrics creates a no-op iterator metrics implementation for testing.
func NewNoopIteratorMetrics() IteratorMetrics {
	return &noopIteratorMetrics{}
}

// RecordHierarchicalMerge records merge tree construction metrics.
func (m *iteratorMetrics) RecordHierarchicalMerge(ctx context.Context, memSources, sstSources int, buildTime time.Duration) {
	m.tel.RecordHistogram(ctx, "kmerge.iterator.hierarchical.build.duration", buildTime.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentFactory),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeCreate),
	)

	m.tel.RecordHistogram(ctx, "kmerge.iterator.hierarchical.source_count", float64(memSources+sstSources),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentFactory),
		attribute.Int("memtables", memSources),
		attribute.Int("sstables", sstSources),
	)
}

// RecordIteratorType records the type of iterator being used.
func (m *iteratorMetrics) RecordIteratorType(ctx context.Context, iteratorType string, sourceCount int) {
	m.tel.RecordCounter(ctx, "kmerge.iterator.type.instantiated", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentFactory),
		attribute.String("iterator_type", iteratorType),
		attribute.Int(telemetry.AttrSourceCount, sourceCount),
	)
}

// RecordGet records point lookup metrics.
func (m *iteratorMetrics) RecordGet(ctx context.Context, duration time.Duration, found bool) {
	m.tel.RecordHistogram(ctx, "kmerge.iterator.get.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentFactory),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeGet),
		attribute.Bool("found", found),
	)

	m.tel.RecordCounter(ctx, "kmerge.iterator.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentFactory),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeGet),
		attribute.String(telemetry.AttrStatus, getStatusFromFound(found)),
	)
}

// RecordRangeScan records range scan operation metrics.
func (m *iteratorMetrics) RecordRangeScan(ctx context.Context, duration time.Duration, keysReturned int64, startKey, endKey []byte) {
	m.tel.RecordHistogram(ctx, "kmerge.iterator.range_scan.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentFactory),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeScan),
	)

	m.tel.RecordHistogram(ctx, "kmerge.iterator.range_scan.keys_returned", float64(keysReturned),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentFactory),
	)

	m.tel.RecordCounter(ctx, "kmerge.iterator.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentFactory),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeScan),
		attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess),
	)

	if startKey != nil || endKey != nil {
		m.tel.RecordCounter(ctx, "kmerge.iterator.range_scan.with_bounds", 1,
			attribute.String(telemetry.AttrComponent, telemetry.ComponentFactory),
		)
	}
}

// RecordSourceError records a failed source.
func (m *iteratorMetrics) RecordSourceError(ctx context.Context, operation string) {
	m.tel.RecordCounter(ctx, "kmerge.iterator.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentFactory),
		attribute.String(telemetry.AttrOperationType, operation),
		attribute.String(telemetry.AttrStatus, telemetry.StatusError),
	)
}

// Close implements ComponentMetrics interface.
func (m *iteratorMetrics) Close() error {
	return nil
}

// noopIteratorMetrics provides a no-op implementation for testing and disabled telemetry.
type noopIteratorMetrics struct{}

func (n *noopIteratorMetrics) RecordHierarchicalMerge(ctx context.Context, memSources, sstSources int, buildTime time.Duration) {
}

func (n *noopIteratorMetrics) RecordIteratorType(ctx context.Context, iteratorType string, sourceCount int) {
}

func (n *noopIteratorMetrics) RecordGet(ctx context.Context, duration time.Duration, found bool) {}

func (n *noopIteratorMetrics) RecordRangeScan(ctx context.Context, duration time.Duration, keysReturned int64, startKey, endKey []byte) {
}

func (n *noopIteratorMetrics) RecordSourceError(ctx context.Context, operation string) {}

func (n *noopIteratorMetrics) Close() error { return nil }

func getStatusFromFound(found bool) string {
	if found {
		return telemetry.StatusSuccess
	}
	return "not_found"
}
