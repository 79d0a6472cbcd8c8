// ABOUTME: Tests for the OpenTelemetry SDK provider using a manual metric reader

package telemetry

import (
	"bytes"
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewDisabledReturnsNoop(t *testing.T) {
	tel, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, ok := tel.(*NoopTelemetry); !ok {
		t.Errorf("Expected *NoopTelemetry, got %T", tel)
	}
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.ServiceName = ""

	if _, err := New(cfg); err == nil {
		t.Error("Expected error for invalid config")
	}
}

func TestProviderRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporters = nil

	tel, err := New(cfg, WithMetricReader(reader))
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	ctx := context.Background()
	defer tel.Shutdown(ctx)

	tel.RecordCounter(ctx, "kmerge.test.count", 2, attribute.String(AttrComponent, ComponentMerge))
	tel.RecordCounter(ctx, "kmerge.test.count", 3, attribute.String(AttrComponent, ComponentMerge))
	tel.RecordHistogram(ctx, "kmerge.test.latency", 0.5)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	var sawCounter, sawHistogram bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "kmerge.test.count":
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("Expected Sum[int64], got %T", m.Data)
				}
				if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 5 {
					t.Errorf("Expected a single data point of 5, got %+v", sum.DataPoints)
				}
				sawCounter = true
			case "kmerge.test.latency":
				sawHistogram = true
			}
		}
	}

	if !sawCounter || !sawHistogram {
		t.Errorf("Missing metrics: counter=%v histogram=%v", sawCounter, sawHistogram)
	}
}

func TestProviderStdoutExporter(t *testing.T) {
	var buf bytes.Buffer

	cfg := DefaultConfig()
	cfg.Enabled = true

	tel, err := New(cfg, WithOutput(&buf))
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	ctx := context.Background()
	_, span := tel.StartSpan(ctx, "kmerge.test.span")
	span.End()
	tel.RecordCounter(ctx, "kmerge.test.flushed", 1)

	// Shutdown flushes both pipelines into the writer
	if err := tel.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("kmerge.test.span")) {
		t.Error("Expected exported span in output")
	}
	if !bytes.Contains(buf.Bytes(), []byte("kmerge.test.flushed")) {
		t.Error("Expected exported metric in output")
	}
}
