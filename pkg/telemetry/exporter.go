// ABOUTME: OpenTelemetry exporter factory for the metric and trace pipelines
// ABOUTME: Builds stdout exporters and wraps them in periodic readers and batch span processors

package telemetry

import (
	"fmt"
	"io"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// createMetricReaders creates one periodic reader per configured metric exporter.
func createMetricReaders(cfg Config, out io.Writer) ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case "stdout":
			exporter, err := stdoutmetric.New(
				stdoutmetric.WithWriter(out),
				stdoutmetric.WithPrettyPrint(),
			)
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
			}
			readers = append(readers, sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(cfg.ExportInterval),
				sdkmetric.WithTimeout(cfg.ExportTimeout),
			))
		}
	}

	return readers, nil
}

// createSpanProcessors creates one batch span processor per configured trace exporter.
func createSpanProcessors(cfg Config, out io.Writer) ([]sdktrace.SpanProcessor, error) {
	var processors []sdktrace.SpanProcessor

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case "stdout":
			exporter, err := stdouttrace.New(
				stdouttrace.WithWriter(out),
				stdouttrace.WithPrettyPrint(),
			)
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
			}
			processors = append(processors, sdktrace.NewBatchSpanProcessor(exporter,
				sdktrace.WithBatchTimeout(cfg.BatchTimeout),
				sdktrace.WithExportTimeout(cfg.ExportTimeout),
				sdktrace.WithMaxQueueSize(cfg.MaxQueueSize),
				sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			))
		}
	}

	return processors, nil
}
