package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the ingestion pipeline instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	RequestCounter   metric.Int64Counter
	RequestDuration  metric.Float64Histogram
	FilesProcessed   metric.Int64Counter
	FileDuration     metric.Float64Histogram
	OCRRuns          metric.Int64Counter
	Uploads          metric.Int64Counter
	DiscoveredFiles  metric.Int64Counter
	SupervisorStrike metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(tracerName)

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	filesProcessed, err := meter.Int64Counter(
		"ingest.files.processed",
		metric.WithDescription("Files taken through the ingestion pipeline, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	fileDuration, err := meter.Float64Histogram(
		"ingest.file.duration",
		metric.WithDescription("Per-file ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	ocrRuns, err := meter.Int64Counter(
		"ingest.ocr.runs",
		metric.WithDescription("OCR escalations, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	uploads, err := meter.Int64Counter(
		"ingest.search.uploads",
		metric.WithDescription("Documents uploaded to the search backend, by kind"),
	)
	if err != nil {
		return nil, err
	}

	discovered, err := meter.Int64Counter(
		"ingest.discovery.added",
		metric.WithDescription("New ledger rows registered by discovery"),
	)
	if err != nil {
		return nil, err
	}

	strikes, err := meter.Int64Counter(
		"ingest.supervisor.strikes",
		metric.WithDescription("Worker crashes observed by the supervisor"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:   requestCounter,
		RequestDuration:  requestDuration,
		FilesProcessed:   filesProcessed,
		FileDuration:     fileDuration,
		OCRRuns:          ocrRuns,
		Uploads:          uploads,
		DiscoveredFiles:  discovered,
		SupervisorStrike: strikes,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	)
	m.RequestCounter.Add(context.Background(), 1, attrs)
	m.RequestDuration.Record(context.Background(), duration, attrs)
}

// RecordFile records the outcome of one pipeline item
func (m *Metrics) RecordFile(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.FilesProcessed.Add(ctx, 1, attrs)
	m.FileDuration.Record(ctx, seconds, attrs)
}

// RecordOCR records one OCR escalation
func (m *Metrics) RecordOCR(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.OCRRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordUpload records one search upload; kind is "binary" or "ocr_text"
func (m *Metrics) RecordUpload(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.Uploads.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDiscovered records rows added by one discovery pass
func (m *Metrics) RecordDiscovered(ctx context.Context, added int) {
	if m == nil || added == 0 {
		return
	}
	m.DiscoveredFiles.Add(ctx, int64(added))
}

// RecordStrike records a supervisor strike
func (m *Metrics) RecordStrike(ctx context.Context) {
	if m == nil {
		return
	}
	m.SupervisorStrike.Add(ctx, 1)
}
