package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"payinsights/internal/amqp"
	"payinsights/internal/dataset"
	applog "payinsights/internal/log"
	"payinsights/internal/manifest"
	"payinsights/internal/metrics"
	"payinsights/internal/sheets"
)

// ResultPublisher sends rendered reports back to the requester
type ResultPublisher interface {
	PublishResult(ctx context.Context, res *amqp.ReportResult) error
}

// ReportWorker renders views on request and publishes the outcome
type ReportWorker struct {
	source    sheets.Source
	manifest  *manifest.Manifest
	renderer  *manifest.Renderer
	publisher ResultPublisher
	logger    *applog.Logger

	mu     sync.RWMutex
	agg    *metrics.Aggregator
	tables map[string]dataset.Table
}

func NewReportWorker(source sheets.Source, m *manifest.Manifest, publisher ResultPublisher, concurrency int, logger *applog.Logger) *ReportWorker {
	if logger == nil {
		logger = applog.FromContext(context.Background())
	}
	return &ReportWorker{
		source:    source,
		manifest:  m,
		renderer:  manifest.NewRenderer(concurrency),
		publisher: publisher,
		logger:    logger.WithComponent(applog.ComponentWorker),
	}
}

// Load reads the dataset and side tables. A failed load keeps the previous
// dataset.
func (w *ReportWorker) Load(ctx context.Context) error {
	start := time.Now()
	ds, err := w.source.LoadDataset(ctx)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	tables, err := w.source.Tables(ctx)
	if err != nil {
		return fmt.Errorf("load tables: %w", err)
	}

	w.mu.Lock()
	w.agg, w.tables = metrics.New(ds), tables
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "Dataset loaded",
		applog.FieldOperation, applog.OpLoad,
		applog.FieldRecords, ds.Len(),
		"tables", len(tables),
		applog.FieldDuration, time.Since(start).Milliseconds())
	return nil
}

func (w *ReportWorker) snapshot(ctx context.Context) (*metrics.Aggregator, map[string]dataset.Table, error) {
	w.mu.RLock()
	agg, tables := w.agg, w.tables
	w.mu.RUnlock()
	if agg != nil {
		return agg, tables, nil
	}
	if err := w.Load(ctx); err != nil {
		return nil, nil, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.agg, w.tables, nil
}

// HandleReportRequest renders the requested view and publishes the result.
// Rendering failures are deterministic, so they are published as error
// results rather than returned; only a failed publish is returned and the
// request is requeued.
func (w *ReportWorker) HandleReportRequest(ctx context.Context, req *amqp.ReportRequest) error {
	start := time.Now()
	w.logger.InfoContext(ctx, "Processing report request",
		applog.FieldRequestID, req.RequestID,
		applog.FieldView, req.View)

	report, err := w.render(ctx, req.View)
	var res *amqp.ReportResult
	switch {
	case err == nil:
		res = amqp.NewReportResult(req, report)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		w.logger.WarnContext(ctx, "Report request failed",
			applog.FieldRequestID, req.RequestID,
			applog.FieldView, req.View,
			applog.FieldError, err)
		res = amqp.NewErrorResult(req, err)
	}

	if err := w.publisher.PublishResult(ctx, res); err != nil {
		return fmt.Errorf("publish result %s: %w", req.RequestID, err)
	}

	w.logger.InfoContext(ctx, "Report request completed",
		applog.FieldRequestID, req.RequestID,
		applog.FieldView, req.View,
		applog.FieldSuccess, res.Error == "",
		applog.FieldDuration, time.Since(start).Milliseconds())
	return nil
}

func (w *ReportWorker) render(ctx context.Context, name string) (manifest.Report, error) {
	view, err := w.manifest.View(name)
	if err != nil {
		return manifest.Report{}, err
	}
	agg, tables, err := w.snapshot(ctx)
	if err != nil {
		return manifest.Report{}, err
	}
	return w.renderer.Render(ctx, agg, tables, view)
}

// RunReloader reloads the dataset every interval until ctx is done
func (w *ReportWorker) RunReloader(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Load(ctx); err != nil {
				w.logger.ErrorContext(ctx, "Periodic reload failed",
					applog.FieldOperation, applog.OpReload,
					applog.FieldError, err)
			}
		}
	}
}
