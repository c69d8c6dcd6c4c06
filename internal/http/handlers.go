package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	applog "payinsights/internal/log"
	"payinsights/internal/manifest"
	"payinsights/internal/middleware/trace"
)

// reloadTimeout bounds a dataset reload triggered over HTTP.
const reloadTimeout = 2 * time.Minute

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).String(),
	}).Write(w)
}

// handleReady reports ready once a dataset is loaded
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	loaded := s.agg != nil
	var records int
	loadedAt := s.loadedAt
	if loaded {
		records = s.agg.Dataset().Len()
	}
	s.mu.RUnlock()

	checks := map[string]any{
		"cache": s.reports.Stats(),
	}
	if loaded {
		checks["dataset"] = map[string]any{
			"status":    "ok",
			"records":   records,
			"loaded_at": loadedAt.Format(time.RFC3339),
		}
	} else {
		checks["dataset"] = map[string]any{"status": "not_loaded"}
	}
	if s.imports != nil {
		checks["storage"] = s.storageCheck(r.Context())
	}
	if s.rateLimiter != nil {
		checks["rate_limiter"] = map[string]any{
			"active_clients": s.rateLimiter.ActiveClients(),
			"status":         "ok",
		}
	}

	status, code := "ready", http.StatusOK
	if !loaded {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	NewJSONResponse().Status(code).Data(map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// storageCheck summarises the stored extract. Storage errors are reported
// but do not affect readiness, which only needs a loaded dataset.
func (s *Server) storageCheck(ctx context.Context) map[string]any {
	count, err := s.imports.Count(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "Storage readiness check failed", applog.FieldError, err)
		return map[string]any{"status": "error"}
	}
	check := map[string]any{"status": "ok", "records": count}
	imp, ok, err := s.imports.LastImport(ctx)
	switch {
	case err != nil:
		s.logger.WarnContext(ctx, "Storage readiness check failed", applog.FieldError, err)
		check["status"] = "error"
	case ok:
		check["last_import"] = imp
	}
	return check
}

// handleMetrics provides request, cache and security counters in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	traceMetrics := s.traceMiddleware.GetMetrics()
	securityMetrics := s.securityDetector.GetMetrics()
	cacheStats := s.reports.Stats()

	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", traceMetrics.TotalRequests)

	fmt.Fprintf(w, "# HELP http_response_time_average_us Average response time in microseconds\n")
	fmt.Fprintf(w, "# TYPE http_response_time_average_us gauge\n")
	fmt.Fprintf(w, "http_response_time_average_us %d\n\n", traceMetrics.AverageResponseTime)

	fmt.Fprintf(w, "# HELP report_cache_hits_total Total report cache hits\n")
	fmt.Fprintf(w, "# TYPE report_cache_hits_total counter\n")
	fmt.Fprintf(w, "report_cache_hits_total %d\n\n", cacheStats.Hits)

	fmt.Fprintf(w, "# HELP report_cache_misses_total Total report cache misses\n")
	fmt.Fprintf(w, "# TYPE report_cache_misses_total counter\n")
	fmt.Fprintf(w, "report_cache_misses_total %d\n\n", cacheStats.Misses)

	fmt.Fprintf(w, "# HELP report_cache_entries Current cached reports\n")
	fmt.Fprintf(w, "# TYPE report_cache_entries gauge\n")
	fmt.Fprintf(w, "report_cache_entries %d\n\n", cacheStats.Size)

	fmt.Fprintf(w, "# HELP suspicious_requests_total Total suspicious requests detected\n")
	fmt.Fprintf(w, "# TYPE suspicious_requests_total counter\n")
	fmt.Fprintf(w, "suspicious_requests_total %d\n\n", securityMetrics.SuspiciousRequests)

	if s.rateLimiter != nil {
		rl := s.rateLimiter.GetMetrics()
		fmt.Fprintf(w, "# HELP rate_limit_hits_total Total rate limit hits\n")
		fmt.Fprintf(w, "# TYPE rate_limit_hits_total counter\n")
		fmt.Fprintf(w, "rate_limit_hits_total %d\n\n", rl.TotalHits)
	}

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n", time.Since(s.startedAt).Seconds())
}

type viewSummary struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Sections    int    `json:"sections"`
}

func (s *Server) handleListViews(w http.ResponseWriter, r *http.Request) {
	views := make([]viewSummary, 0, len(s.manifest.Views))
	for _, v := range s.manifest.Views {
		views = append(views, viewSummary{
			Name:        v.Name,
			Title:       v.Title,
			Description: v.Description,
			Sections:    len(v.Sections),
		})
	}
	NewJSONResponse().Data(map[string]any{"views": views}).Write(w)
}

// handleRenderView serves a rendered report, from cache when possible
func (s *Server) handleRenderView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["view"]

	report, cacheHit, err := s.renderView(ctx, name)
	if err != nil {
		s.writeError(w, r, err, applog.OpRender)
		return
	}
	report.RequestID = trace.GetRequestID(ctx)
	NewJSONResponse().Data(report).Write(w)
	if cacheHit {
		s.structured.LogReportRendered(ctx, report.View, len(report.Sections), report.Failed(), 0, true)
	}
}

func (s *Server) renderView(ctx context.Context, name string) (manifest.Report, bool, error) {
	view, err := s.manifest.View(name)
	if err != nil {
		return manifest.Report{}, false, err
	}
	if report, ok := s.reports.Get(name); ok {
		return report, true, nil
	}

	agg, tables, err := s.snapshot()
	if err != nil {
		return manifest.Report{}, false, err
	}
	start := time.Now()
	report, err := s.renderer.Render(ctx, agg, tables, view)
	if err != nil {
		return manifest.Report{}, false, err
	}
	s.structured.LogReportRendered(ctx, report.View, len(report.Sections), report.Failed(), time.Since(start).Milliseconds(), false)

	s.cacheReport(name, agg, report)
	return report, false, nil
}

func (s *Server) handleKPIs(w http.ResponseWriter, r *http.Request) {
	s.query(w, r, manifest.Section{ID: "kpis", Kind: manifest.KindKPIs})
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	s.query(w, r, manifest.Section{ID: "rate_by", Kind: manifest.KindRateBy, Dim: mux.Vars(r)["dim"]})
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	s.query(w, r, manifest.Section{ID: "rate_by_attempt", Kind: manifest.KindRateByAttempt})
}

func (s *Server) handleRetries(w http.ResponseWriter, r *http.Request) {
	s.query(w, r, manifest.Section{ID: "retry_rate_by_processor", Kind: manifest.KindRetryRateByProcessor})
}

// handleTopDeclines serves the most frequent decline reasons, 10 by default
func (s *Server) handleTopDeclines(w http.ResponseWriter, r *http.Request) {
	params, err := ParseQueryParams(r.URL.Query(), manifest.DefaultTop)
	if err != nil {
		s.writeError(w, r, err, applog.OpQuery)
		return
	}
	s.query(w, r, params.Section(manifest.KindTopDeclines))
}

// handleDeclinesBy serves the decline cross-tab for a dimension. Without top
// every reason is returned.
func (s *Server) handleDeclinesBy(w http.ResponseWriter, r *http.Request) {
	params, err := ParseQueryParams(r.URL.Query(), 0)
	if err != nil {
		s.writeError(w, r, err, applog.OpQuery)
		return
	}
	params.Dim = mux.Vars(r)["dim"]
	s.query(w, r, params.Section(manifest.KindDeclinesBy))
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	params, err := ParseQueryParams(r.URL.Query(), 0)
	if err != nil {
		s.writeError(w, r, err, applog.OpQuery)
		return
	}
	params.Table = mux.Vars(r)["name"]
	s.query(w, r, params.Section(manifest.KindTable))
}

// handleQuery evaluates any section kind with parameters from the query string
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	kind := manifest.Kind(mux.Vars(r)["kind"])
	defaultTop := 0
	if kind == manifest.KindTopDeclines || kind == manifest.KindRecurringDeclines {
		defaultTop = manifest.DefaultTop
	}
	params, err := ParseQueryParams(r.URL.Query(), defaultTop)
	if err != nil {
		s.writeError(w, r, err, applog.OpQuery)
		return
	}
	s.query(w, r, params.Section(kind))
}

type queryResponse struct {
	Kind    manifest.Kind `json:"kind"`
	Source  string        `json:"source"`
	Records int           `json:"records"`
	Data    any           `json:"data"`
}

func (s *Server) query(w http.ResponseWriter, r *http.Request, section manifest.Section) {
	agg, tables, err := s.snapshot()
	if err != nil {
		s.writeError(w, r, err, applog.OpQuery)
		return
	}
	data, source, err := manifest.Evaluate(agg, tables, section)
	if err != nil {
		s.writeError(w, r, err, applog.OpQuery)
		return
	}
	NewJSONResponse().Data(queryResponse{
		Kind:    section.Kind,
		Source:  source,
		Records: agg.Dataset().Len(),
		Data:    data,
	}).Write(w)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), reloadTimeout)
	defer cancel()

	records, err := s.Reload(ctx)
	if err != nil {
		s.writeError(w, r, err, applog.OpReload)
		return
	}
	NewJSONResponse().Data(map[string]any{
		"status":  "reloaded",
		"records": records,
	}).Write(w)
}

// writeError logs server-side failures and writes the mapped error response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, op string) {
	ctx := r.Context()
	status := StatusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.structured.LogError(ctx, "Request failed", err, applog.ComponentHTTP, op,
			applog.NewFields().WithRequestID(trace.GetRequestID(ctx)))
	} else {
		applog.FromContext(ctx).DebugContext(ctx, "Request rejected",
			applog.FieldOperation, op,
			applog.FieldStatusCode, status,
			applog.FieldError, err.Error())
	}
	ErrorFrom(err).Write(w)
}
