package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"payinsights/internal/cache"
	"payinsights/internal/dataset"
	applog "payinsights/internal/log"
	"payinsights/internal/manifest"
	"payinsights/internal/metrics"
	"payinsights/internal/middleware/ratelimit"
	"payinsights/internal/middleware/security"
	"payinsights/internal/middleware/trace"
	"payinsights/internal/sheets"
	"payinsights/internal/storage"
)

// ErrNotReady is returned while no dataset has been loaded.
var ErrNotReady = errors.New("dataset not loaded")

// ImportHistory reports on the stored extract of a database-backed source.
type ImportHistory interface {
	Count(ctx context.Context) (int, error)
	LastImport(ctx context.Context) (storage.Import, bool, error)
}

// Options configures a Server.
type Options struct {
	Addr               string
	Source             sheets.Source
	Manifest           *manifest.Manifest
	CacheSize          int
	CacheTTL           time.Duration
	RenderConcurrency  int
	RateLimitPerMinute int // 0 disables rate limiting
	Imports            ImportHistory // optional, shown on /readyz
	Logger             *applog.Logger
}

type Server struct {
	http.Server
	logger     *applog.Logger
	structured *applog.StructuredLogger

	source   sheets.Source
	imports  ImportHistory
	manifest *manifest.Manifest
	renderer *manifest.Renderer

	reports      *cache.LRUCache[manifest.Report]
	cacheManager *cache.Manager

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	startedAt        time.Time

	// mu guards the loaded dataset; queries take a snapshot under RLock.
	mu       sync.RWMutex
	agg      *metrics.Aggregator
	tables   map[string]dataset.Table
	loadedAt time.Time

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware. The dataset is not loaded until
// Reload is called.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.FromContext(context.Background())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	if opts.CacheSize < 1 {
		opts.CacheSize = 32
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}

	s := &Server{
		Server: http.Server{
			Addr:              opts.Addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:           logger,
		structured:       applog.NewStructuredLogger(logger),
		source:           opts.Source,
		imports:          opts.Imports,
		manifest:         opts.Manifest,
		renderer:         manifest.NewRenderer(opts.RenderConcurrency),
		reports:          cache.NewLRUCache[manifest.Report](opts.CacheSize, opts.CacheTTL),
		cacheManager:     cache.NewManager(),
		securityDetector: security.NewDetector(),
		startedAt:        time.Now(),
	}
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ExtractClientIP, logger)
	s.cacheManager.Register(s.reports)
	s.cacheManager.StartCleanup(opts.CacheTTL)

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("route not found").Write(w)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		MethodNotAllowedError().Write(w)
	})

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/views", s.handleListViews).Methods(http.MethodGet)
	api.HandleFunc("/views/{view}", s.handleRenderView).Methods(http.MethodGet)
	api.HandleFunc("/kpis", s.handleKPIs).Methods(http.MethodGet)
	api.HandleFunc("/rates/{dim}", s.handleRates).Methods(http.MethodGet)
	api.HandleFunc("/attempts", s.handleAttempts).Methods(http.MethodGet)
	api.HandleFunc("/retries", s.handleRetries).Methods(http.MethodGet)
	api.HandleFunc("/declines", s.handleTopDeclines).Methods(http.MethodGet)
	api.HandleFunc("/declines/{dim}", s.handleDeclinesBy).Methods(http.MethodGet)
	api.HandleFunc("/tables/{name}", s.handleTable).Methods(http.MethodGet)
	api.HandleFunc("/query/{kind}", s.handleQuery).Methods(http.MethodGet)
	api.HandleFunc("/reload", s.handleReload).Methods(http.MethodPost)

	// Outermost first: tracing, detection, headers, rate limiting.
	var handler http.Handler = router
	if opts.RateLimitPerMinute > 0 {
		s.rateLimiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute})
		handler = s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, onRateLimited)(handler)
	}
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.securityDetector.Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)
	s.Handler = handler

	return s
}

func onRateLimited(w http.ResponseWriter, r *http.Request) {
	applog.FromContext(r.Context()).WithComponent(applog.ComponentRateLimit).
		WarnContext(r.Context(), "Rate limit exceeded", applog.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded").Write(w)
}

// Reload reads the dataset and side tables from the source, swaps them in
// and purges cached reports. On error the previous dataset stays in place.
func (s *Server) Reload(ctx context.Context) (int, error) {
	if s.source == nil {
		return 0, errors.New("no dataset source configured")
	}
	start := time.Now()

	ds, err := s.source.LoadDataset(ctx)
	if err != nil {
		return 0, fmt.Errorf("load dataset: %w", err)
	}
	tables, err := s.source.Tables(ctx)
	if err != nil {
		return 0, fmt.Errorf("load tables: %w", err)
	}

	// Purge under the write lock so no render of the old dataset can be
	// cached after the swap.
	s.mu.Lock()
	s.agg = metrics.New(ds)
	s.tables = tables
	s.loadedAt = time.Now()
	s.reports.Purge()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Dataset loaded",
		applog.FieldOperation, applog.OpReload,
		applog.FieldRecords, ds.Len(),
		"tables", len(tables),
		applog.FieldDuration, time.Since(start).Milliseconds())
	return ds.Len(), nil
}

// Ready reports whether a dataset has been loaded.
func (s *Server) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agg != nil
}

// cacheReport stores report unless the dataset it was rendered from has
// been replaced. The check and the store share the read lock that Reload's
// swap and purge exclude.
func (s *Server) cacheReport(name string, from *metrics.Aggregator, report manifest.Report) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.agg != from {
		return false
	}
	s.reports.Set(name, report)
	return true
}

func (s *Server) snapshot() (*metrics.Aggregator, map[string]dataset.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.agg == nil {
		return nil, nil, ErrNotReady
	}
	return s.agg, s.tables, nil
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}
