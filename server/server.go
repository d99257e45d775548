// Package server exposes the upload, analysis and report download API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/referto-app/referto/archive"
	"github.com/referto-app/referto/document"
	"github.com/referto-app/referto/observability"
	"github.com/referto-app/referto/report"
	"github.com/referto-app/referto/summarize"
	"github.com/referto-app/referto/tasks"
)

// Extractor turns an uploaded file into text.
type Extractor interface {
	Extract(ctx context.Context, name string, data []byte) (document.Result, error)
}

// Summarizer produces a summary for extracted text.
type Summarizer interface {
	Summarize(ctx context.Context, req summarize.Request) (summarize.Summary, error)
	Model() string
}

// Deps are the collaborators a Server routes requests to.
type Deps struct {
	Extractor  Extractor
	Summarizer Summarizer
	Renderer   *report.Renderer
	Store      *archive.Store
	Queue      *tasks.Queue
	Cache      *document.Cache
	// OCRName and OCRVersion are reported by /health.
	OCRName    string
	OCRVersion string
}

type Options struct {
	Addr            string
	MaxUploadBytes  int64
	MaxConnections  int
	UploadRetention time.Duration
	// Housekeeping is the cron spec for periodic cleanup. Empty disables it.
	Housekeeping string
}

// Server wraps the HTTP server and its dependencies.
type Server struct {
	opts   Options
	deps   Deps
	logger observability.Logger
	now    func() time.Time

	server *http.Server
	mux    *http.ServeMux
	cron   *housekeeper
}

func New(opts Options, deps Deps, logger observability.Logger) (*Server, error) {
	if deps.Extractor == nil || deps.Summarizer == nil || deps.Store == nil || deps.Queue == nil {
		return nil, errors.New("server: extractor, summarizer, store and queue are required")
	}
	if deps.Renderer == nil {
		deps.Renderer = report.NewRenderer(nil)
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if logger == nil {
		logger = observability.NopLogger{}
	}

	s := &Server{
		opts:   opts,
		deps:   deps,
		logger: logger,
		now:    time.Now,
		mux:    http.NewServeMux(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if opts.Housekeeping != "" {
		hk, err := newHousekeeper(s, opts.Housekeeping)
		if err != nil {
			return nil, err
		}
		s.cron = hk
	}
	return s, nil
}

// Handler is the routed mux wrapped in the request middleware.
func (s *Server) Handler() http.Handler {
	return loggingMiddleware(s.logger, recoverMiddleware(s.logger, s.mux))
}

// Serve accepts connections on ln until Shutdown. At most MaxConnections
// are served at once.
func (s *Server) Serve(ln net.Listener) error {
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}
	if s.cron != nil {
		s.cron.start()
	}
	s.logger.Info("api server listening", observability.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on Options.Addr and serves.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown stops accepting requests, waits for in-flight ones and then for
// queued tasks, all within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	if s.cron != nil {
		s.cron.stop()
	}
	err := s.server.Shutdown(ctx)
	if qerr := s.deps.Queue.Close(ctx); qerr != nil {
		err = errors.Join(err, qerr)
	}
	if err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func loggingMiddleware(logger observability.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			observability.String("method", r.Method),
			observability.String("path", r.URL.Path),
			observability.Int("status", rec.status),
			observability.Int("bytes", rec.bytes),
			observability.Duration("duration", time.Since(start)),
		)
	})
}

func recoverMiddleware(logger observability.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("handler panic",
					observability.String("path", r.URL.Path),
					observability.String("panic", fmt.Sprint(v)),
				)
				respondError(w, http.StatusInternalServerError, "Errore interno")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Nothing useful can be done if the client is gone.
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
