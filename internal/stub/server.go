// Package stub serves a vearch-compatible master and router REST API backed by exact search.
// It lets the harness run without a real cluster.
package stub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/vearchprobe/internal/models"
	"go.uber.org/zap"
)

// Server is the stub's HTTP front: one listener for the master API and one for the router API.
type Server struct {
	cluster *Cluster
	logger  *zap.Logger
	master  *http.Server
	router  *http.Server
}

// NewServer creates a server over cluster.
func NewServer(cluster *Cluster, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cluster: cluster, logger: logger}
}

// MasterHandler serves database and space administration.
func (s *Server) MasterHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger("master"))
	r.Use(middleware.Recoverer)

	r.Get("/_cluster/stats", s.handleClusterStats)
	r.Get("/_cluster/health", s.handleClusterHealth)
	r.Get("/list/server", s.handleListServers)
	r.Get("/list/db", s.handleListDBs)
	r.Get("/list/space", s.handleListSpaces)

	r.Put("/db/_create", s.handleCreateDB)
	r.Get("/db/{db}", s.handleGetDB)
	r.Delete("/db/{db}", s.handleDeleteDB)

	r.Put("/space/{db}/_create", s.handleCreateSpace)
	r.Get("/space/{db}/{space}", s.handleGetSpace)
	r.Delete("/space/{db}/{space}", s.handleDeleteSpace)
	return r
}

// RouterHandler serves document operations.
func (s *Server) RouterHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger("router"))
	r.Use(middleware.Recoverer)

	r.Route("/{db}/{space}", func(r chi.Router) {
		r.Post("/", s.handleInsert)
		r.Post("/_search", s.handleSearch)
		r.Post("/_msearch", s.handleMultiSearch)
		r.Post("/_bulk", s.handleBulk)
		r.Post("/_delete_by_query", s.handleDeleteByQuery)
		r.Post("/{id}", s.handleInsert)
		r.Get("/{id}", s.handleGet)
		r.Delete("/{id}", s.handleDelete)
	})
	return r
}

// Start listens on both addresses and blocks until either listener stops.
func (s *Server) Start(masterAddr, routerAddr string) error {
	s.master = &http.Server{Addr: masterAddr, Handler: s.MasterHandler(), ReadHeaderTimeout: 10 * time.Second}
	s.router = &http.Server{Addr: routerAddr, Handler: s.RouterHandler(), ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 2)
	for _, srv := range []*http.Server{s.master, s.router} {
		go func(srv *http.Server) {
			s.logger.Info("Starting stub listener", zap.String("addr", srv.Addr))
			errc <- srv.ListenAndServe()
		}(srv)
	}
	err := <-errc
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down both listeners and closes the cluster's stores.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	for _, srv := range []*http.Server{s.master, s.router} {
		if srv != nil {
			errs = append(errs, srv.Shutdown(ctx))
		}
	}
	errs = append(errs, s.cluster.Close())
	return errors.Join(errs...)
}

func (s *Server) requestLogger(api string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			s.logger.Debug("stub request",
				zap.String("api", api),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondMaster writes a success envelope.
func (s *Server) respondMaster(w http.ResponseWriter, data interface{}) {
	reply := struct {
		Code int         `json:"code"`
		Msg  string      `json:"msg"`
		Data interface{} `json:"data,omitempty"`
	}{Code: models.CodeSuccess, Msg: models.MsgSuccess, Data: data}
	s.respondJSON(w, http.StatusOK, reply)
}

// respondError writes an error envelope; the HTTP status mirrors the code.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		apiErr = &apiError{Code: CodeInternal, Msg: err.Error()}
		s.logger.Error("stub request failed", zap.Error(err))
	}
	s.respondJSON(w, apiErr.Code, models.MasterReply{Code: apiErr.Code, Msg: apiErr.Msg})
}
