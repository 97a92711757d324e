// Package server exposes the helper manager to the host UI over a loopback HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/qzmanager/client/internal/helper"
	"github.com/netbirdio/qzmanager/client/internal/helper/cache"
	"github.com/netbirdio/qzmanager/client/internal/helper/downloader"
	"github.com/netbirdio/qzmanager/client/internal/helper/platform"
	"github.com/netbirdio/qzmanager/client/internal/metrics"
	"github.com/netbirdio/qzmanager/util"
)

const shutdownTimeout = 5 * time.Second

var defaultAllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}

// Manager is the part of helper.Manager the API drives
type Manager interface {
	Initialize(ctx context.Context, onProgress downloader.ProgressFunc) error
	Restart(ctx context.Context, onProgress downloader.ProgressFunc) error
	Status() helper.Status
	Target() platform.Target
	Cache() *cache.Cache
}

// LatestSource resolves the newest published helper version
type LatestSource interface {
	Latest(ctx context.Context, fallback string) string
}

type Options struct {
	// Releases is optional. Without it /version reports no latest release.
	Releases       LatestSource
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
}

// Server for service control.
type Server struct {
	rootCtx context.Context
	manager Manager
	opts    Options

	mutex        sync.Mutex
	httpServer   *http.Server
	initDone     chan struct{}
	lastProgress *downloader.Progress
}

// New server instance constructor.
func New(ctx context.Context, manager Manager, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = defaultAllowedOrigins
	}
	return &Server{
		rootCtx: ctx,
		manager: manager,
		opts:    opts,
	}
}

// Start runs the first initialization in the background so the API answers while the helper comes up
func (s *Server) Start() {
	s.mutex.Lock()
	if s.initDone != nil {
		s.mutex.Unlock()
		return
	}
	done := make(chan struct{})
	s.initDone = done
	s.mutex.Unlock()

	go func() {
		defer close(done)
		if err := s.manager.Initialize(s.rootCtx, s.recordProgress); err != nil {
			log.Errorf("helper initialization failed: %v", err)
			return
		}
		log.Infof("helper is ready")
	}()
}

// Initialized is closed once the initialization started by Start has finished, nil before Start
func (s *Server) Initialized() <-chan struct{} {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.initDone
}

// Serve handles API requests on l until Shutdown is called
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mutex.Lock()
	s.httpServer = srv
	s.mutex.Unlock()

	log.Infof("control API listening on %s", l.Addr())
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve control API: %w", err)
	}
	return nil
}

// ListenAndServe listens on the loopback address and serves the API
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(l)
}

// Shutdown stops the API. The detached helper keeps running.
func (s *Server) Shutdown() error {
	s.mutex.Lock()
	srv := s.httpServer
	s.mutex.Unlock()

	var err error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = srv.Shutdown(ctx)
	}
	return err
}

// Handler builds the API router
func (s *Server) Handler() http.Handler {
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	router := mux.NewRouter()
	router.Use(s.opts.Metrics.Middleware, corsMiddleware.Handler, logMiddleware)

	router.HandleFunc("/status", s.getStatus).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/restart", s.restart).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/version", s.getVersion).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/cache/prune", s.pruneCache).Methods(http.MethodPost, http.MethodOptions)

	if s.opts.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return router
}

func (s *Server) recordProgress(p downloader.Progress) {
	s.mutex.Lock()
	prev := s.lastProgress
	s.lastProgress = &p
	s.mutex.Unlock()

	if prev == nil || p.Percent/10 != prev.Percent/10 {
		log.Infof("downloading helper: %d%% (%s/%s MB)", p.Percent, p.DownloadedMB(), p.TotalMB())
	}
}

func (s *Server) progress() *downloader.Progress {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.lastProgress == nil {
		return nil
	}
	p := *s.lastProgress
	return &p
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), util.SourceKey, util.APISource)
		log.WithContext(ctx).Debugf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
