// Package server exposes the browser session operations over a small JSON
// HTTP API. Every response carries a "success" flag; failures add "error"
// and, where one applies, "suggestion".
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pubino/bsp/pkg/browser"
	"github.com/pubino/bsp/pkg/keepalive"
	"github.com/pubino/bsp/pkg/logging"
	"github.com/pubino/bsp/pkg/sessionstore"
)

const shutdownTimeout = 10 * time.Second

// Browser is the session manager surface served over HTTP.
type Browser interface {
	IsReady() bool
	CurrentURL() string
	CreateInteractiveContext() (*browser.InteractiveResult, error)
	SaveStorageStateTo(store sessionstore.Store) (*browser.SaveResult, error)
	LoadAuthenticatedContextFrom(store sessionstore.Store) (*browser.LoadResult, error)
	CheckAuthentication() (*browser.AuthStatus, error)
	QueryContentTypes() (*browser.ContentTypes, error)
	QueryContent(opts browser.QueryOptions) (*browser.ContentList, error)
	GetContentDetail(nodeID int) (*browser.ContentDetail, error)
	CreateContent(contentType string, fields map[string]any) (*browser.CreateResult, error)
	UpdateContent(nodeID int, updates map[string]any) (*browser.UpdateResult, error)
	KeepaliveStatus() keepalive.Status
	StartKeepalive() error
	StopKeepalive()
	Close()
}

var _ Browser = (*browser.Manager)(nil)

// Options configures a Server.
type Options struct {
	Browser Browser
	// Store is the default session slot. Named slots are created next to it.
	Store  *sessionstore.FileStore
	Logger *logging.Logger
	// Quiet disables per-request logging.
	Quiet bool
}

// Server routes HTTP requests to a Browser.
type Server struct {
	browser Browser
	store   *sessionstore.FileStore
	logger  *logging.Logger
	router  chi.Router
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	s := &Server{
		browser: opts.Browser,
		store:   opts.Store,
		logger:  opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	if !opts.Quiet {
		r.Use(s.requestLogger)
	}
	r.Use(chimw.Recoverer)

	r.Get("/health", s.health)
	r.Get("/status", s.status)

	r.Route("/login", func(r chi.Router) {
		r.Post("/interactive", s.loginInteractive)
		r.Post("/save", s.loginSave)
		r.Post("/load", s.loginLoad)
		r.Get("/status", s.loginStatus)
	})

	r.Get("/content-types", s.contentTypes)
	r.Route("/content", func(r chi.Router) {
		r.Get("/", s.listContent)
		r.Post("/", s.createContent)
		r.Get("/{nodeID}", s.contentDetail)
		r.Put("/{nodeID}", s.updateContent)
	})

	r.Route("/keepalive", func(r chi.Router) {
		r.Get("/", s.keepaliveStatus)
		r.Post("/start", s.keepaliveStart)
		r.Post("/stop", s.keepaliveStop)
	})
	r.Post("/browser/close", s.browserClose)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no route for " + r.Method + " " + r.URL.Path})
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts the
// listener down gracefully. It does not close the browser.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Infof("%s %s -> %d in %s [%s]", r.Method, r.URL.RequestURI(), ww.Status(),
			time.Since(start).Round(time.Millisecond), chimw.GetReqID(r.Context()))
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	ok(w, map[string]any{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	ok(w, map[string]any{
		"ready":      s.browser.IsReady(),
		"currentUrl": s.browser.CurrentURL(),
		"keepalive":  s.browser.KeepaliveStatus(),
	})
}

func (s *Server) loginInteractive(w http.ResponseWriter, _ *http.Request) {
	res, err := s.browser.CreateInteractiveContext()
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, res)
}

// slot resolves the ?session= query parameter to a store.
func (s *Server) slot(r *http.Request) (*sessionstore.FileStore, error) {
	return s.store.Named(strings.TrimSpace(r.URL.Query().Get("session")))
}

func (s *Server) loginSave(w http.ResponseWriter, r *http.Request) {
	store, err := s.slot(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	res, err := s.browser.SaveStorageStateTo(store)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, res)
}

func (s *Server) loginLoad(w http.ResponseWriter, r *http.Request) {
	store, err := s.slot(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	res, err := s.browser.LoadAuthenticatedContextFrom(store)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, res)
}

func (s *Server) loginStatus(w http.ResponseWriter, _ *http.Request) {
	res, err := s.browser.CheckAuthentication()
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, res)
}

func (s *Server) contentTypes(w http.ResponseWriter, _ *http.Request) {
	res, err := s.browser.QueryContentTypes()
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, res)
}

func (s *Server) listContent(w http.ResponseWriter, r *http.Request) {
	opts := browser.QueryOptions{
		Limit: queryInt(r, "limit", browser.DefaultLimit),
		Page:  queryInt(r, "page", 1),
		Type:  strings.TrimSpace(r.URL.Query().Get("type")),
	}
	if opts.Limit <= 0 {
		opts.Limit = browser.DefaultLimit
	}
	if opts.Limit > browser.MaxLimit {
		opts.Limit = browser.MaxLimit
	}
	if opts.Page < 1 {
		opts.Page = 1
	}

	res, err := s.browser.QueryContent(opts)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, res)
}

func nodeID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "nodeID")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, errors.New("node id must be a positive integer, got " + strconv.Quote(raw))
	}
	return id, nil
}

func (s *Server) contentDetail(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	res, err := s.browser.GetContentDetail(id)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, res)
}

type createRequest struct {
	ContentType string         `json:"contentType"`
	Fields      map[string]any `json:"fields"`
}

func (s *Server) createContent(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	res, err := s.browser.CreateContent(req.ContentType, req.Fields)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, res)
}

// updateContent accepts {"updates": {...}} or a bare field map.
func (s *Server) updateContent(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	updates := body
	if nested, isMap := body["updates"].(map[string]any); isMap && len(body) == 1 {
		updates = nested
	}

	res, err := s.browser.UpdateContent(id, updates)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, res)
}

func (s *Server) keepaliveStatus(w http.ResponseWriter, _ *http.Request) {
	ok(w, map[string]any{"keepalive": s.browser.KeepaliveStatus()})
}

func (s *Server) keepaliveStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.browser.StartKeepalive(); err != nil {
		fail(w, err)
		return
	}
	ok(w, map[string]any{"keepalive": s.browser.KeepaliveStatus()})
}

func (s *Server) keepaliveStop(w http.ResponseWriter, _ *http.Request) {
	s.browser.StopKeepalive()
	ok(w, map[string]any{"keepalive": s.browser.KeepaliveStatus()})
}

func (s *Server) browserClose(w http.ResponseWriter, _ *http.Request) {
	s.browser.Close()
	ok(w, map[string]any{"message": "Browser closed"})
}
