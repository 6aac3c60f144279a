// Package server exposes extraction runs over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/aggregate"
	"github.com/sells-group/ecoparse/internal/document"
	"github.com/sells-group/ecoparse/internal/extract"
	"github.com/sells-group/ecoparse/internal/model"
	"github.com/sells-group/ecoparse/internal/pipeline"
	"github.com/sells-group/ecoparse/internal/store"
)

// Runner prepares runs. *pipeline.Pipeline satisfies it.
type Runner interface {
	Prepare(ctx context.Context, req pipeline.Request) (*pipeline.Job, error)
	Resume(ctx context.Context, runID string, writeReport bool) (*pipeline.Job, error)
	DefaultSettings() model.RunSettings
}

// ProjectLoader reads a project file.
type ProjectLoader func(path string) (*model.ProjectConfig, error)

// Server routes the run API.
type Server struct {
	runner   Runner
	store    store.Store
	jobs     *pipeline.Jobs
	projects ProjectLoader
	breakers func() map[string]string
	// runCtx bounds background runs; it is cancelled on shutdown.
	runCtx context.Context
}

// Option configures a Server.
type Option func(*Server)

// WithProjectLoader replaces model.LoadProject for reading project files.
func WithProjectLoader(fn ProjectLoader) Option {
	return func(s *Server) { s.projects = fn }
}

// WithBreakerStates reports circuit breaker states on /health.
func WithBreakerStates(fn func() map[string]string) Option {
	return func(s *Server) { s.breakers = fn }
}

// New creates a server. Background runs live until runCtx is done.
func New(runCtx context.Context, runner Runner, st store.Store, jobs *pipeline.Jobs, opts ...Option) *Server {
	s := &Server{
		runner:   runner,
		store:    st,
		jobs:     jobs,
		projects: model.LoadProject,
		runCtx:   runCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with CORS, request IDs and panic recovery.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(requestLogger)

	r.Get("/health", s.health)
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.startRun)
		r.Get("/", s.listRuns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Get("/results", s.runResults)
			r.Post("/stop", s.stopRun)
			r.Post("/resume", s.resumeRun)
		})
	})
	return r
}

// StartRequest is the body of POST /runs.
type StartRequest struct {
	Source        string   `json:"source"`
	ProjectPath   string   `json:"project_path"`
	Entities      []string `json:"entities,omitempty"`
	Pages         string   `json:"pages,omitempty"`
	Rank          string   `json:"rank,omitempty"`
	Taxon         string   `json:"taxon,omitempty"`
	Provider      string   `json:"provider,omitempty"`
	Model         string   `json:"model,omitempty"`
	Strategy      string   `json:"strategy,omitempty"`
	Concurrency   int      `json:"concurrency,omitempty"`
	ContextBefore *int     `json:"context_before,omitempty"`
	ContextAfter  *int     `json:"context_after,omitempty"`
	TopChars      *int     `json:"top_chars,omitempty"`
	BottomChars   *int     `json:"bottom_chars,omitempty"`
	Report        bool     `json:"report,omitempty"`
}

// RunView is a run plus live progress when it is executing.
type RunView struct {
	model.Run
	Active   bool               `json:"active"`
	Progress *pipeline.Snapshot `json:"progress,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok", "active_runs": s.jobs.Active()}
	if s.breakers != nil {
		body["breakers"] = s.breakers()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := s.buildRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.runner.Prepare(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	view := RunView{Run: *job.Run(), Active: true}
	s.jobs.Start(s.runCtx, job, nil)

	zap.L().Info("server: run started", zap.String("run_id", view.ID), zap.String("source", body.Source))
	writeJSON(w, http.StatusAccepted, view)
}

// buildRequest validates body and applies it over the default settings.
func (s *Server) buildRequest(body StartRequest) (pipeline.Request, error) {
	if body.Source == "" {
		return pipeline.Request{}, eris.New("source is required")
	}
	if body.ProjectPath == "" {
		return pipeline.Request{}, eris.New("project_path is required")
	}
	project, err := s.projects(body.ProjectPath)
	if err != nil {
		return pipeline.Request{}, err
	}
	pages, err := document.ParsePageRange(body.Pages)
	if err != nil {
		return pipeline.Request{}, err
	}

	settings := s.runner.DefaultSettings()
	if body.Provider != "" {
		settings.Provider = body.Provider
	}
	settings.Model = body.Model
	if body.Strategy != "" {
		if settings.Strategy, err = model.ParseStrategy(body.Strategy); err != nil {
			return pipeline.Request{}, err
		}
	}
	if body.Concurrency > 0 {
		settings.Concurrency = body.Concurrency
	}
	overrideInt(&settings.ContextBefore, body.ContextBefore)
	overrideInt(&settings.ContextAfter, body.ContextAfter)
	overrideInt(&settings.TopChars, body.TopChars)
	overrideInt(&settings.BottomChars, body.BottomChars)

	return pipeline.Request{
		Source:   body.Source,
		Project:  project,
		Entities: model.EntitiesFromNames(body.Entities),
		Pages:    pages,
		Rank:     body.Rank,
		Taxon:    body.Taxon,
		Settings: settings,
		Report:   body.Report,
	}, nil
}

func overrideInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{Status: model.RunStatus(q.Get("status"))}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), 50); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, s.view(run))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.view(*run))
}

func (s *Server) runResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	schema, err := run.Project.Schema()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	results, err := s.store.ListResults(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	table := aggregate.Flatten(results, schema)
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  id,
		"header":  table.Header,
		"records": table.Records(),
	})
}

func (s *Server) stopRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.jobs.Stop(id) {
		if _, err := s.store.GetRun(r.Context(), id); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeError(w, http.StatusConflict, "run is not active")
		return
	}
	zap.L().Info("server: stop requested", zap.String("run_id", id))
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "stopping"})
}

func (s *Server) resumeRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// Loading the document takes a while; the reservation keeps a second
	// resume of the same run out until this one has started or failed.
	if !s.jobs.Reserve(id) {
		writeError(w, http.StatusConflict, "run is already active")
		return
	}
	job, err := s.runner.Resume(r.Context(), id, r.URL.Query().Get("report") == "true")
	if err != nil {
		s.jobs.Release(id)
		writeError(w, statusFor(err), err.Error())
		return
	}
	view := RunView{Run: *job.Run(), Active: true}
	if !s.jobs.Start(s.runCtx, job, nil) {
		job.Close()
		writeError(w, http.StatusConflict, "run is already active")
		return
	}
	zap.L().Info("server: run resumed", zap.String("run_id", id))
	writeJSON(w, http.StatusAccepted, view)
}

func (s *Server) view(run model.Run) RunView {
	v := RunView{Run: run}
	if job, ok := s.jobs.Get(run.ID); ok {
		snap := job.Snapshot()
		v.Active = true
		v.Progress = &snap
	}
	return v
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, eris.Errorf("invalid integer %q", s)
	}
	return n, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case eris.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case eris.Is(err, extract.ErrNoEntities), eris.Is(err, extract.ErrNoChunkSource):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// ListenAndServe serves on addr until ctx is done, then stops active runs
// and shuts down within the grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server: listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !eris.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server: listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("server: shutting down", zap.Int("active_runs", s.jobs.Active()))
	s.jobs.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	s.jobs.Wait()
	return nil
}
