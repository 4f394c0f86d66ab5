package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/gosbatch/pkg/command"
	"github.com/3leaps/gosbatch/pkg/jobstore"
	"github.com/3leaps/gosbatch/pkg/lifecycle"
)

// API serves jobs, apps, and commands for one cluster connection.
type API struct {
	Jobs     *lifecycle.Controller
	Commands *command.Registry
	Logger   *zap.Logger
}

// Routes mounts the API on r.
func (a *API) Routes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", a.ListJobs)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/", a.GetJob)
			r.Delete("/", a.CleanupJob)
			r.Post("/submit", a.SubmitJob)
			r.Post("/cancel", a.CancelJob)
			r.Post("/refresh", a.RefreshJob)
			r.Get("/files", a.ListJobFiles)
			r.Get("/peek", a.PeekJobFile)
		})
	})
	r.Get("/apps", a.ListApps)
	r.Get("/apps/{name}", a.GetApp)
	r.Get("/queue", a.Queue)
	r.Get("/allocations", a.Allocations)

	r.Route("/commands", func(r chi.Router) {
		r.Get("/", a.ListCommands)
		r.Post("/", a.IssueCommand)
		r.Get("/{id}", a.PollCommand)
	})
}

func (a *API) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// ListJobs returns job ids; ?head=N keeps the first N.
func (a *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	head, err := intParam(r, "head")
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	ids, err := a.Jobs.List(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if head > 0 && head < len(ids) {
		ids = ids[:head]
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": ids})
}

func (a *API) loadJob(w http.ResponseWriter, r *http.Request) (jobstore.JobRecord, bool) {
	rec, err := a.Jobs.Load(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondWithError(w, r, err)
		return rec, false
	}
	return rec, true
}

func (a *API) GetJob(w http.ResponseWriter, r *http.Request) {
	if rec, ok := a.loadJob(w, r); ok {
		writeJSON(w, http.StatusOK, rec)
	}
}

type jobStep func(*lifecycle.Controller, *http.Request, jobstore.JobRecord) (jobstore.JobRecord, error)

func (a *API) mutate(step string, fn jobStep) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := a.loadJob(w, r)
		if !ok {
			return
		}
		next, err := fn(a.Jobs, r, rec)
		if err != nil {
			a.logger().Warn("Job step failed", zap.String("step", step), zap.String("job_id", rec.JobID), zap.Error(err))
			respondWithError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, next)
	}
}

func (a *API) SubmitJob(w http.ResponseWriter, r *http.Request) {
	a.mutate("submit", func(c *lifecycle.Controller, r *http.Request, rec jobstore.JobRecord) (jobstore.JobRecord, error) {
		return c.Submit(r.Context(), rec)
	})(w, r)
}

func (a *API) CancelJob(w http.ResponseWriter, r *http.Request) {
	a.mutate("cancel", func(c *lifecycle.Controller, r *http.Request, rec jobstore.JobRecord) (jobstore.JobRecord, error) {
		return c.Cancel(r.Context(), rec)
	})(w, r)
}

func (a *API) CleanupJob(w http.ResponseWriter, r *http.Request) {
	a.mutate("cleanup", func(c *lifecycle.Controller, r *http.Request, rec jobstore.JobRecord) (jobstore.JobRecord, error) {
		return c.Cleanup(r.Context(), rec)
	})(w, r)
}

func (a *API) RefreshJob(w http.ResponseWriter, r *http.Request) {
	a.mutate("refresh", func(c *lifecycle.Controller, r *http.Request, rec jobstore.JobRecord) (jobstore.JobRecord, error) {
		return c.Refresh(r.Context(), rec)
	})(w, r)
}

func (a *API) ListJobFiles(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.loadJob(w, r)
	if !ok {
		return
	}
	entries, err := a.Jobs.ListFiles(r.Context(), rec, r.URL.Query().Get("path"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": entries})
}

func (a *API) PeekJobFile(w http.ResponseWriter, r *http.Request) {
	head, err := intParam(r, "head")
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	tail, err := intParam(r, "tail")
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	rec, ok := a.loadJob(w, r)
	if !ok {
		return
	}
	out, err := a.Jobs.Peek(r.Context(), rec, r.URL.Query().Get("path"), head, tail)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": out})
}

func (a *API) ListApps(w http.ResponseWriter, r *http.Request) {
	names, err := a.Jobs.Apps().List(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"apps": names})
}

func (a *API) GetApp(w http.ResponseWriter, r *http.Request) {
	app, err := a.Jobs.Apps().Load(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (a *API) Queue(w http.ResponseWriter, r *http.Request) {
	out, err := a.Jobs.Queue(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": out})
}

func (a *API) Allocations(w http.ResponseWriter, r *http.Request) {
	out, err := a.Jobs.Allocations(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allocations": out})
}

type issueRequest struct {
	Cmd string `json:"cmd"`
}

// IssueCommand starts a command and answers 202 with its STARTED snapshot.
func (a *API) IssueCommand(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, fmt.Errorf("%w: decode body: %v", errBadRequest, err))
		return
	}
	cmd, err := a.Commands.Issue(r.Context(), req.Cmd)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, cmd)
}

func (a *API) ListCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"commands": a.Commands.List()})
}

// PollCommand polls a command; ?wait=true blocks until it finishes and
// ?max_bytes=N caps each stream read while it runs.
func (a *API) PollCommand(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, fmt.Errorf("%w: invalid command id %q", errBadRequest, chi.URLParam(r, "id")))
		return
	}
	maxBytes, err := intParam(r, "max_bytes")
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	var wait bool
	if s := r.URL.Query().Get("wait"); s != "" {
		if wait, err = strconv.ParseBool(s); err != nil {
			respondWithError(w, r, fmt.Errorf("%w: invalid wait %q", errBadRequest, s))
			return
		}
	}

	cmd, err := a.Commands.Poll(r.Context(), id, command.PollOptions{Wait: wait, MaxBytes: maxBytes})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

func intParam(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return n, nil
}
