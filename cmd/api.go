package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enrich/internal/model"
	"github.com/sells-group/lead-enrich/internal/pipeline"
	"github.com/sells-group/lead-enrich/internal/store"
)

// runDetail is the single-run response: the registry row plus the live
// per-provider record counts.
type runDetail struct {
	*model.Run
	Summary *model.StatusSummary `json:"summary"`
}

func buildRouter(env *pipelineEnv, runner *pipeline.Runner) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/runs", handleStartRun(runner))
		r.Get("/runs", handleListRuns(env))
		r.Get("/runs/{id}", handleGetRun(env))
		r.Get("/status", handleStatus(env))
	})

	// The callback listener's router matches full paths, so registering
	// it per-route keeps the root free of a catch-all mount.
	wh := env.Listener.Routes()
	r.Method(http.MethodPost, "/webhooks/apollo", wh)
	r.Method(http.MethodGet, "/healthz", wh)

	return r
}

func handleStartRun(runner *pipeline.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input  string `json:"input"`
			Output string `json:"output"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Input == "" {
			writeError(w, http.StatusBadRequest, "input is required")
			return
		}
		output := req.Output
		if output == "" {
			output = deriveOutputPath(req.Input)
		}

		run, err := runner.Start(r.Context(), pipeline.RunRequest{
			InputPath:  req.Input,
			OutputPath: output,
		})
		if err != nil {
			if errors.Is(err, pipeline.ErrRunActive) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			zap.L().Error("start run", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not start run")
			return
		}
		writeJSON(w, http.StatusAccepted, run)
	}
}

func handleListRuns(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.RunFilter{
			Status: model.RunStatus(r.URL.Query().Get("status")),
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			filter.Limit = limit
		}

		runs, err := env.Store.ListRuns(r.Context(), filter)
		if err != nil {
			zap.L().Error("list runs", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not list runs")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	}
}

func handleGetRun(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := env.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, store.ErrRunNotFound) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			zap.L().Error("get run", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not load run")
			return
		}

		summary, err := env.Store.StatusSummary(r.Context())
		if err != nil {
			zap.L().Error("status summary", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not load summary")
			return
		}
		writeJSON(w, http.StatusOK, runDetail{Run: run, Summary: summary})
	}
}

func handleStatus(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := env.Store.StatusSummary(r.Context())
		if err != nil {
			zap.L().Error("status summary", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not load summary")
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
