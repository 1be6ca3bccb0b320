// Package api exposes centrix-ci's build, step, and KPI state as a
// read-oriented JSON API, plus a manual build trigger.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/centrixci/centrix-ci/internal/store"
)

const defaultBuildsLimit = 20
const defaultKPIDays = 30

// Server serves the query API for a single tenant.
type Server struct {
	store    *store.Store
	tenantID string
	mux      *http.ServeMux
	log      *zap.Logger
}

// New builds a Server and registers its routes.
func New(st *store.Store, tenantID string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{store: st, tenantID: tenantID, mux: http.NewServeMux(), log: log}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /ci/api/healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /ci/api/projects", s.handleListProjects)
	s.mux.HandleFunc("GET /ci/api/builds", s.handleListBuilds)
	s.mux.HandleFunc("GET /ci/api/builds/latest", s.handleLatestBuild)
	s.mux.HandleFunc("POST /ci/api/builds/trigger", s.handleManualTrigger)
	s.mux.HandleFunc("GET /ci/api/builds/{id}", s.handleGetBuild)
	s.mux.HandleFunc("GET /ci/api/kpi/success_rate", s.handleSuccessRate)
	s.mux.HandleFunc("GET /ci/api/kpi/avg_duration", s.handleAvgDuration)
	s.mux.HandleFunc("GET /ci/api/kpi/env_utilization", s.handleEnvUtilization)
	s.mux.HandleFunc("GET /ci/api/kpi/builds_by_status", s.handleBuildsByStatus)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context(), s.tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list projects: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// buildWithSteps is the wire shape for a build in the query API: the
// build's own fields plus its steps, ordered by sequence.
type buildWithSteps struct {
	store.Build
	Steps []store.Step `json:"steps"`
}

func (s *Server) attachSteps(r *http.Request, b store.Build) (buildWithSteps, error) {
	steps, err := s.store.ListSteps(r.Context(), b.ID)
	if err != nil {
		return buildWithSteps{}, err
	}
	return buildWithSteps{Build: b, Steps: steps}, nil
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	build, err := s.store.GetBuild(r.Context(), s.tenantID, r.PathValue("id"))
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "build not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get build: "+err.Error())
		return
	}
	withSteps, err := s.attachSteps(r, *build)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list steps: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, withSteps)
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	limit := defaultBuildsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	builds, err := s.store.ListBuilds(r.Context(), s.tenantID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list builds: "+err.Error())
		return
	}
	withSteps := make([]buildWithSteps, 0, len(builds))
	for _, b := range builds {
		bws, err := s.attachSteps(r, b)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list steps: "+err.Error())
			return
		}
		withSteps = append(withSteps, bws)
	}
	writeJSON(w, http.StatusOK, map[string]any{"builds": withSteps})
}

func (s *Server) handleLatestBuild(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	branch := r.URL.Query().Get("branch")
	build, err := s.store.LatestBuild(r.Context(), s.tenantID, projectID, branch)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "no build for project/branch")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get latest build: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, build)
}

type manualTriggerRequest struct {
	ProjectID string `json:"project_id"`
	Branch    string `json:"branch"`
	CommitSHA string `json:"commit_sha"`
}

// handleManualTrigger inserts a pending build outside of any webhook
// delivery, using the same dedup fingerprint scheme as a push event.
func (s *Server) handleManualTrigger(w http.ResponseWriter, r *http.Request) {
	var req manualTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	project, err := s.store.GetProject(r.Context(), s.tenantID, req.ProjectID)
	if err == store.ErrNotFound {
		writeError(w, http.StatusBadRequest, "project not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve project: "+err.Error())
		return
	}

	fingerprint := req.CommitSHA + "-" + req.Branch + "-manual"
	build := &store.Build{
		TenantID:         s.tenantID,
		ProjectID:        project.ID,
		CommitSHA:        req.CommitSHA,
		Branch:           req.Branch,
		Author:           "manual",
		DedupFingerprint: fingerprint,
		TriggerEvent:     "manual",
	}
	if err := s.store.InsertBuild(r.Context(), build); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to insert build: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, build)
}

func daysParam(r *http.Request) int {
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultKPIDays
}

func (s *Server) handleSuccessRate(w http.ResponseWriter, r *http.Request) {
	total, success, rate, err := s.store.SuccessRateKPI(r.Context(), s.tenantID, daysParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute success rate: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "success": success, "rate": rate})
}

func (s *Server) handleAvgDuration(w http.ResponseWriter, r *http.Request) {
	avgMs, count, err := s.store.AvgDurationKPI(r.Context(), s.tenantID, daysParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute avg duration: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"avg_ms": avgMs, "count": count})
}

func (s *Server) handleEnvUtilization(w http.ResponseWriter, r *http.Request) {
	total, running, dormant, creating, err := s.store.EnvUtilizationKPI(r.Context(), s.tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute env utilization: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total": total, "running": running, "dormant": dormant, "creating": creating,
	})
}

func (s *Server) handleBuildsByStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.BuildsByStatusKPI(r.Context(), s.tenantID, daysParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute builds by status: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
