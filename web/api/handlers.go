package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/runstore"
)

// triggerRequest is the POST /api/runs body
type triggerRequest struct {
	FeatureDescription  string   `json:"feature_description"`
	TargetLanguages     []string `json:"target_languages"`
	RequestedBranchName string   `json:"requested_branch_name,omitempty"`
	Priority            string   `json:"priority,omitempty"`
}

// RunResponse is the API representation of a run
type RunResponse struct {
	ID              string   `json:"id"`
	Feature         string   `json:"feature"`
	Languages       []string `json:"languages"`
	Branch          string   `json:"branch,omitempty"`
	Priority        string   `json:"priority,omitempty"`
	Status          string   `json:"status"`
	Stage           string   `json:"stage,omitempty"`
	FailureStage    string   `json:"failure_stage,omitempty"`
	FailureLanguage string   `json:"failure_language,omitempty"`
	FailureDetail   string   `json:"failure_detail,omitempty"`
	CreatedAt       string   `json:"created_at"`
	StartedAt       *string  `json:"started_at,omitempty"`
	FinishedAt      *string  `json:"finished_at,omitempty"`
}

// ResultResponse is the API representation of a test execution
type ResultResponse struct {
	Language  string               `json:"language"`
	Attempt   int                  `json:"attempt"`
	Outcome   string               `json:"outcome"`
	Failures  []domain.TestFailure `json:"failures,omitempty"`
	Duration  string               `json:"duration"`
	CreatedAt string               `json:"created_at"`
}

// ArtifactResponse lists an artifact without its content
type ArtifactResponse struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Stage    string `json:"stage"`
	Version  int    `json:"version"`
}

// ReviewResponse is the API representation of a review report
type ReviewResponse struct {
	Findings  []domain.Finding `json:"findings"`
	CreatedAt string           `json:"created_at"`
}

// ChangeSetResponse is the API representation of a published changeset
type ChangeSetResponse struct {
	Ref         string `json:"ref"`
	ReviewState string `json:"review_state"`
	PublishedAt string `json:"published_at"`
}

// RunDetailResponse is the GET /api/runs/{id} body
type RunDetailResponse struct {
	Run       RunResponse        `json:"run"`
	Results   []ResultResponse   `json:"results"`
	Artifacts []ArtifactResponse `json:"artifacts"`
	Review    *ReviewResponse    `json:"review,omitempty"`
	ChangeSet *ChangeSetResponse `json:"changeset,omitempty"`
}

// StatusResponse is the GET /api/status body
type StatusResponse struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func optTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := timestamp(*t)
	return &s
}

func runToResponse(r *domain.Run) RunResponse {
	return RunResponse{
		ID:              r.ID,
		Feature:         r.Feature,
		Languages:       r.Languages,
		Branch:          r.Branch,
		Priority:        string(r.Priority),
		Status:          string(r.Status),
		Stage:           string(r.Stage),
		FailureStage:    string(r.FailureStage),
		FailureLanguage: r.FailureLanguage,
		FailureDetail:   r.FailureDetail,
		CreatedAt:       timestamp(r.CreatedAt),
		StartedAt:       optTimestamp(r.StartedAt),
		FinishedAt:      optTimestamp(r.FinishedAt),
	}
}

func resultToResponse(r *domain.TestResult) ResultResponse {
	return ResultResponse{
		Language:  r.Language,
		Attempt:   r.Attempt,
		Outcome:   string(r.Outcome),
		Failures:  r.Failures,
		Duration:  r.Duration.String(),
		CreatedAt: timestamp(r.CreatedAt),
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		runs, err := s.store.ListRuns(runstore.ListOptions{})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := StatusResponse{Total: len(runs)}
		for _, run := range runs {
			switch run.Status {
			case domain.RunPending:
				resp.Pending++
			case domain.RunRunning:
				resp.Running++
			case domain.RunSucceeded:
				resp.Succeeded++
			case domain.RunFailed:
				resp.Failed++
			case domain.RunCancelled:
				resp.Cancelled++
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) runsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.listRuns(w, r)
		case http.MethodPost:
			s.triggerRun(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	opts := runstore.ListOptions{
		Status: domain.RunStatus(r.URL.Query().Get("status")),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = limit
	}

	runs, err := s.store.ListRuns(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runToResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not available")
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	priority := domain.Priority(req.Priority)
	switch priority {
	case domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow:
	case "normal":
		priority = domain.PriorityNormal
	default:
		writeError(w, http.StatusBadRequest, "invalid priority")
		return
	}

	run, err := s.trigger.Trigger(req.FeatureDescription, req.TargetLanguages, req.RequestedBranchName, priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, runToResponse(run))
}

// runHandler dispatches /api/runs/{id} and its sub-actions
func (s *Server) runHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		parts := strings.SplitN(rest, "/", 2)
		runID := parts[0]
		if runID == "" {
			writeError(w, http.StatusNotFound, "run ID required")
			return
		}

		action := ""
		if len(parts) == 2 {
			action = parts[1]
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			s.runDetail(w, runID)
		case action == "cancel" && r.Method == http.MethodPost:
			s.cancelRun(w, runID)
		case action == "approve" && r.Method == http.MethodPost:
			s.approveRun(w, runID)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	}
}

func (s *Server) runDetail(w http.ResponseWriter, runID string) {
	run, err := s.store.GetRun(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	detail := RunDetailResponse{Run: runToResponse(run)}

	results, err := s.store.ListResults(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	detail.Results = make([]ResultResponse, 0, len(results))
	for _, res := range results {
		detail.Results = append(detail.Results, resultToResponse(res))
	}

	artifacts, err := s.store.LatestArtifacts(runID, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	detail.Artifacts = make([]ArtifactResponse, 0, len(artifacts))
	for _, a := range artifacts {
		detail.Artifacts = append(detail.Artifacts, ArtifactResponse{
			Path:     a.Path,
			Language: a.Language,
			Stage:    string(a.Stage),
			Version:  a.Version,
		})
	}

	if report, err := s.store.GetReviewReport(runID); err == nil && report != nil {
		detail.Review = &ReviewResponse{
			Findings:  report.Findings,
			CreatedAt: timestamp(report.CreatedAt),
		}
	}
	if cs, err := s.store.GetChangeSet(runID); err == nil && cs != nil {
		detail.ChangeSet = &ChangeSetResponse{
			Ref:         cs.Ref,
			ReviewState: string(cs.ReviewState),
			PublishedAt: timestamp(cs.PublishedAt),
		}
	}

	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) cancelRun(w http.ResponseWriter, runID string) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not available")
		return
	}
	if err := s.trigger.Cancel(runID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) approveRun(w http.ResponseWriter, runID string) {
	if s.approver == nil {
		writeError(w, http.StatusServiceUnavailable, "publisher not available")
		return
	}
	if err := s.approver.Approve(runID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}
