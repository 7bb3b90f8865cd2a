package handlers

import (
	"net/http"
	"strings"
)

// Jobs dispatches /v1/jobs/{id} and /v1/jobs/{id}/resume.
func (api *API) Jobs(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	jobID, action, _ := strings.Cut(rest, "/")
	switch {
	case action == "" && r.Method == http.MethodGet:
		api.jobStatus(w, r, jobID)
	case action == "" && r.Method == http.MethodDelete:
		api.clearJob(w, r, jobID)
	case action == "resume" && r.Method == http.MethodPost:
		api.resumeJob(w, r, jobID)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) jobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	record, found, err := api.pipeline.Status(r.Context(), jobID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job status")
		return
	}
	if !found {
		writeError(w, r, http.StatusNotFound, "not_found", "job not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (api *API) clearJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := api.pipeline.ClearStatus(r.Context(), jobID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to delete job status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "deleted": true})
}

func (api *API) resumeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := api.pipeline.ResumeRefinement(r.Context(), jobID); err != nil {
		writeError(w, r, http.StatusConflict, "resume_rejected", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID, "status_url": "/v1/jobs/" + jobID})
}

// ListJobs serves the operational dashboard scan.
func (api *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	records, err := api.pipeline.ListStatuses(r.Context(), strings.TrimSpace(r.URL.Query().Get("namespace")))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list job statuses")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  records,
		"total": len(records),
	})
}
