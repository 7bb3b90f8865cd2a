package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/brunohmelo/docpipe-back/internal/domain"
	"github.com/brunohmelo/docpipe-back/internal/pipeline"
	"github.com/brunohmelo/docpipe-back/internal/registry"
)

type submitRequest struct {
	FilePath  string `json:"file_path"`
	Namespace string `json:"namespace"`
	Domain    string `json:"domain"`
}

// SubmitDocument runs the fast phase synchronously and returns 202 at the
// hand-off point while background refinement continues.
func (api *API) SubmitDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request submitRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	request.FilePath = strings.TrimSpace(request.FilePath)
	request.Namespace = strings.TrimSpace(request.Namespace)
	request.Domain = strings.TrimSpace(request.Domain)
	if request.FilePath == "" || request.Namespace == "" || request.Domain == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "file_path, namespace and domain are required")
		return
	}

	if api.sources != nil {
		jobID := domain.DeriveJobID(request.Namespace, request.Domain, request.FilePath)
		api.sources.RegisterSource(jobID, request.FilePath)
	}

	jobID, err := api.pipeline.SubmitJob(r.Context(), request.FilePath, request.Namespace, request.Domain)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrAlreadyExists):
			writeError(w, r, http.StatusConflict, "duplicate_job", "job is already being processed")
		case errors.Is(err, pipeline.ErrRefinementPending):
			writeError(w, r, http.StatusConflict, "refinement_pending", "job is awaiting refinement; resume it or delete its status record")
		case errors.Is(err, pipeline.ErrJobFinalized):
			writeError(w, r, http.StatusConflict, "job_finalized", "job already finished; delete its status record to resubmit")
		default:
			writeError(w, r, http.StatusUnprocessableEntity, "processing_failed", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     jobID,
		"status":     string(domain.JobStatusProcessingBackground),
		"status_url": "/v1/jobs/" + jobID,
	})
}
