package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

type JobStatus string

const (
	JobStatusProcessingFast       JobStatus = "processing_fast"
	JobStatusProcessingBackground JobStatus = "processing_background"
	JobStatusReady                JobStatus = "ready"
	JobStatusFailed               JobStatus = "failed"
)

// Terminal reports whether no further status transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusReady || s == JobStatusFailed
}

// Stage labels recorded in JobStatusRecord.CurrentPhase.
const (
	PhaseParsing            = "parsing"
	PhaseChunking           = "chunking"
	PhaseEmbedding          = "embedding"
	PhaseIndexing           = "indexing"
	PhaseEntityExtraction   = "entity_extraction"
	PhaseFastUploadComplete = "fast_upload_complete"
	PhaseLoadingChunks      = "loading_chunks"
	PhaseLLMExtraction      = "llm_extraction"
	PhaseGraphIndexing      = "graph_indexing"
	PhaseMetadataUpdate     = "metadata_update"
	PhaseCompleted          = "completed"
	PhaseFailed             = "failed"
)

// JobStatusRecord is the persisted view of a job moving through both phases.
type JobStatusRecord struct {
	JobID        string    `json:"job_id"`
	Status       JobStatus `json:"status"`
	ProgressPct  float64   `json:"progress_pct"`
	CurrentPhase string    `json:"current_phase"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Namespace    string    `json:"namespace"`
	Domain       string    `json:"domain"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DeriveJobID builds a deterministic job ID from the partition keys and the
// input path, so resubmitting the same document maps to the same record.
func DeriveJobID(namespace, domain, filePath string) string {
	joined := strings.Join([]string{namespace, domain, filePath}, "|")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:16])
}
