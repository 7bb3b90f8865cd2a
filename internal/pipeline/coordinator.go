package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/brunohmelo/docpipe-back/internal/domain"
	"github.com/brunohmelo/docpipe-back/internal/registry"
	"github.com/brunohmelo/docpipe-back/internal/retry"
	"github.com/brunohmelo/docpipe-back/internal/status"
)

var (
	// ErrJobFinalized signals a resubmission against a terminal record; the
	// old record must be cleared or expire before the job can run again.
	ErrJobFinalized = errors.New("job already reached a terminal status")

	// ErrNoChunks is the fatal precondition raised when the refinement phase
	// finds nothing to work on.
	ErrNoChunks = errors.New("no chunks loaded for refinement")

	// ErrRefinementPending rejects resubmission while an earlier run still
	// owes its refinement; the job must be resumed or its record cleared.
	ErrRefinementPending = errors.New("job is awaiting background refinement")

	errMissingInput = errors.New("file path, namespace and domain are required")
)

// Coordinator drives the two-phase ingestion state machine. It owns no
// storage; it composes the status store, retry executor and job registry
// around the external stage set.
type Coordinator struct {
	store      status.Store
	registry   *registry.Registry
	executor   *retry.Executor
	stages     StageSet
	logger     *log.Logger
	refinement bool
}

type Config struct {
	Store    status.Store
	Registry *registry.Registry
	Executor *retry.Executor
	Stages   StageSet
	Logger   *log.Logger

	// DisableRefinement keeps Phase 2 from being enqueued automatically,
	// leaving jobs in processing_background for an external trigger.
	DisableRefinement bool
}

func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{
		store:      cfg.Store,
		registry:   cfg.Registry,
		executor:   cfg.Executor,
		stages:     cfg.Stages,
		logger:     cfg.Logger,
		refinement: !cfg.DisableRefinement,
	}
}

func (c *Coordinator) fastStages() []stage {
	return []stage{
		{label: domain.PhaseParsing, checkpoint: 10, fn: c.stages.Parse},
		{label: domain.PhaseChunking, checkpoint: 30, fn: c.stages.Chunk},
		{label: domain.PhaseEmbedding, checkpoint: 50, fn: c.stages.Embed},
		{label: domain.PhaseIndexing, checkpoint: 70, fn: c.stages.Index},
		{label: domain.PhaseEntityExtraction, checkpoint: 90, fn: c.stages.ExtractEntities},
	}
}

func (c *Coordinator) refinementStages() []stage {
	return []stage{
		{label: domain.PhaseLLMExtraction, checkpoint: 55, fn: c.stages.LLMExtract},
		{label: domain.PhaseGraphIndexing, checkpoint: 80, fn: c.stages.GraphIndex},
		{label: domain.PhaseMetadataUpdate, checkpoint: 95, fn: c.stages.UpdateMetadata},
	}
}

// SubmitJob runs Phase 1 synchronously and, on success, hands the job to the
// registry for asynchronous refinement. The returned job ID is deterministic
// for a given (namespace, domain, filePath) triple. Duplicate submissions
// are rejected while a refinement task runs or is pending, so the record
// never walks backwards from processing_background. Phase 1 has no retry;
// the first stage error fails the job and is returned to the caller.
func (c *Coordinator) SubmitJob(ctx context.Context, filePath, namespace, domainKey string) (string, error) {
	if strings.TrimSpace(filePath) == "" ||
		strings.TrimSpace(namespace) == "" ||
		strings.TrimSpace(domainKey) == "" {
		return "", errMissingInput
	}

	jobID := domain.DeriveJobID(namespace, domainKey, filePath)

	// Reject before any write or stage side effect: a live refinement task
	// owns this record, and a processing_background record without one is
	// resumable, not resubmittable. The record is consulted first so a job
	// whose task just wrote its terminal status answers ErrJobFinalized
	// even if the registry entry has not been reaped yet.
	if existing, found, err := c.store.Get(ctx, jobID); err != nil {
		return "", fmt.Errorf("check existing status: %w", err)
	} else if found {
		switch {
		case existing.Status.Terminal():
			return jobID, ErrJobFinalized
		case existing.Status == domain.JobStatusProcessingBackground:
			if c.registry.Active(jobID) {
				return jobID, registry.ErrAlreadyExists
			}
			return jobID, ErrRefinementPending
		}
		// A processing_fast leftover means the fast phase was interrupted
		// mid-run; the new submission overwrites it.
	}
	if c.registry.Active(jobID) {
		return jobID, registry.ErrAlreadyExists
	}

	progress := 0.0
	if err := c.writeStatus(ctx, jobID, namespace, domainKey,
		domain.JobStatusProcessingFast, progress, domain.PhaseParsing, ""); err != nil {
		return "", err
	}

	stages := c.fastStages()
	for i, current := range stages {
		if err := current.fn(ctx, jobID, namespace, domainKey); err != nil {
			c.markFailed(ctx, jobID, namespace, domainKey, current.label, progress, err)
			return jobID, fmt.Errorf("%s stage: %w", current.label, err)
		}
		progress = current.checkpoint

		if i == len(stages)-1 {
			break
		}
		if err := c.writeStatus(ctx, jobID, namespace, domainKey,
			domain.JobStatusProcessingFast, progress, stages[i+1].label, ""); err != nil {
			return jobID, err
		}
	}

	// Hand-off point: the caller gets control back while Phase 2 runs.
	if err := c.writeStatus(ctx, jobID, namespace, domainKey,
		domain.JobStatusProcessingBackground, 100, domain.PhaseFastUploadComplete, ""); err != nil {
		return jobID, err
	}

	if !c.refinement {
		return jobID, nil
	}
	if err := c.enqueueRefinement(jobID, namespace, domainKey); err != nil {
		return jobID, err
	}
	return jobID, nil
}

// ResumeRefinement re-triggers Phase 2 for a job stuck in
// processing_background, e.g. after a process restart.
func (c *Coordinator) ResumeRefinement(ctx context.Context, jobID string) error {
	record, found, err := c.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load status: %w", err)
	}
	if !found {
		return fmt.Errorf("job %s has no status record", jobID)
	}
	if record.Status != domain.JobStatusProcessingBackground {
		return fmt.Errorf("job %s is %s, not awaiting refinement", jobID, record.Status)
	}
	return c.enqueueRefinement(jobID, record.Namespace, record.Domain)
}

func (c *Coordinator) enqueueRefinement(jobID, namespace, domainKey string) error {
	err := c.registry.Enqueue(jobID, func(taskCtx context.Context) {
		c.runRefinement(taskCtx, jobID, namespace, domainKey)
	})
	if err != nil {
		return fmt.Errorf("enqueue refinement for %s: %w", jobID, err)
	}
	return nil
}

// runRefinement executes Phase 2 under stage-level retry. Earlier stages are
// never re-run after a later stage fails, and partial writes are not rolled
// back; stage idempotency is the collaborator's responsibility.
func (c *Coordinator) runRefinement(ctx context.Context, jobID, namespace, domainKey string) {
	// Phase 2 progress is a fresh counter; it does not continue Phase 1's.
	progress := 0.0
	if err := c.writeStatus(ctx, jobID, namespace, domainKey,
		domain.JobStatusProcessingBackground, progress, domain.PhaseLoadingChunks, ""); err != nil {
		c.logf("refinement aborted job_id=%s err=%v", jobID, err)
		return
	}

	loadChunks := func(ctx context.Context, jobID, namespace, domainKey string) error {
		count, err := c.stages.LoadChunks(ctx, jobID, namespace, domainKey)
		if err != nil {
			return err
		}
		if count == 0 {
			return retry.Fatal(ErrNoChunks)
		}
		return nil
	}
	if err := c.executor.Execute(ctx, loadChunks, jobID, namespace, domainKey); err != nil {
		c.markFailed(ctx, jobID, namespace, domainKey, domain.PhaseLoadingChunks, progress, err)
		return
	}
	progress = 25

	stages := c.refinementStages()
	if err := c.writeStatus(ctx, jobID, namespace, domainKey,
		domain.JobStatusProcessingBackground, progress, stages[0].label, ""); err != nil {
		c.logf("refinement aborted job_id=%s err=%v", jobID, err)
		return
	}

	for i, current := range stages {
		if err := c.executor.Execute(ctx, current.fn, jobID, namespace, domainKey); err != nil {
			c.markFailed(ctx, jobID, namespace, domainKey, current.label, progress, err)
			return
		}
		progress = current.checkpoint

		if i == len(stages)-1 {
			break
		}
		if err := c.writeStatus(ctx, jobID, namespace, domainKey,
			domain.JobStatusProcessingBackground, progress, stages[i+1].label, ""); err != nil {
			c.logf("refinement aborted job_id=%s err=%v", jobID, err)
			return
		}
	}

	if err := c.writeStatus(ctx, jobID, namespace, domainKey,
		domain.JobStatusReady, 100, domain.PhaseCompleted, ""); err != nil {
		c.logf("refinement completion write failed job_id=%s err=%v", jobID, err)
		return
	}
	c.logf("refinement completed job_id=%s namespace=%s", jobID, namespace)
}

// Status returns the persisted record for a job.
func (c *Coordinator) Status(ctx context.Context, jobID string) (domain.JobStatusRecord, bool, error) {
	return c.store.Get(ctx, jobID)
}

// ListStatuses returns all live records, optionally filtered by namespace.
func (c *Coordinator) ListStatuses(ctx context.Context, namespaceFilter string) ([]domain.JobStatusRecord, error) {
	return c.store.List(ctx, namespaceFilter)
}

// ClearStatus removes a record so the job can be resubmitted.
func (c *Coordinator) ClearStatus(ctx context.Context, jobID string) error {
	return c.store.Delete(ctx, jobID)
}

// ActiveJobs reports how many refinement tasks are currently running.
func (c *Coordinator) ActiveJobs() int {
	return c.registry.ActiveCount()
}

func (c *Coordinator) writeStatus(
	ctx context.Context,
	jobID, namespace, domainKey string,
	jobStatus domain.JobStatus,
	progress float64,
	phase string,
	errorMessage string,
) error {
	err := c.store.Set(ctx, domain.JobStatusRecord{
		JobID:        jobID,
		Status:       jobStatus,
		ProgressPct:  progress,
		CurrentPhase: phase,
		ErrorMessage: errorMessage,
		Namespace:    namespace,
		Domain:       domainKey,
	})
	if err != nil {
		return fmt.Errorf("write status %s/%s: %w", jobStatus, phase, err)
	}
	return nil
}

// markFailed records the terminal failure, keeping the progress of the last
// successful checkpoint and labelling the phase that failed. A shutdown
// cancellation is not a job failure: the record is left as-is so the job can
// be resumed later.
func (c *Coordinator) markFailed(
	ctx context.Context,
	jobID, namespace, domainKey, phase string,
	progress float64,
	cause error,
) {
	if errors.Is(cause, context.Canceled) {
		c.logf("job interrupted job_id=%s phase=%s", jobID, phase)
		return
	}
	err := c.writeStatus(context.WithoutCancel(ctx), jobID, namespace, domainKey,
		domain.JobStatusFailed, progress, phase, cause.Error())
	if err != nil {
		c.logf("failed-status write failed job_id=%s err=%v", jobID, err)
	}
	c.logf("job failed job_id=%s phase=%s err=%v", jobID, phase, cause)
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
