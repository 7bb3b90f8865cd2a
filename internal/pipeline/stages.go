package pipeline

import (
	"context"

	"github.com/brunohmelo/docpipe-back/internal/retry"
)

// LoadChunksFn reports how many chunks the fast phase left behind. A zero
// count is a fatal precondition for the refinement phase.
type LoadChunksFn func(ctx context.Context, jobID, namespace, domain string) (int, error)

// StageSet holds the external collaborator functions for both phases. The
// coordinator never inspects their side effects; stages must be idempotent
// enough to tolerate at-least-once retry.
type StageSet struct {
	// Phase 1, executed synchronously in order.
	Parse           retry.StageFn
	Chunk           retry.StageFn
	Embed           retry.StageFn
	Index           retry.StageFn
	ExtractEntities retry.StageFn

	// Phase 2, executed asynchronously in order, each under stage-level retry.
	LoadChunks     LoadChunksFn
	LLMExtract     retry.StageFn
	GraphIndex     retry.StageFn
	UpdateMetadata retry.StageFn
}

type stage struct {
	label      string
	checkpoint float64
	fn         retry.StageFn
}
