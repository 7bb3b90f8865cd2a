package stages

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"sync"
	"unicode"

	"github.com/brunohmelo/docpipe-back/internal/pipeline"
)

// Local is a self-contained stage set used when no external parser, embedder
// or index services are configured. Everything lives in process memory; the
// point is exercising the full pipeline, not producing useful indexes.
type Local struct {
	chunkSize int

	mu        sync.Mutex
	sources   map[string]string
	documents map[string]string
	chunks    map[string][]string
	vectors   map[string][]uint64
	indexed   map[string]bool
	entities  map[string][]string
	relations map[string][][2]string
	metadata  map[string]map[string]any
}

func NewLocal(chunkSize int) *Local {
	if chunkSize <= 0 {
		chunkSize = 800
	}
	return &Local{
		chunkSize: chunkSize,
		sources:   make(map[string]string),
		documents: make(map[string]string),
		chunks:    make(map[string][]string),
		vectors:   make(map[string][]uint64),
		indexed:   make(map[string]bool),
		entities:  make(map[string][]string),
		relations: make(map[string][][2]string),
		metadata:  make(map[string]map[string]any),
	}
}

// RegisterSource associates a job ID with the file path the parse stage will
// read. Stage functions only receive the job ID, so the path is registered
// ahead of submission.
func (l *Local) RegisterSource(jobID, filePath string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources[jobID] = filePath
}

// StageSet exposes the local implementations in pipeline contract form.
func (l *Local) StageSet() pipeline.StageSet {
	return pipeline.StageSet{
		Parse:           l.parse,
		Chunk:           l.chunk,
		Embed:           l.embed,
		Index:           l.index,
		ExtractEntities: l.extractEntities,
		LoadChunks:      l.loadChunks,
		LLMExtract:      l.llmExtract,
		GraphIndex:      l.graphIndex,
		UpdateMetadata:  l.updateMetadata,
	}
}

func (l *Local) parse(ctx context.Context, jobID, _, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	path, ok := l.sources[jobID]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("no source registered for job %s", jobID)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read source file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return fmt.Errorf("source file %s is empty", path)
	}

	l.mu.Lock()
	l.documents[jobID] = string(data)
	l.mu.Unlock()
	return nil
}

func (l *Local) chunk(ctx context.Context, jobID, _, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	text, ok := l.documents[jobID]
	if !ok {
		return fmt.Errorf("no parsed document for job %s", jobID)
	}

	runes := []rune(text)
	parts := make([]string, 0, len(runes)/l.chunkSize+1)
	for start := 0; start < len(runes); start += l.chunkSize {
		end := start + l.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		part := strings.TrimSpace(string(runes[start:end]))
		if part != "" {
			parts = append(parts, part)
		}
	}
	l.chunks[jobID] = parts
	return nil
}

func (l *Local) embed(ctx context.Context, jobID, _, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	parts := l.chunks[jobID]
	vectors := make([]uint64, 0, len(parts))
	for _, part := range parts {
		hasher := fnv.New64a()
		_, _ = hasher.Write([]byte(part))
		vectors = append(vectors, hasher.Sum64())
	}
	l.vectors[jobID] = vectors
	return nil
}

func (l *Local) index(ctx context.Context, jobID, _, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.vectors[jobID]) == 0 {
		return fmt.Errorf("no vectors to index for job %s", jobID)
	}
	l.indexed[jobID] = true
	return nil
}

func (l *Local) extractEntities(ctx context.Context, jobID, _, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]bool)
	found := make([]string, 0)
	for _, part := range l.chunks[jobID] {
		for _, token := range strings.Fields(part) {
			token = strings.Trim(token, ".,;:!?()[]\"'")
			if len(token) < 3 || !unicode.IsUpper([]rune(token)[0]) {
				continue
			}
			if !seen[token] {
				seen[token] = true
				found = append(found, token)
			}
		}
	}
	l.entities[jobID] = found
	return nil
}

func (l *Local) loadChunks(ctx context.Context, jobID, _, _ string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.chunks[jobID]), nil
}

func (l *Local) llmExtract(ctx context.Context, jobID, _, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entities := l.entities[jobID]
	pairs := make([][2]string, 0)
	for i := 1; i < len(entities); i++ {
		pairs = append(pairs, [2]string{entities[i-1], entities[i]})
	}
	l.relations[jobID] = pairs
	return nil
}

func (l *Local) graphIndex(ctx context.Context, jobID, _, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	meta := l.ensureMetadata(jobID)
	meta["graph_edges"] = len(l.relations[jobID])
	return nil
}

func (l *Local) updateMetadata(ctx context.Context, jobID, namespace, domainKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	meta := l.ensureMetadata(jobID)
	meta["namespace"] = namespace
	meta["domain"] = domainKey
	meta["chunk_count"] = len(l.chunks[jobID])
	meta["entity_count"] = len(l.entities[jobID])
	return nil
}

func (l *Local) ensureMetadata(jobID string) map[string]any {
	meta, ok := l.metadata[jobID]
	if !ok {
		meta = make(map[string]any)
		l.metadata[jobID] = meta
	}
	return meta
}
