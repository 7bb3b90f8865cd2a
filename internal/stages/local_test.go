package stages

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp doc: %v", err)
	}
	return path
}

func TestLocalStagesFullRun(t *testing.T) {
	local := NewLocal(16)
	set := local.StageSet()
	ctx := context.Background()

	content := "Alice met Bob in Paris. " + strings.Repeat("filler text here. ", 10)
	path := writeTempDoc(t, content)
	local.RegisterSource("job-1", path)

	for _, fn := range []func() error{
		func() error { return set.Parse(ctx, "job-1", "ns1", "docs") },
		func() error { return set.Chunk(ctx, "job-1", "ns1", "docs") },
		func() error { return set.Embed(ctx, "job-1", "ns1", "docs") },
		func() error { return set.Index(ctx, "job-1", "ns1", "docs") },
		func() error { return set.ExtractEntities(ctx, "job-1", "ns1", "docs") },
	} {
		if err := fn(); err != nil {
			t.Fatalf("fast stage failed: %v", err)
		}
	}

	count, err := set.LoadChunks(ctx, "job-1", "ns1", "docs")
	if err != nil {
		t.Fatalf("load chunks failed: %v", err)
	}
	if count == 0 {
		t.Fatal("expected chunks after the fast phase")
	}

	for _, fn := range []func() error{
		func() error { return set.LLMExtract(ctx, "job-1", "ns1", "docs") },
		func() error { return set.GraphIndex(ctx, "job-1", "ns1", "docs") },
		func() error { return set.UpdateMetadata(ctx, "job-1", "ns1", "docs") },
	} {
		if err := fn(); err != nil {
			t.Fatalf("refinement stage failed: %v", err)
		}
	}

	local.mu.Lock()
	defer local.mu.Unlock()
	if len(local.entities["job-1"]) == 0 {
		t.Fatal("expected entities from capitalized tokens")
	}
	if got := local.metadata["job-1"]["chunk_count"]; got != count {
		t.Fatalf("metadata chunk_count mismatch: %v != %d", got, count)
	}
	if got := local.metadata["job-1"]["namespace"]; got != "ns1" {
		t.Fatalf("metadata namespace mismatch: %v", got)
	}
}

func TestParseFailsForMissingSource(t *testing.T) {
	local := NewLocal(0)
	set := local.StageSet()

	if err := set.Parse(context.Background(), "unregistered", "ns1", "docs"); err == nil {
		t.Fatal("expected an error for an unregistered job")
	}

	local.RegisterSource("job-2", filepath.Join(t.TempDir(), "missing.txt"))
	if err := set.Parse(context.Background(), "job-2", "ns1", "docs"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestParseRejectsEmptyFile(t *testing.T) {
	local := NewLocal(0)
	path := writeTempDoc(t, "   \n\t ")
	local.RegisterSource("job-3", path)

	if err := local.StageSet().Parse(context.Background(), "job-3", "ns1", "docs"); err == nil {
		t.Fatal("expected an error for an empty file")
	}
}

func TestLoadChunksIsZeroForUnknownJob(t *testing.T) {
	local := NewLocal(0)
	count, err := local.StageSet().LoadChunks(context.Background(), "nope", "ns1", "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 chunks, got %d", count)
	}
}
