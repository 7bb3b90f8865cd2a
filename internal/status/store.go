package status

import (
	"context"
	"time"

	"github.com/brunohmelo/docpipe-back/internal/domain"
)

// DefaultTTL is the sliding expiry applied to records on every write.
const DefaultTTL = 24 * time.Hour

// Store abstracts persistence of job status records.
//
// Set upserts with a sliding TTL, preserves created_at and refuses to change a
// record that already reached a terminal status. Get reports found=false for
// absent or expired records and errors only on backend failure. Delete is a
// best-effort cleanup courtesy. List is a full scan for dashboards, filtered
// by namespace when the filter is non-empty.
type Store interface {
	Set(ctx context.Context, record domain.JobStatusRecord) error
	Get(ctx context.Context, jobID string) (domain.JobStatusRecord, bool, error)
	Delete(ctx context.Context, jobID string) error
	List(ctx context.Context, namespaceFilter string) ([]domain.JobStatusRecord, error)
}

// prepareWrite applies the shared upsert rules. It returns skip=true when the
// existing record is terminal and must not be overwritten.
func prepareWrite(
	existing *domain.JobStatusRecord,
	record domain.JobStatusRecord,
	now time.Time,
) (domain.JobStatusRecord, bool) {
	if existing != nil {
		if existing.Status.Terminal() {
			return record, true
		}
		record.CreatedAt = existing.CreatedAt
	} else if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	return record, false
}
