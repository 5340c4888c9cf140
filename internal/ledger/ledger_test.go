package ledger

import (
	"context"
	"path/filepath"
	"testing"
)

func TestRecordAndLookupJob(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	ctx := context.Background()
	if err := l.RecordJob(ctx, "750x01", "Account", "insert", "Open"); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}
	if err := l.RecordBatch(ctx, "750x01", "751x01", "Queued", "", 0, 0); err != nil {
		t.Fatalf("RecordBatch: %v", err)
	}

	// Upsert moves the batch to its terminal state without duplicating rows.
	if err := l.RecordBatch(ctx, "750x01", "751x01", "Completed", "", 10, 1); err != nil {
		t.Fatalf("RecordBatch update: %v", err)
	}

	// A state-only update must not wipe the stored descriptor.
	if err := l.RecordJob(ctx, "750x01", "", "", "Closed"); err != nil {
		t.Fatalf("RecordJob state-only: %v", err)
	}

	job, err := l.Job(ctx, "750x01")
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if job.Object != "Account" || job.Operation != "insert" {
		t.Errorf("job descriptor = %q/%q, want Account/insert", job.Object, job.Operation)
	}
	if job.State != "Closed" {
		t.Errorf("job state = %q, want Closed", job.State)
	}
	if len(job.Batches) != 1 {
		t.Fatalf("len(Batches) = %d, want 1", len(job.Batches))
	}
	b := job.Batches[0]
	if b.State != "Completed" || b.RecordsProcessed != 10 || b.RecordsFailed != 1 {
		t.Errorf("batch = %+v, want Completed/10/1", b)
	}
}

func TestOpenJobs(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	ctx := context.Background()
	if err := l.RecordJob(ctx, "750a", "Account", "insert", "Open"); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}
	if err := l.RecordJob(ctx, "750b", "Contact", "update", "Closed"); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}

	open, err := l.OpenJobs(ctx)
	if err != nil {
		t.Fatalf("OpenJobs: %v", err)
	}
	if len(open) != 1 || open[0].JobID != "750a" {
		t.Fatalf("OpenJobs = %+v, want only 750a", open)
	}

	// Closing the job removes it from the open set.
	if err := l.RecordJob(ctx, "750a", "Account", "insert", "Closed"); err != nil {
		t.Fatalf("RecordJob close: %v", err)
	}
	open, err = l.OpenJobs(ctx)
	if err != nil {
		t.Fatalf("OpenJobs: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("OpenJobs after close = %+v, want empty", open)
	}
}
