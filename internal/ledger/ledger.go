// Package ledger persists a local record of submitted jobs and batches so
// the CLIs can report on and re-attach to work that outlived a process.
package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// JobRecord mirrors the remote job descriptor at the time it was last seen.
type JobRecord struct {
	ID        uint   `gorm:"primaryKey"`
	JobID     string `gorm:"uniqueIndex;size:18"`
	Object    string
	Operation string
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time

	Batches []BatchRecord `gorm:"foreignKey:JobRef;references:JobID"`
}

// BatchRecord tracks one batch within a job, including the final counters
// reported by the remote service.
type BatchRecord struct {
	ID               uint   `gorm:"primaryKey"`
	BatchID          string `gorm:"uniqueIndex;size:18"`
	JobRef           string `gorm:"index;size:18"`
	State            string
	StateMessage     string
	RecordsProcessed int
	RecordsFailed    int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Ledger is a small gorm-backed store over a local SQLite file.
type Ledger struct {
	db *gorm.DB
}

// Open connects to the SQLite ledger at path, creating the directory and
// schema as needed.
func Open(path string) (*Ledger, error) {
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// WAL mode so the poller and the CLI summary can read concurrently
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA foreign_keys=ON")

	if err := db.AutoMigrate(&JobRecord{}, &BatchRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}

	return &Ledger{db: db}, nil
}

// RecordJob upserts the job descriptor keyed by its remote id. An empty
// object or operation leaves the stored value alone, so a state-only update
// cannot wipe a descriptor recorded earlier.
func (l *Ledger) RecordJob(ctx context.Context, jobID, object, operation, state string) error {
	assign := map[string]any{"state": state}
	if object != "" {
		assign["object"] = object
	}
	if operation != "" {
		assign["operation"] = operation
	}
	rec := JobRecord{JobID: jobID, Object: object, Operation: operation, State: state}
	return l.db.WithContext(ctx).
		Where(JobRecord{JobID: jobID}).
		Assign(assign).
		FirstOrCreate(&rec).Error
}

// RecordBatch upserts a batch row keyed by its remote id.
func (l *Ledger) RecordBatch(ctx context.Context, jobID, batchID, state, stateMessage string, processed, failed int) error {
	rec := BatchRecord{BatchID: batchID, JobRef: jobID, State: state}
	return l.db.WithContext(ctx).
		Where(BatchRecord{BatchID: batchID}).
		Assign(map[string]any{
			"job_ref":           jobID,
			"state":             state,
			"state_message":     stateMessage,
			"records_processed": processed,
			"records_failed":    failed,
		}).
		FirstOrCreate(&rec).Error
}

// Job returns the stored job and its batches, or gorm.ErrRecordNotFound.
func (l *Ledger) Job(ctx context.Context, jobID string) (*JobRecord, error) {
	var rec JobRecord
	err := l.db.WithContext(ctx).
		Preload("Batches").
		Where("job_id = ?", jobID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// OpenJobs lists jobs whose last observed state was still Open, oldest first.
func (l *Ledger) OpenJobs(ctx context.Context) ([]JobRecord, error) {
	var recs []JobRecord
	err := l.db.WithContext(ctx).
		Preload("Batches").
		Where("state = ?", "Open").
		Order("created_at asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
