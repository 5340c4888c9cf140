package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/perrin/forcebulk/internal/bulk"
	"github.com/perrin/forcebulk/internal/config"
	"github.com/perrin/forcebulk/internal/input"
	"github.com/perrin/forcebulk/internal/ledger"
	"github.com/perrin/forcebulk/internal/logger"
	"github.com/perrin/forcebulk/internal/transport"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "bulkload",
	})
	logger.SetDefault(appLogger)

	// Parse command line flags
	object := flag.String("object", "", "Target entity type, e.g. Account")
	operation := flag.String("operation", "insert", "Load operation: insert, update, upsert, delete, hardDelete")
	inputArg := flag.String("input", "", "CSV source: a local path or s3://bucket/key")
	extID := flag.String("extid", "", "External id field name for upsert")
	resume := flag.String("resume", "", "Re-attach to an existing job id and report its batches")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	appLogger = logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "bulkload",
		File:        cfg.Log.File,
	})
	logger.SetDefault(appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr := transport.New(&transport.Session{
		InstanceURL: cfg.Auth.InstanceURL,
		AccessToken: cfg.Auth.AccessToken,
		APIVersion:  cfg.Auth.APIVersion,
	}, transport.WithLogger(appLogger))

	client := bulk.NewClient(tr,
		bulk.WithLogger(appLogger),
		bulk.WithPollInterval(cfg.Poll.Interval),
		bulk.WithPollTimeout(cfg.Poll.Timeout),
	)

	book, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to open ledger")
	}
	defer book.Close()

	if *resume != "" {
		if err := resumeJob(ctx, client, book, *resume); err != nil {
			appLogger.WithError(err).Fatal("Resume failed")
		}
		return
	}

	if *object == "" || *inputArg == "" {
		appLogger.Fatal("Both -object and -input are required")
	}
	op, err := bulk.ParseOperation(*operation)
	if err != nil {
		appLogger.WithError(err).Fatal("Invalid operation")
	}

	src, err := input.ParseSource(*inputArg, &cfg.Input.S3)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to resolve input source")
	}

	appLogger.WithFields(logger.Fields{
		logger.FieldObject:    *object,
		logger.FieldOperation: string(op),
		"input":               src.Name(),
	}).Info("Starting bulk load")

	body, err := src.Open(ctx)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to open input source")
	}
	defer body.Close()

	var opts *bulk.JobOptions
	if *extID != "" {
		opts = &bulk.JobOptions{ExtIDField: *extID}
	}

	batch, err := client.LoadStream(ctx, *object, op, opts, body)
	if err != nil {
		recordOutcome(ctx, book, appLogger, batch, *object, op, "Failed")
		appLogger.WithError(err).Fatal("Failed to submit batch")
	}
	recordOutcome(ctx, book, appLogger, batch, *object, op, "Open")

	result, err := batch.Wait(ctx)
	final := "Closed"
	if bulk.IsTimeout(err) {
		final = "Open" // polling gave up, the remote job keeps running
	}
	recordOutcome(ctx, book, appLogger, batch, *object, op, final)
	if err != nil {
		var bf *bulk.BatchFailure
		if errors.As(err, &bf) {
			appLogger.WithFields(logger.Fields{
				logger.FieldJobID:   bf.JobID,
				logger.FieldBatchID: bf.BatchID,
				"state_message":     bf.Message,
			}).Fatal("Batch failed remotely")
		}
		appLogger.WithError(err).Fatal("Bulk load failed")
	}

	succeeded, failed := 0, 0
	for _, rec := range result.Records {
		if rec.Success {
			succeeded++
			continue
		}
		failed++
		appLogger.WithFields(logger.Fields{
			"row":    succeeded + failed - 1,
			"errors": rec.Errors,
		}).Warn("Record rejected")
	}

	appLogger.WithFields(logger.Fields{
		logger.FieldJobID:   batch.Info().JobID,
		logger.FieldBatchID: batch.ID(),
		"succeeded":         succeeded,
		"failed":            failed,
	}).Info("Bulk load finished")
	if failed > 0 {
		os.Exit(1)
	}
}

// recordOutcome snapshots the batch and its job into the local ledger.
// Ledger writes are best effort; a bookkeeping failure never aborts a load.
func recordOutcome(ctx context.Context, book *ledger.Ledger, log *logger.Logger, batch *bulk.Batch, object string, op bulk.OperationKind, jobState string) {
	if batch == nil || batch.ID() == "" {
		return
	}
	info := batch.Info()
	if info == nil {
		return
	}
	if err := book.RecordJob(ctx, info.JobID, object, string(op), jobState); err != nil {
		log.WithError(err).Warn("Failed to record job in ledger")
	}
	err := book.RecordBatch(ctx, info.JobID, info.ID, string(info.State), info.StateMessage,
		info.NumberRecordsProcessed, info.NumberRecordsFailed)
	if err != nil {
		log.WithError(err).Warn("Failed to record batch in ledger")
	}
}

// resumeJob re-attaches to a known job, refreshes its batch list from the
// remote, and syncs the ledger.
func resumeJob(ctx context.Context, client *bulk.Client, book *ledger.Ledger, jobID string) error {
	log := logger.GetDefault().WithField(logger.FieldJobID, jobID)

	job := client.OpenJob(jobID)
	info, err := job.Check(ctx)
	if err != nil {
		return err
	}
	if err := book.RecordJob(ctx, info.ID, info.Object, info.Operation, string(info.State)); err != nil {
		log.WithError(err).Warn("Failed to record job in ledger")
	}

	batches, err := job.List(ctx)
	if err != nil {
		return err
	}
	for _, b := range batches {
		log.WithFields(logger.Fields{
			logger.FieldBatchID: b.ID,
			"state":             string(b.State),
			"processed":         b.NumberRecordsProcessed,
			"failed":            b.NumberRecordsFailed,
		}).Info("Batch status")
		err := book.RecordBatch(ctx, info.ID, b.ID, string(b.State), b.StateMessage,
			b.NumberRecordsProcessed, b.NumberRecordsFailed)
		if err != nil {
			log.WithError(err).Warn("Failed to record batch in ledger")
		}
	}

	log.WithFields(logger.Fields{
		"state":   string(info.State),
		"batches": len(batches),
	}).Info("Job status")
	return nil
}
