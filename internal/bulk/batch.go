package bulk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/perrin/forcebulk/internal/codec"
	"github.com/perrin/forcebulk/internal/logger"
	"github.com/perrin/forcebulk/internal/transport"
)

// Batch is one chunk of input bound to a job. Records written to it are
// shaped for the job's operation, encoded, and streamed into a single upload
// request that is not opened until the first record arrives; the job itself
// is opened lazily at the same moment. The remote assigns the batch identity
// when it accepts the upload, after which the batch can be polled and its
// result retrieved.
type Batch struct {
	emitter
	job *Job
	log *logger.Logger

	mu    sync.Mutex
	id    string
	jid   string
	state BatchState
	info  *BatchInfo

	executed atomic.Bool

	upOnce     sync.Once
	upStartErr error
	enc        *codec.Encoder
	pw         *io.PipeWriter
	uploadDone chan struct{}
	uploadErr  error

	settleOnce sync.Once
	done       chan struct{}
	result     *Result
	err        error
}

func newBatch(j *Job) *Batch {
	return &Batch{
		job:        j,
		log:        j.log,
		done:       make(chan struct{}),
		uploadDone: make(chan struct{}),
	}
}

// ID returns the remote-assigned batch identity, or empty before the remote
// has accepted the upload.
func (b *Batch) ID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id
}

// State returns the last known batch state.
func (b *Batch) State() BatchState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Info returns the last known batch descriptor.
func (b *Batch) Info() *BatchInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.info
}

// Write encodes one record into the upload stream. The first write opens the
// owning job if needed and starts the upload request. The record is shaped
// for the job's operation first: insert strips the Id field, delete and
// hardDelete keep only the Id field, everything else passes through whole.
func (b *Batch) Write(ctx context.Context, rec *codec.Record) error {
	if err := b.startUpload(ctx); err != nil {
		return err
	}
	return b.enc.Write(shapeRecord(b.job.Operation(), rec))
}

// CloseSend signals end-of-stream on the upload and waits for the remote to
// accept the batch and assign its identity.
func (b *Batch) CloseSend() error {
	if b.pw == nil {
		return fmt.Errorf("bulk: batch upload not started")
	}
	if err := b.enc.Flush(); err != nil {
		b.pw.CloseWithError(err)
		return err
	}
	if err := b.pw.Close(); err != nil {
		return err
	}
	<-b.uploadDone
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uploadErr
}

func (b *Batch) startUpload(ctx context.Context) error {
	b.upOnce.Do(func() {
		jobID, err := b.job.ensureID(ctx)
		if err != nil {
			b.upStartErr = err
			return
		}
		pr, pw := io.Pipe()
		b.pw = pw
		b.enc = codec.NewEncoder(pw)
		go b.runUpload(ctx, jobID, pr)
	})
	return b.upStartErr
}

func (b *Batch) runUpload(ctx context.Context, jobID string, pr *io.PipeReader) {
	resp, err := b.job.tr.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/job/" + jobID + "/batch",
		Raw:    pr,
	})
	if err != nil {
		err = fmt.Errorf("bulk: create batch: %w", err)
		b.failUpload(pr, err)
		return
	}
	pr.Close()

	info := &BatchInfo{}
	if err := json.Unmarshal(resp.Body, info); err != nil {
		err = fmt.Errorf("bulk: decode batch info: %w", err)
		b.failUpload(pr, err)
		return
	}
	b.setQueued(info)
	close(b.uploadDone)
}

// failUpload unblocks any writer stuck on the pipe, records the upload
// error, and settles the batch.
func (b *Batch) failUpload(pr *io.PipeReader, err error) {
	pr.CloseWithError(err)
	b.mu.Lock()
	b.uploadErr = err
	b.mu.Unlock()
	close(b.uploadDone)
	b.settle(nil, err)
}

func (b *Batch) setQueued(info *BatchInfo) {
	b.mu.Lock()
	b.id = info.ID
	b.jid = info.JobID
	b.state = info.State
	b.info = info
	b.mu.Unlock()

	b.job.registerBatch(b)
	b.log.WithFields(logger.Fields{
		logger.FieldJobID:   info.JobID,
		logger.FieldBatchID: info.ID,
	}).Info("batch queued")
	b.emit(EventQueue, info)
}

// Execute writes the given records and closes the upload. Calling any of the
// execute variants more than once on the same batch is a programming error
// and fails immediately without touching the remote.
func (b *Batch) Execute(ctx context.Context, records []*codec.Record) error {
	if !b.executed.CompareAndSwap(false, true) {
		return ErrAlreadyExecuted
	}
	for _, rec := range records {
		if err := b.Write(ctx, rec); err != nil {
			b.settle(nil, err)
			return err
		}
	}
	if err := b.CloseSend(); err != nil {
		b.settle(nil, err)
		return err
	}
	return nil
}

// ExecuteStream uploads a pre-encoded body as this batch's input.
func (b *Batch) ExecuteStream(ctx context.Context, body io.Reader) error {
	if !b.executed.CompareAndSwap(false, true) {
		return ErrAlreadyExecuted
	}
	jobID, err := b.job.ensureID(ctx)
	if err != nil {
		b.settle(nil, err)
		return err
	}

	resp, err := b.job.tr.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/job/" + jobID + "/batch",
		Raw:    body,
	})
	if err != nil {
		err = fmt.Errorf("bulk: create batch: %w", err)
		b.settle(nil, err)
		return err
	}

	info := &BatchInfo{}
	if err := json.Unmarshal(resp.Body, info); err != nil {
		err = fmt.Errorf("bulk: decode batch info: %w", err)
		b.settle(nil, err)
		return err
	}
	b.setQueued(info)
	return nil
}

// ExecuteRaw uploads a raw text blob, such as the SOQL body of a query
// batch.
func (b *Batch) ExecuteRaw(ctx context.Context, data string) error {
	return b.ExecuteStream(ctx, strings.NewReader(data))
}

// Wait blocks until the batch settles and returns its result envelope, or
// the error that settled it.
func (b *Batch) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return b.result, b.err
	}
}

func (b *Batch) jobID(ctx context.Context) (string, error) {
	b.mu.Lock()
	jid := b.jid
	b.mu.Unlock()
	if jid != "" {
		return jid, nil
	}
	return b.job.ensureID(ctx)
}

// Check fetches the authoritative batch descriptor and refreshes the cached
// state. The batch must have an identity.
func (b *Batch) Check(ctx context.Context) (*BatchInfo, error) {
	b.mu.Lock()
	id := b.id
	b.mu.Unlock()
	if id == "" {
		return nil, ErrNoBatchID
	}
	jid, err := b.jobID(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := b.job.tr.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/job/" + jid + "/batch/" + id,
	})
	if err != nil {
		return nil, fmt.Errorf("bulk: check batch %s: %w", id, err)
	}

	info := &BatchInfo{}
	if err := json.Unmarshal(resp.Body, info); err != nil {
		return nil, fmt.Errorf("bulk: decode batch info: %w", err)
	}

	b.mu.Lock()
	b.state = info.State
	b.info = info
	b.mu.Unlock()
	return info, nil
}

// Poll re-checks the batch state at the given interval until a terminal
// state or the timeout, then settles the batch. A completed batch, or a
// failed one that still processed records, proceeds to result retrieval. A
// timeout settles with a TimeoutError and stops polling; the remote batch
// may still complete later.
func (b *Batch) Poll(ctx context.Context, interval, timeout time.Duration) {
	b.mu.Lock()
	id, jid := b.id, b.jid
	b.mu.Unlock()
	if id == "" {
		b.settle(nil, ErrNoBatchID)
		return
	}

	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.settle(nil, ctx.Err())
			return
		case <-ticker.C:
		}

		if time.Since(start) > timeout {
			b.settle(nil, &TimeoutError{JobID: jid, BatchID: id, After: timeout})
			return
		}

		info, err := b.Check(ctx)
		if err != nil {
			b.settle(nil, err)
			return
		}

		switch {
		case info.State == BatchCompleted,
			info.State.Terminal() && info.NumberRecordsProcessed > 0:
			// A failed batch that processed records still carries a
			// row-by-row outcome worth reading.
			result, rerr := b.Retrieve(ctx)
			b.settle(result, rerr)
			return
		case info.State.Terminal():
			b.settle(nil, &BatchFailure{
				JobID:   jid,
				BatchID: id,
				State:   info.State,
				Message: info.StateMessage,
			})
			return
		default:
			b.emit(EventProgress, info)
		}
	}
}

func (b *Batch) settle(result *Result, err error) {
	b.settleOnce.Do(func() {
		b.result, b.err = result, err
		if err != nil {
			b.emit(EventError, err)
		}
		close(b.done)
	})
}

// Retrieve fetches and decodes the result envelope for this batch: result
// part references for query operations, per-record outcomes for load
// operations. The envelope is emitted to response observers and returned.
func (b *Batch) Retrieve(ctx context.Context) (*Result, error) {
	b.mu.Lock()
	id := b.id
	b.mu.Unlock()
	if id == "" {
		return nil, ErrNoBatchID
	}
	jid, err := b.jobID(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := b.job.tr.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/job/" + jid + "/batch/" + id + "/result",
	})
	if err != nil {
		return nil, fmt.Errorf("bulk: retrieve batch %s result: %w", id, err)
	}

	var result *Result
	if b.job.Operation().IsQuery() {
		result, err = decodeQueryResult(resp.Body, jid, id)
	} else {
		result, err = decodeLoadResult(resp.Body)
	}
	if err != nil {
		return nil, err
	}

	b.emit(EventResponse, result)
	return result, nil
}

// decodeQueryResult normalizes the one-or-many result part ids into refs.
func decodeQueryResult(body []byte, jobID, batchID string) (*Result, error) {
	var ids oneOrMany[string]
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("bulk: decode result parts: %w", err)
	}
	parts := make([]ResultRef, len(ids))
	for i, rid := range ids {
		parts[i] = ResultRef{ResultID: rid, BatchID: batchID, JobID: jobID}
	}
	return &Result{Parts: parts}, nil
}

// decodeLoadResult decodes the per-record outcome rows, preserving
// submission order.
func decodeLoadResult(body []byte) (*Result, error) {
	dec := codec.NewDecoder(bytes.NewReader(body))
	result := &Result{}
	for {
		rec, err := dec.Next()
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return nil, fmt.Errorf("bulk: decode result rows: %w", err)
		}

		rr := RecordResult{}
		rr.ID, _ = rec.Get("Id")
		if v, _ := rec.Get("Success"); v == "true" {
			rr.Success = true
		}
		if v, _ := rec.Get("Created"); v == "true" {
			rr.Created = true
		}
		if msg, ok := rec.Get("Error"); ok && msg != "" {
			rr.Errors = []string{msg}
		}
		result.Records = append(result.Records, rr)
	}
}

// Result opens a lazily-decoded record stream for one result part of a
// query batch. The raw remote byte stream is piped straight through the
// codec; nothing is buffered. The caller owns the returned reader.
func (b *Batch) Result(ctx context.Context, resultID string) (*RecordReader, error) {
	b.mu.Lock()
	id := b.id
	b.mu.Unlock()
	if id == "" {
		return nil, ErrNoBatchID
	}
	jid, err := b.jobID(ctx)
	if err != nil {
		return nil, err
	}

	rc, err := b.job.tr.Stream(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/job/" + jid + "/batch/" + id + "/result/" + resultID,
	})
	if err != nil {
		return nil, fmt.Errorf("bulk: open result %s: %w", resultID, err)
	}
	return &RecordReader{dec: codec.NewDecoder(rc), rc: rc}, nil
}

// shapeRecord adjusts a record for the operation before encoding: insert
// strips the identity field, delete and hardDelete keep only the identity
// field, everything else passes through unchanged.
func shapeRecord(op OperationKind, rec *codec.Record) *codec.Record {
	const idField = "Id"
	switch op {
	case OpInsert:
		if !rec.Has(idField) {
			return rec
		}
		out := codec.NewRecord()
		for _, name := range rec.Fields() {
			if name == idField {
				continue
			}
			copyField(out, rec, name)
		}
		return out
	case OpDelete, OpHardDelete:
		out := codec.NewRecord()
		copyField(out, rec, idField)
		return out
	}
	return rec
}

func copyField(dst, src *codec.Record, name string) {
	if src.IsNull(name) {
		dst.SetNull(name)
		return
	}
	if v, ok := src.Get(name); ok {
		dst.Set(name, v)
	}
}
