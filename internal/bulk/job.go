package bulk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/perrin/forcebulk/internal/logger"
	"github.com/perrin/forcebulk/internal/transport"
)

// Job is one remote asynchronous processing unit: an entity type plus an
// operation kind, holding zero or more batches. A Job starts with no
// identity; the remote assigns one on open. Closing or aborting clears the
// identity, after which identity-requiring operations on this instance fail
// explicitly.
type Job struct {
	emitter
	tr  transport.Transport
	log *logger.Logger

	object  string
	op      OperationKind
	options JobOptions

	mu      sync.Mutex
	id      string
	state   JobState
	cleared bool
	fetched bool
	info    *JobInfo
	batches map[string]*Batch

	// open is memoized: concurrent triggers collapse into one in-flight
	// request and later calls return the same outcome.
	openMu   sync.Mutex
	opened   bool
	openInfo *JobInfo
	openErr  error
}

func newJob(tr transport.Transport, log *logger.Logger, object string, op OperationKind, opts *JobOptions) *Job {
	j := &Job{
		tr:      tr,
		object:  object,
		op:      op,
		batches: make(map[string]*Batch),
	}
	if opts != nil {
		j.options = *opts
	}
	j.log = log.WithFields(logger.Fields{
		logger.FieldObject:    object,
		logger.FieldOperation: string(op),
	})
	return j
}

func openJob(tr transport.Transport, log *logger.Logger, id string) *Job {
	j := newJob(tr, log, "", "", nil)
	j.id = id
	j.state = JobOpen
	j.opened = true
	j.openInfo = &JobInfo{ID: id, State: JobOpen}
	return j
}

// ID returns the assigned job identity, or empty if none is held.
func (j *Job) ID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.id
}

// State returns the last known lifecycle state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Operation returns the job's operation kind.
func (j *Job) Operation() OperationKind {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.op
}

// Open submits the job descriptor to the remote and records the assigned
// identity. It is idempotent: once an open has been issued, every call
// returns that outcome. Requires object and operation to be set.
func (j *Job) Open(ctx context.Context) (*JobInfo, error) {
	j.openMu.Lock()
	defer j.openMu.Unlock()
	if j.opened {
		return j.openInfo, j.openErr
	}
	j.openInfo, j.openErr = j.doOpen(ctx)
	j.opened = true
	return j.openInfo, j.openErr
}

func (j *Job) doOpen(ctx context.Context) (*JobInfo, error) {
	j.mu.Lock()
	object, op, options := j.object, j.op, j.options
	j.mu.Unlock()

	if object == "" {
		return nil, ErrMissingObject
	}
	if op == "" {
		return nil, ErrMissingOperation
	}
	// Normalize to the canonical remote spelling here so a job built with a
	// hand-rolled OperationKind still sends a valid operation.
	op, err := ParseOperation(string(op))
	if err != nil {
		return nil, err
	}
	j.mu.Lock()
	j.op = op
	j.mu.Unlock()

	req := jobRequest{
		Operation:           string(op),
		Object:              object,
		ContentType:         "CSV",
		ExternalIDFieldName: options.ExtIDField,
		ConcurrencyMode:     options.ConcurrencyMode,
		AssignmentRuleID:    options.AssignmentRuleID,
	}

	resp, err := j.tr.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/job",
		Body:   req,
	})
	if err != nil {
		err = fmt.Errorf("bulk: open job: %w", err)
		j.emit(EventError, err)
		return nil, err
	}

	info := &JobInfo{}
	if err := json.Unmarshal(resp.Body, info); err != nil {
		err = fmt.Errorf("bulk: decode job info: %w", err)
		j.emit(EventError, err)
		return nil, err
	}

	j.mu.Lock()
	j.id = info.ID
	j.state = info.State
	j.info = info
	j.fetched = true
	j.mu.Unlock()

	j.log.WithField(logger.FieldJobID, info.ID).Info("job opened")
	j.emit(EventOpen, info)
	return info, nil
}

// ensureID returns the job identity, opening the job first when no identity
// has been assigned yet.
func (j *Job) ensureID(ctx context.Context) (string, error) {
	j.mu.Lock()
	cleared, id := j.cleared, j.id
	j.mu.Unlock()
	if cleared {
		return "", ErrJobIDCleared
	}
	if id != "" {
		return id, nil
	}
	if _, err := j.Open(ctx); err != nil {
		return "", err
	}
	j.mu.Lock()
	id = j.id
	j.mu.Unlock()
	if id == "" {
		return "", ErrJobIDCleared
	}
	return id, nil
}

// Check fetches the authoritative job descriptor from the remote, opening
// the job first if no identity is known, and refreshes the cached type,
// operation, and state.
func (j *Job) Check(ctx context.Context) (*JobInfo, error) {
	id, err := j.ensureID(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := j.tr.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/job/" + id,
	})
	if err != nil {
		return nil, fmt.Errorf("bulk: check job %s: %w", id, err)
	}

	info := &JobInfo{}
	if err := json.Unmarshal(resp.Body, info); err != nil {
		return nil, fmt.Errorf("bulk: decode job info: %w", err)
	}

	j.mu.Lock()
	j.object = info.Object
	j.op = OperationKind(info.Operation)
	j.state = info.State
	j.info = info
	j.fetched = true
	j.mu.Unlock()
	return info, nil
}

// Info returns the last known job descriptor, fetching it once if no state
// has ever been fetched. State-changing calls refresh the cache.
func (j *Job) Info(ctx context.Context) (*JobInfo, error) {
	j.mu.Lock()
	if j.fetched {
		info := j.info
		j.mu.Unlock()
		return info, nil
	}
	j.mu.Unlock()
	return j.Check(ctx)
}

// Close requests the Closed state. On success the cached identity is
// cleared; later identity-requiring calls on this instance fail.
func (j *Job) Close(ctx context.Context) (*JobInfo, error) {
	return j.changeState(ctx, JobClosed, EventClose)
}

// Abort requests the Aborted state. On success the cached identity is
// cleared, like Close.
func (j *Job) Abort(ctx context.Context) (*JobInfo, error) {
	return j.changeState(ctx, JobAborted, EventAbort)
}

func (j *Job) changeState(ctx context.Context, state JobState, ev Event) (*JobInfo, error) {
	id, err := j.ensureID(ctx)
	if err != nil {
		j.emit(EventError, err)
		return nil, err
	}

	resp, err := j.tr.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/job/" + id,
		Body:   stateRequest{State: state},
	})
	if err != nil {
		err = fmt.Errorf("bulk: set job %s state %s: %w", id, state, err)
		j.emit(EventError, err)
		return nil, err
	}

	info := &JobInfo{}
	if err := json.Unmarshal(resp.Body, info); err != nil {
		err = fmt.Errorf("bulk: decode job info: %w", err)
		j.emit(EventError, err)
		return nil, err
	}

	j.mu.Lock()
	j.state = info.State
	j.info = info
	j.fetched = true
	j.id = ""
	j.cleared = true
	j.mu.Unlock()

	j.log.WithFields(logger.Fields{
		logger.FieldJobID: id,
		"state":           string(info.State),
	}).Info("job state changed")
	j.emit(ev, info)
	return info, nil
}

// NewBatch creates a batch bound to this job. The batch has no identity
// until the remote accepts its upload.
func (j *Job) NewBatch() *Batch {
	return newBatch(j)
}

// Batch returns the batch with the given remote identity, registering a new
// handle for it if this instance has not seen it before.
func (j *Job) Batch(id string) *Batch {
	j.mu.Lock()
	defer j.mu.Unlock()
	if b, ok := j.batches[id]; ok {
		return b
	}
	b := newBatch(j)
	b.id = id
	b.state = BatchQueued
	j.batches[id] = b
	return b
}

func (j *Job) registerBatch(b *Batch) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.batches[b.id] = b
}

// List fetches the batch descriptors of this job. The remote reports a
// single descriptor unwrapped when the job has exactly one batch; the
// response is normalized to a list either way.
func (j *Job) List(ctx context.Context) ([]BatchInfo, error) {
	id, err := j.ensureID(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := j.tr.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/job/" + id + "/batch",
	})
	if err != nil {
		return nil, fmt.Errorf("bulk: list batches of job %s: %w", id, err)
	}

	var list batchInfoList
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, fmt.Errorf("bulk: decode batch list: %w", err)
	}
	return []BatchInfo(list.BatchInfo), nil
}
