package bulk

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/perrin/forcebulk/internal/codec"
	"github.com/perrin/forcebulk/internal/logger"
	"github.com/perrin/forcebulk/internal/transport"
)

const (
	// DefaultPollInterval is the fixed delay between status checks.
	DefaultPollInterval = 5 * time.Second

	// DefaultPollTimeout bounds a poll loop relative to its start.
	DefaultPollTimeout = 10 * time.Minute
)

// Client constructs jobs and batches and wires the cross-cutting lifecycle
// behavior: jobs open lazily on first write, polling starts when a batch is
// queued, and the job is closed once the batch settles. The exception is a
// polling timeout: the remote job is left open because it may still
// complete.
type Client struct {
	tr  transport.Transport
	log *logger.Logger

	pollInterval time.Duration
	pollTimeout  time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger overrides the default logger.
func WithLogger(l *logger.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithPollInterval sets the delay between status checks.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.pollInterval = d }
}

// WithPollTimeout sets the absolute polling deadline relative to poll start.
func WithPollTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.pollTimeout = d }
}

// NewClient creates a bulk client on the given transport.
func NewClient(tr transport.Transport, opts ...ClientOption) *Client {
	c := &Client{
		tr:           tr,
		log:          logger.GetDefault().WithField(logger.FieldComponent, "bulk"),
		pollInterval: DefaultPollInterval,
		pollTimeout:  DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewJob creates a job for the given entity type and operation. The job is
// not opened until its first batch needs it or Open is called.
func (c *Client) NewJob(object string, op OperationKind, opts *JobOptions) *Job {
	return newJob(c.tr, c.log, object, op, opts)
}

// OpenJob re-attaches to a job whose identity is already known, for example
// from a previous run. The job starts in the Open state; Check fetches the
// authoritative descriptor.
func (c *Client) OpenJob(id string) *Job {
	return openJob(c.tr, c.log, id)
}

// Load creates a job and a batch, wires the automatic lifecycle, and
// submits the given records. The returned batch settles into its result
// envelope; use Wait to collect it.
func (c *Client) Load(ctx context.Context, object string, op OperationKind, opts *JobOptions, records []*codec.Record) (*Batch, error) {
	batch := c.prepare(ctx, object, op, opts)
	if err := batch.Execute(ctx, records); err != nil {
		return batch, err
	}
	return batch, nil
}

// LoadStream is Load with a pre-encoded delimited-text body.
func (c *Client) LoadStream(ctx context.Context, object string, op OperationKind, opts *JobOptions, body io.Reader) (*Batch, error) {
	batch := c.prepare(ctx, object, op, opts)
	if err := batch.ExecuteStream(ctx, body); err != nil {
		return batch, err
	}
	return batch, nil
}

// LoadRaw is Load with a raw text blob, such as a SOQL body.
func (c *Client) LoadRaw(ctx context.Context, object string, op OperationKind, opts *JobOptions, data string) (*Batch, error) {
	batch := c.prepare(ctx, object, op, opts)
	if err := batch.ExecuteRaw(ctx, data); err != nil {
		return batch, err
	}
	return batch, nil
}

// prepare builds the job/batch pair and wires auto-poll on queue and
// close-on-settle.
func (c *Client) prepare(ctx context.Context, object string, op OperationKind, opts *JobOptions) *Batch {
	job := c.NewJob(object, op, opts)
	batch := job.NewBatch()

	batch.On(EventQueue, func(any) {
		go batch.Poll(ctx, c.pollInterval, c.pollTimeout)
	})

	go c.closeOnSettle(job, batch)
	return batch
}

// closeOnSettle closes the job once its batch settles. An indefinitely open
// remote job is a resource leak, so this runs for every outcome except a
// polling timeout: a timeout does not imply the remote failed, and closing
// would kill a job that may still complete.
func (c *Client) closeOnSettle(job *Job, batch *Batch) {
	<-batch.done
	if IsTimeout(batch.err) {
		c.log.WithFields(logger.Fields{
			logger.FieldJobID:   job.ID(),
			logger.FieldBatchID: batch.ID(),
		}).Warn("poll timed out, leaving job open")
		return
	}
	if job.ID() == "" && job.State() == JobUnknown {
		// Nothing was ever opened remotely.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := job.Close(ctx); err != nil {
		c.log.WithError(err).Warn("failed to close job after batch settled")
	}
}

var fromClause = regexp.MustCompile(`(?i)\bFROM\s+([A-Za-z0-9_$.]+)`)

// parseQueryObject extracts the target entity type from a SOQL text.
func parseQueryObject(soql string) (string, error) {
	m := fromClause.FindStringSubmatch(soql)
	if m == nil {
		return "", fmt.Errorf("bulk: no FROM clause in query %q", soql)
	}
	return m[1], nil
}

// Query runs a bulk query and returns one lazy record sequence merging
// every result part in the order the remote reported them. Only a SOQL that
// names no entity fails synchronously; any later failure (submitting the
// job, polling, fetching or streaming results) surfaces through the
// returned stream's Err.
func (c *Client) Query(ctx context.Context, soql string) (*RecordStream, error) {
	object, err := parseQueryObject(soql)
	if err != nil {
		return nil, err
	}

	stream := &RecordStream{ctx: ctx}
	stream.batch, err = c.LoadRaw(ctx, object, OpQuery, nil, soql)
	if err != nil {
		stream.err = err
	}
	return stream, nil
}
