// Package mockbulk is an in-memory stand-in for the remote asynchronous
// bulk endpoints, used for local development and integration tests. It
// speaks the same JSON job/batch control shapes and CSV data plane as the
// real service, including the "single object or list" response ambiguity.
package mockbulk

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/perrin/forcebulk/internal/codec"
)

// Options tune the mock's behavior per scenario.
type Options struct {
	// Token is the session id every request must carry. Defaults to
	// "mock-token".
	Token string

	// PollsBeforeDone is how many status checks a batch stays pending
	// before turning terminal. Defaults to 1.
	PollsBeforeDone int

	// Stall keeps every batch InProgress forever, for timeout scenarios.
	Stall bool

	// FailRows maps a load row index to an error message; those rows come
	// back unsuccessful with no identity.
	FailRows map[int]string

	// FailBatchMessage, when set, ends every batch in the Failed state
	// carrying this state message.
	FailBatchMessage string

	// FailBatchProcessed is the processed count reported alongside a
	// failed batch; leave zero for a total failure.
	FailBatchProcessed int

	// QueryParts are the CSV payloads served as a query batch's result
	// parts, in order. Defaults to one canned part.
	QueryParts []string

	// ExpireTokens makes the first n requests fail with InvalidSessionId,
	// to exercise session refresh.
	ExpireTokens int
}

// Server holds the in-memory job store behind the gin router.
type Server struct {
	opts Options

	mu         sync.Mutex
	jobs       map[string]*mockJob
	jobOrder   []string
	expireLeft int
}

type mockJob struct {
	info       jobInfo
	batches    map[string]*mockBatch
	batchOrder []string
}

type mockBatch struct {
	info      batchInfo
	body      []byte
	polls     int
	resultCSV string
	partIDs   []string
	parts     map[string]string
}

type jobInfo struct {
	ID                  string `json:"id"`
	Object              string `json:"object"`
	Operation           string `json:"operation"`
	State               string `json:"state"`
	ContentType         string `json:"contentType,omitempty"`
	ExternalIDFieldName string `json:"externalIdFieldName,omitempty"`
	ConcurrencyMode     string `json:"concurrencyMode,omitempty"`
}

type batchInfo struct {
	ID                     string `json:"id"`
	JobID                  string `json:"jobId"`
	State                  string `json:"state"`
	StateMessage           string `json:"stateMessage,omitempty"`
	NumberRecordsProcessed int    `json:"numberRecordsProcessed"`
	NumberRecordsFailed    int    `json:"numberRecordsFailed"`
	TotalProcessingTime    int64  `json:"totalProcessingTime"`
}

// New creates a mock server.
func New(opts Options) *Server {
	if opts.Token == "" {
		opts.Token = "mock-token"
	}
	if opts.PollsBeforeDone == 0 {
		opts.PollsBeforeDone = 1
	}
	return &Server{
		opts:       opts,
		jobs:       make(map[string]*mockJob),
		expireLeft: opts.ExpireTokens,
	}
}

// Router builds the gin engine serving the async endpoints.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.auth)

	api := r.Group("/services/async/:version")
	{
		api.POST("/job", s.createJob)
		api.GET("/job/:jid", s.getJob)
		api.POST("/job/:jid", s.setJobState)
		api.POST("/job/:jid/batch", s.createBatch)
		api.GET("/job/:jid/batch", s.listBatches)
		api.GET("/job/:jid/batch/:bid", s.getBatch)
		api.GET("/job/:jid/batch/:bid/result", s.getResult)
		api.GET("/job/:jid/batch/:bid/result/:rid", s.getResultPart)
	}
	return r
}

func (s *Server) auth(c *gin.Context) {
	s.mu.Lock()
	expired := s.expireLeft > 0
	if expired {
		s.expireLeft--
	}
	s.mu.Unlock()

	if expired || c.GetHeader("X-SFDC-Session") != s.opts.Token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"exceptionCode":    "InvalidSessionId",
			"exceptionMessage": "Invalid session id",
		})
		return
	}
	c.Next()
}

func (s *Server) createJob(c *gin.Context) {
	var req struct {
		Operation           string `json:"operation"`
		Object              string `json:"object"`
		ContentType         string `json:"contentType"`
		ExternalIDFieldName string `json:"externalIdFieldName"`
		ConcurrencyMode     string `json:"concurrencyMode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"exceptionCode":    "InvalidJob",
			"exceptionMessage": err.Error(),
		})
		return
	}
	if req.Operation == "" || req.Object == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"exceptionCode":    "InvalidJob",
			"exceptionMessage": "operation and object are required",
		})
		return
	}

	job := &mockJob{
		info: jobInfo{
			ID:                  "750" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
			Object:              req.Object,
			Operation:           req.Operation,
			State:               "Open",
			ContentType:         req.ContentType,
			ExternalIDFieldName: req.ExternalIDFieldName,
			ConcurrencyMode:     req.ConcurrencyMode,
		},
		batches: make(map[string]*mockBatch),
	}

	s.mu.Lock()
	s.jobs[job.info.ID] = job
	s.jobOrder = append(s.jobOrder, job.info.ID)
	s.mu.Unlock()

	c.JSON(http.StatusCreated, job.info)
}

func (s *Server) job(c *gin.Context) *mockJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[c.Param("jid")]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"exceptionCode":    "InvalidJob",
			"exceptionMessage": fmt.Sprintf("no such job %s", c.Param("jid")),
		})
		return nil
	}
	return job
}

func (s *Server) getJob(c *gin.Context) {
	job := s.job(c)
	if job == nil {
		return
	}
	s.mu.Lock()
	info := job.info
	s.mu.Unlock()
	c.JSON(http.StatusOK, info)
}

func (s *Server) setJobState(c *gin.Context) {
	job := s.job(c)
	if job == nil {
		return
	}
	var req struct {
		State string `json:"state"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || (req.State != "Closed" && req.State != "Aborted") {
		c.JSON(http.StatusBadRequest, gin.H{
			"exceptionCode":    "InvalidJobState",
			"exceptionMessage": "state must be Closed or Aborted",
		})
		return
	}

	s.mu.Lock()
	job.info.State = req.State
	info := job.info
	s.mu.Unlock()
	c.JSON(http.StatusOK, info)
}

func (s *Server) createBatch(c *gin.Context) {
	job := s.job(c)
	if job == nil {
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"exceptionCode":    "InvalidBatch",
			"exceptionMessage": err.Error(),
		})
		return
	}

	batch := &mockBatch{
		info: batchInfo{
			ID:    "751" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
			JobID: job.info.ID,
			State: "Queued",
		},
		body:  body,
		parts: make(map[string]string),
	}

	if isQuery(job.info.Operation) {
		s.prepareQueryParts(batch)
	} else if err := s.prepareLoadResult(batch, body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"exceptionCode":    "InvalidBatch",
			"exceptionMessage": err.Error(),
		})
		return
	}

	s.mu.Lock()
	job.batches[batch.info.ID] = batch
	job.batchOrder = append(job.batchOrder, batch.info.ID)
	s.mu.Unlock()

	c.JSON(http.StatusCreated, batch.info)
}

func isQuery(op string) bool {
	return op == "query" || op == "queryAll"
}

const defaultQueryPart = "Id,Name\n001000000000001,Acme\n"

func (s *Server) prepareQueryParts(batch *mockBatch) {
	parts := s.opts.QueryParts
	if len(parts) == 0 {
		parts = []string{defaultQueryPart}
	}
	for _, payload := range parts {
		rid := "752" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		batch.partIDs = append(batch.partIDs, rid)
		batch.parts[rid] = payload
	}
}

// prepareLoadResult computes the per-record outcome rows for a load batch
// from its uploaded CSV, honoring the configured failure injections.
func (s *Server) prepareLoadResult(batch *mockBatch, body []byte) error {
	dec := codec.NewDecoder(bytes.NewReader(body))
	var out bytes.Buffer
	enc := codec.NewEncoder(&out, codec.WithHeader([]string{"Id", "Success", "Created", "Error"}))

	processed, failed := 0, 0
	for i := 0; ; i++ {
		_, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("malformed batch data: %w", err)
		}

		rec := codec.NewRecord()
		if msg, bad := s.opts.FailRows[i]; bad {
			rec.Set("Id", "").SetBool("Success", false).SetBool("Created", false).Set("Error", msg)
			failed++
		} else {
			id := "001" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
			rec.Set("Id", id).SetBool("Success", true).SetBool("Created", true).Set("Error", "")
		}
		processed++
		if err := enc.Write(rec); err != nil {
			return err
		}
	}
	if err := enc.Flush(); err != nil {
		return err
	}

	if s.opts.FailBatchMessage != "" {
		batch.info.StateMessage = s.opts.FailBatchMessage
		batch.info.NumberRecordsProcessed = s.opts.FailBatchProcessed
		batch.info.NumberRecordsFailed = 0
	} else {
		batch.info.NumberRecordsProcessed = processed
		batch.info.NumberRecordsFailed = failed
	}
	batch.resultCSV = out.String()
	return nil
}

func (s *Server) batch(c *gin.Context, job *mockJob) *mockBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := job.batches[c.Param("bid")]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"exceptionCode":    "InvalidBatch",
			"exceptionMessage": fmt.Sprintf("no such batch %s", c.Param("bid")),
		})
		return nil
	}
	return batch
}

func (s *Server) getBatch(c *gin.Context) {
	job := s.job(c)
	if job == nil {
		return
	}
	batch := s.batch(c, job)
	if batch == nil {
		return
	}

	s.mu.Lock()
	batch.polls++
	switch {
	case s.opts.Stall:
		batch.info.State = "InProgress"
	case batch.polls >= s.opts.PollsBeforeDone:
		if s.opts.FailBatchMessage != "" {
			batch.info.State = "Failed"
		} else {
			batch.info.State = "Completed"
		}
	default:
		batch.info.State = "InProgress"
	}
	info := batch.info
	s.mu.Unlock()

	c.JSON(http.StatusOK, info)
}

// listBatches reproduces the remote's shape ambiguity: a single batch is
// reported as an unwrapped object, several as a list.
func (s *Server) listBatches(c *gin.Context) {
	job := s.job(c)
	if job == nil {
		return
	}

	s.mu.Lock()
	infos := make([]batchInfo, 0, len(job.batchOrder))
	for _, id := range job.batchOrder {
		infos = append(infos, job.batches[id].info)
	}
	s.mu.Unlock()

	if len(infos) == 1 {
		c.JSON(http.StatusOK, gin.H{"batchInfo": infos[0]})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batchInfo": infos})
}

func (s *Server) getResult(c *gin.Context) {
	job := s.job(c)
	if job == nil {
		return
	}
	batch := s.batch(c, job)
	if batch == nil {
		return
	}

	if isQuery(job.info.Operation) {
		// Same one-or-many ambiguity as the batch list.
		if len(batch.partIDs) == 1 {
			c.JSON(http.StatusOK, batch.partIDs[0])
			return
		}
		c.JSON(http.StatusOK, batch.partIDs)
		return
	}
	c.Data(http.StatusOK, "text/csv", []byte(batch.resultCSV))
}

func (s *Server) getResultPart(c *gin.Context) {
	job := s.job(c)
	if job == nil {
		return
	}
	batch := s.batch(c, job)
	if batch == nil {
		return
	}

	payload, ok := batch.parts[c.Param("rid")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"exceptionCode":    "InvalidResult",
			"exceptionMessage": "no such result part",
		})
		return
	}
	c.Data(http.StatusOK, "text/csv", []byte(payload))
}

// LastJobID returns the most recently created job id, for assertions.
func (s *Server) LastJobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobOrder) == 0 {
		return ""
	}
	return s.jobOrder[len(s.jobOrder)-1]
}

// JobState reports the state of a job, for assertions.
func (s *Server) JobState(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return "", false
	}
	return job.info.State, true
}

// UploadedBodies returns the raw batch bodies uploaded to a job, in order.
func (s *Server) UploadedBodies(jobID string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	out := make([][]byte, 0, len(job.batchOrder))
	for _, id := range job.batchOrder {
		out = append(out, job.batches[id].body)
	}
	return out
}

// BatchCount reports how many batches a job received.
func (s *Server) BatchCount(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return 0
	}
	return len(job.batches)
}
