// Package bulk drives the remote asynchronous batch-processing protocol:
// jobs are opened for one entity type and operation, record batches are
// streamed up as delimited text, polled until a terminal state, and their
// results decoded back into structured outcomes.
package bulk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// OperationKind determines record shaping on upload and result decoding on
// download.
type OperationKind string

const (
	OpInsert     OperationKind = "insert"
	OpUpdate     OperationKind = "update"
	OpUpsert     OperationKind = "upsert"
	OpDelete     OperationKind = "delete"
	OpHardDelete OperationKind = "hardDelete"
	OpQuery      OperationKind = "query"
	OpQueryAll   OperationKind = "queryAll"
)

// ParseOperation maps case-insensitive input to the canonical remote
// spelling of the operation.
func ParseOperation(s string) (OperationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "insert":
		return OpInsert, nil
	case "update":
		return OpUpdate, nil
	case "upsert":
		return OpUpsert, nil
	case "delete":
		return OpDelete, nil
	case "harddelete":
		return OpHardDelete, nil
	case "query":
		return OpQuery, nil
	case "queryall":
		return OpQueryAll, nil
	}
	return "", fmt.Errorf("bulk: unknown operation %q", s)
}

// IsQuery reports whether results come back as retrievable result parts
// rather than per-record outcomes.
func (o OperationKind) IsQuery() bool {
	return o == OpQuery || o == OpQueryAll
}

// JobState is the lifecycle state of a remote job.
type JobState string

const (
	JobUnknown JobState = ""
	JobOpen    JobState = "Open"
	JobClosed  JobState = "Closed"
	JobAborted JobState = "Aborted"
	JobFailed  JobState = "Failed"
)

// BatchState is the lifecycle state of a remote batch.
type BatchState string

const (
	BatchQueued       BatchState = "Queued"
	BatchInProgress   BatchState = "InProgress"
	BatchCompleted    BatchState = "Completed"
	BatchFailed       BatchState = "Failed"
	BatchNotProcessed BatchState = "NotProcessed"
)

// Terminal reports whether the remote will not change this state anymore.
func (s BatchState) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchNotProcessed:
		return true
	}
	return false
}

// JobOptions carries the optional parameters of a job.
type JobOptions struct {
	// ExtIDField names the external-id field for upsert operations.
	ExtIDField string

	// ConcurrencyMode is Parallel or Serial.
	ConcurrencyMode string

	// AssignmentRuleID selects an assignment rule applied by the remote.
	AssignmentRuleID string
}

// JobInfo is the remote job descriptor.
type JobInfo struct {
	ID                     string   `json:"id"`
	Object                 string   `json:"object"`
	Operation              string   `json:"operation"`
	State                  JobState `json:"state"`
	ExternalIDFieldName    string   `json:"externalIdFieldName,omitempty"`
	ConcurrencyMode        string   `json:"concurrencyMode,omitempty"`
	ContentType            string   `json:"contentType,omitempty"`
	NumberBatchesQueued    int      `json:"numberBatchesQueued"`
	NumberBatchesCompleted int      `json:"numberBatchesCompleted"`
	NumberBatchesFailed    int      `json:"numberBatchesFailed"`
	NumberRecordsProcessed int      `json:"numberRecordsProcessed"`
	NumberRecordsFailed    int      `json:"numberRecordsFailed"`
}

// BatchInfo is the remote batch descriptor.
type BatchInfo struct {
	ID                     string     `json:"id"`
	JobID                  string     `json:"jobId"`
	State                  BatchState `json:"state"`
	StateMessage           string     `json:"stateMessage,omitempty"`
	NumberRecordsProcessed int        `json:"numberRecordsProcessed"`
	NumberRecordsFailed    int        `json:"numberRecordsFailed"`
	TotalProcessingTime    int64      `json:"totalProcessingTime"`
}

// jobRequest is the create-job payload.
type jobRequest struct {
	Operation           string `json:"operation"`
	Object              string `json:"object"`
	ContentType         string `json:"contentType"`
	ExternalIDFieldName string `json:"externalIdFieldName,omitempty"`
	ConcurrencyMode     string `json:"concurrencyMode,omitempty"`
	AssignmentRuleID    string `json:"assignmentRuleId,omitempty"`
}

// stateRequest is the change-job-state payload.
type stateRequest struct {
	State JobState `json:"state"`
}

// oneOrMany normalizes the remote's ambiguous "single object or list" shape
// into a uniform list at the decoding boundary.
type oneOrMany[T any] []T

// UnmarshalJSON accepts either a JSON array of T or a single T.
func (l *oneOrMany[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []T
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	var single T
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return err
	}
	*l = oneOrMany[T]{single}
	return nil
}

// batchInfoList is the list-batches response shape.
type batchInfoList struct {
	BatchInfo oneOrMany[BatchInfo] `json:"batchInfo"`
}

// RecordResult is the outcome of one submitted record in a load batch.
// Results arrive in submission order. ID is empty when the remote reported
// no identity for the row (a failed insert, for example). Errors is empty
// unless the remote attached an error message.
type RecordResult struct {
	ID      string
	Success bool
	Created bool
	Errors  []string
}

// ResultRef points at one retrievable result part of a query batch.
type ResultRef struct {
	ResultID string
	BatchID  string
	JobID    string
}

// Result is the decoded outcome of one batch: per-record outcomes for load
// operations, or result-part references for query operations.
type Result struct {
	Records []RecordResult
	Parts   []ResultRef
}
