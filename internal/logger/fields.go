package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Standard field names propagated through the bulk pipeline.
const (
	// FieldJobID is the remote bulk job identity.
	FieldJobID = "job_id"

	// FieldBatchID is the remote batch identity.
	FieldBatchID = "batch_id"

	// FieldObject is the target entity type of a job.
	FieldObject = "object"

	// FieldOperation is the job operation kind (insert, query, ...).
	FieldOperation = "operation"

	// FieldResultID identifies one result part of a query batch.
	FieldResultID = "result_id"

	// FieldComponent is the component/module name.
	FieldComponent = "component"
)
