package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	FieldRequestID = "request_id"
	FieldComponent = "component"
	FieldUserID    = "user_id"

	// FieldJobID is the sync job ID
	FieldJobID = "job_id"

	// FieldConfigID is the page sync configuration ID
	FieldConfigID = "config_id"

	FieldPageID = "page_id"
	FieldFormID = "form_id"
)

// Metric fields, used for aggregation and alerting.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
)
