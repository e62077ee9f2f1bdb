package logging

// Standard field names so log lines from every backend can be filtered
// the same way.
const (
	FieldBackend     = "backend"
	FieldAccount     = "account"
	FieldPeriod      = "period"
	FieldRunID       = "run_id"
	FieldURL         = "url"
	FieldStatus      = "status"
	FieldStatusCode  = "status_code"
	FieldCount       = "count"
	FieldAttempt     = "attempt"
	FieldRule        = "rule"
	FieldCategory    = "category"
	FieldError       = "error"
	FieldDuration    = "duration_ms"
	FieldOperation   = "operation"
	FieldFile        = "file_path"
	FieldOutputFile  = "output_file"
	FieldAuthSource  = "auth_source"
	FieldDelimiter   = "delimiter"
	FieldTransaction = "transaction_id"
)
