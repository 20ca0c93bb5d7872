package logger

// Standard field names for consistent structured logging across StepFlow
// Monitor. Use these instead of raw strings so call sites agree on a key.
const (
	FieldSymbol     = "symbol"
	FieldExecutionID = "execution_id"
	FieldStepID     = "step_id"
	FieldStepName   = "step_name"
	FieldArtifactID = "artifact_id"

	FieldComponent = "component"
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"

	FieldDurationMS = "duration_ms"

	FieldError     = "error"
	FieldErrorCode = "error_code"

	FieldCount = "count"
	FieldSize  = "size"

	FieldStatus = "status"

	FieldFile = "file"

	FieldAddress = "address"
	FieldPort    = "port"
)
