package errors

const (
	HttpInternalError       = "internal_error"
	HttpInvalidJsonError    = "invalid_json"
	HttpInvalidMetricError  = "invalid_metric"
	HttpNotFoundError       = "not_found"
	HttpUnsupportedError    = "unsupported_feature"
	HttpQueryExecutionError = "query_execution_failed"
	HttpSchemaError         = "schema_error"
	HttpDiscoveryError      = "discovery_failed"
)

// ErrorResponse is the error response body of every API endpoint.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
