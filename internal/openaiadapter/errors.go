package openaiadapter

// Error type constants understood by OpenAI SDK clients. The proxy layer
// maps them to HTTP status codes.
const (
	ErrTypeInvalidRequest     = "invalid_request_error"
	ErrTypeAuthentication     = "authentication_error"
	ErrTypePermissionDenied   = "permission_denied"
	ErrTypeNotFound           = "not_found_error"
	ErrTypeServiceUnavailable = "service_unavailable"
	ErrTypeServer             = "server_error"
	ErrTypeAPI                = "api_error"
)

// Error is an OpenAI-formatted error detail.
type Error struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// Error implements the error interface, returning the error message.
func (e *Error) Error() string {
	return e.Message
}

// ErrorResponse wraps Error in the envelope OpenAI clients expect:
// {"error": {...}}. OpenAI streaming SDKs recognize this shape in SSE error
// events and stop reading immediately.
type ErrorResponse struct {
	// Err is the underlying error detail. The JSON tag serializes it as "error".
	Err Error `json:"error"`
}

// Error implements the error interface, returning the underlying error
// message, so ErrorResponse can travel through error returns while keeping
// the full structure for marshaling.
func (e *ErrorResponse) Error() string {
	return e.Err.Message
}

// NewErrorResponse builds an ErrorResponse with the given type and message.
func NewErrorResponse(errType, message string) *ErrorResponse {
	return &ErrorResponse{Err: Error{Message: message, Type: errType}}
}
