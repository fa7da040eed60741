package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrorCode represents machine-readable error codes
type ErrorCode string

const (
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeRequestTooLarge ErrorCode = "REQUEST_TOO_LARGE"
	ErrCodeInvalidJSON     ErrorCode = "INVALID_JSON"
	ErrCodeMissingField    ErrorCode = "MISSING_FIELD"
	ErrCodeRefreshFailed   ErrorCode = "REFRESH_FAILED"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error     string    `json:"error"`                // HTTP status text
	Message   string    `json:"message"`              // Human-readable description
	Code      ErrorCode `json:"code"`                 // Machine-readable error code
	RequestID string    `json:"request_id,omitempty"` // Request ID for debugging
}

// NewErrorResponse creates a new error response
func NewErrorResponse(statusCode int, code ErrorCode, message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
	}
}

// writeErrorResponse writes a structured error response to the http response writer
func writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errResp *ErrorResponse) {
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		errResp.RequestID = reqID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errResp)
}

// BadRequestError creates a bad request error response
func BadRequestError(w http.ResponseWriter, r *http.Request, code ErrorCode, message string) {
	writeErrorResponse(w, r, http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, code, message))
}

// NotFoundError creates a not found error response
func NotFoundError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusNotFound, NewErrorResponse(http.StatusNotFound, ErrCodeNotFound, message))
}

// RequestTooLargeError creates a request entity too large error response
func RequestTooLargeError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusRequestEntityTooLarge,
		NewErrorResponse(http.StatusRequestEntityTooLarge, ErrCodeRequestTooLarge, message))
}

// RateLimitedError creates a too many requests error response
func RateLimitedError(w http.ResponseWriter, r *http.Request) {
	writeErrorResponse(w, r, http.StatusTooManyRequests,
		NewErrorResponse(http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded, retry later"))
}

// RefreshFailedError reports a configuration download failure
func RefreshFailedError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusBadGateway, NewErrorResponse(http.StatusBadGateway, ErrCodeRefreshFailed, message))
}
