// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for constructing JSON responses
// and the single place where domain errors become status codes.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"pocketmoney/internal/core"
	pmlog "pocketmoney/internal/log"
)

// storageRetryAfter is the Retry-After hint sent with 503 responses.
const storageRetryAfter = 5

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       interface{}
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v interface{}) *JSONResponseBuilder {
	b.body = v
	return b
}

// StatusCode returns the status the builder will write.
func (b *JSONResponseBuilder) StatusCode() int {
	return b.statusCode
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	payload := []byte("null")
	if b.body != nil {
		encoded, err := json.Marshal(b.body)
		if err != nil {
			b.statusCode = http.StatusInternalServerError
			encoded = []byte(`{"detail":"Internal server error"}`)
		}
		payload = encoded
	}

	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json")

	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(payload, '\n'))
}

// errorBody is the shape of every error response.
type errorBody struct {
	Detail string `json:"detail"`
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, detail string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(errorBody{Detail: detail})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(detail string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, detail)
}

// ForbiddenError is the generic denial. It never says why.
func ForbiddenError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusForbidden, "Forbidden")
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(detail string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, detail)
}

// ConflictError creates a 409 Conflict error response.
func ConflictError(detail string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusConflict, detail)
}

// TooManyRequestsError creates a 429 response. Retry-After is set by the limiter.
func TooManyRequestsError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
}

// ServiceUnavailableError creates a retryable 503 response.
func ServiceUnavailableError(detail string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusServiceUnavailable, detail).
		Header("Retry-After", strconv.Itoa(storageRetryAfter))
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, "Internal server error")
}

// DomainError maps an error returned by the services to its response.
// subject names the missing or duplicated resource, e.g. "Child".
func DomainError(err error, subject string) *JSONResponseBuilder {
	switch {
	case err == nil:
		return InternalServerError()
	case errors.Is(err, core.ErrInsufficientFunds):
		return BadRequestError("Insufficient funds")
	case core.IsValidation(err):
		return BadRequestError(err.Error())
	case errors.Is(err, core.ErrForbidden):
		return ForbiddenError()
	case errors.Is(err, core.ErrNotFound):
		return NotFoundError(subject + " not found")
	case errors.Is(err, core.ErrBalanceChanged):
		return ConflictError("Balance changed concurrently, retry")
	case errors.Is(err, core.ErrConflict):
		return ConflictError(subject + " already exists")
	case errors.Is(err, core.ErrStorage), errors.Is(err, context.DeadlineExceeded):
		return ServiceUnavailableError("Storage temporarily unavailable")
	default:
		return InternalServerError()
	}
}

// errorType classifies err for the error_type log field.
func errorType(err error) string {
	switch {
	case errors.Is(err, core.ErrInsufficientFunds):
		return pmlog.ErrorTypeFunds
	case core.IsValidation(err):
		return pmlog.ErrorTypeValidation
	case errors.Is(err, core.ErrForbidden):
		return pmlog.ErrorTypeAuth
	case errors.Is(err, core.ErrNotFound):
		return pmlog.ErrorTypeNotFound
	case errors.Is(err, core.ErrConflict), errors.Is(err, core.ErrBalanceChanged):
		return pmlog.ErrorTypeConflict
	case errors.Is(err, context.DeadlineExceeded):
		return pmlog.ErrorTypeTimeout
	case errors.Is(err, core.ErrStorage):
		return pmlog.ErrorTypeDatabase
	default:
		return pmlog.ErrorTypeInternal
	}
}
