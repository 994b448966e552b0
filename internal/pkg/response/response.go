// Package response writes the RPC envelopes: {"result": ...} on success and
// {"error": {"status": ..., "message": ...}} on failure.
package response

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in error.status.
const (
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeFailedPrecondition = "FAILED_PRECONDITION"
	CodeResourceExhausted  = "RESOURCE_EXHAUSTED"
	CodeUnavailable        = "UNAVAILABLE"
	CodeDeadlineExceeded   = "DEADLINE_EXCEEDED"
	CodeInternal           = "INTERNAL"
)

type ErrorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type envelope struct {
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorBody  `json:"error,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func Result(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, envelope{Result: data})
}

func Error(w http.ResponseWriter, httpStatus int, code, msg string) {
	JSON(w, httpStatus, envelope{Error: &ErrorBody{Status: code, Message: msg}})
}
