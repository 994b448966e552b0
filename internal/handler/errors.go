// internal/handler/errors.go
package handler

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"money-service/internal/domain"
	"money-service/internal/pkg/response"
)

// errorStatus maps a usecase error to an HTTP status and an RPC error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, response.CodeInvalidArgument
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, response.CodeNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, response.CodePermissionDenied
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, response.CodeAlreadyExists
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrGatewayRejected):
		return http.StatusUnprocessableEntity, response.CodeFailedPrecondition
	case errors.Is(err, domain.ErrGatewayTimeout), errors.Is(err, domain.ErrPollTimeout):
		return http.StatusGatewayTimeout, response.CodeDeadlineExceeded
	case errors.Is(err, domain.ErrNotConfigured), errors.Is(err, domain.ErrGatewayProtocol):
		return http.StatusServiceUnavailable, response.CodeUnavailable
	default:
		return http.StatusInternalServerError, response.CodeInternal
	}
}

// writeError renders err in the RPC error envelope. Money-movement failures get the
// reference-bearing user message; internal errors never leak their text.
func (h *RPCHandler) writeError(w http.ResponseWriter, method string, err error) {
	status, code := errorStatus(err)
	reference := referenceOf(err)

	msg := err.Error()
	switch {
	case isMoneyMovementError(err):
		msg = domain.UserMessage(err, reference)
	case status == http.StatusInternalServerError:
		msg = "internal error"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("rpc failed",
			zap.String("method", method),
			zap.String("reference", reference),
			zap.String("code", code),
			zap.Error(err))
	} else {
		h.logger.Info("rpc refused",
			zap.String("method", method),
			zap.String("reference", reference),
			zap.String("code", code),
			zap.Error(err))
	}
	response.Error(w, status, code, msg)
}

func isMoneyMovementError(err error) bool {
	for _, kind := range []error{
		domain.ErrGatewayTimeout,
		domain.ErrGatewayRejected,
		domain.ErrGatewayProtocol,
		domain.ErrNotConfigured,
		domain.ErrPollTimeout,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func referenceOf(err error) string {
	var gerr *domain.GatewayError
	if errors.As(err, &gerr) {
		return gerr.Reference
	}
	return ""
}

// validationMessage flattens validator errors into "field: rule" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msg := ""
	for i, fe := range verrs {
		if i > 0 {
			msg += "; "
		}
		msg += fe.Namespace() + ": " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
	}
	return msg
}
