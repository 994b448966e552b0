package domain

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Gateway
var (
	ErrGatewayTimeout  = errors.New("gateway timeout")
	ErrGatewayRejected = errors.New("gateway rejected request")
	ErrGatewayProtocol = errors.New("gateway protocol error")
	ErrNotConfigured   = errors.New("gateway not configured")
)

// Money movement
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrLedgerDrift         = errors.New("ledger running balance does not match entries")
	ErrPollTimeout         = errors.New("payment status could not be confirmed")
)

// Generic
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrForbidden      = errors.New("forbidden")
	ErrAlreadyExists  = errors.New("already exists")
)

const maxErrorBody = 512

// GatewayError is the only error shape the gateway client returns.
// Kind is one of ErrGatewayTimeout, ErrGatewayRejected, ErrGatewayProtocol or ErrNotConfigured.
type GatewayError struct {
	Kind       error
	Op         string
	Reference  string
	StatusCode int
	Body       string
	Err        error
}

func NewGatewayError(kind error, op, reference string, statusCode int, body []byte, cause error) *GatewayError {
	return &GatewayError{
		Kind:       kind,
		Op:         op,
		Reference:  reference,
		StatusCode: statusCode,
		Body:       Truncate(string(body), maxErrorBody),
		Err:        cause,
	}
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Reference != "" {
		msg += " (reference " + e.Reference + ")"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether the caller may retry with the same reference.
func Retryable(err error) bool {
	return errors.Is(err, ErrGatewayTimeout)
}

// TransitionError describes a refused state move.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move from %s to %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func invalidTransition(entity, from, to string) error {
	return &TransitionError{Entity: entity, From: from, To: to}
}

// UserMessage renders the text shown to an end user for a failed money movement.
// It always carries the reference so support can reconcile against the gateway dashboard.
func UserMessage(err error, reference string) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient balance for this withdrawal"
	case errors.Is(err, ErrGatewayRejected):
		return fmt.Sprintf("payment %s was declined by the provider, please start a new payment", reference)
	case errors.Is(err, ErrGatewayTimeout), errors.Is(err, ErrPollTimeout):
		return fmt.Sprintf("payment %s could not be confirmed, please contact support", reference)
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrGatewayProtocol):
		return fmt.Sprintf("payment %s could not be processed right now, please try again later", reference)
	default:
		return fmt.Sprintf("payment %s failed, please contact support", reference)
	}
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "...(truncated)"
}
