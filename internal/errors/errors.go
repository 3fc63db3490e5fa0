// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// Code is the stable discriminator returned to programmatic clients.
type Code string

const (
	CodeGatewayTransport   Code = "gateway_transport"
	CodeGatewayBusiness    Code = "gateway_business"
	CodeRateLimited        Code = "rate_limited"
	CodeQuotaExhausted     Code = "quota_exhausted"
	CodeNoActiveAccount    Code = "no_active_account"
	CodeOrchestrationFault Code = "orchestration_fault"
	CodeInvalidRequest     Code = "invalid_request"
	CodeInternal           Code = "internal"
)

// Error carries a Code plus, for gateway failures, the HTTP status and raw body.
type Error struct {
	Code    Code
	Message string
	Status  int
	Body    string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code) + ": " + e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Code, so errors.Is(err, ErrQuotaExhausted) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrQuotaExhausted     = &Error{Code: CodeQuotaExhausted, Message: "no remaining add-group allowance"}
	ErrNoActiveAccount    = &Error{Code: CodeNoActiveAccount, Message: "no connected gateway account"}
	ErrOrchestrationFault = &Error{Code: CodeOrchestrationFault, Message: "dispatch context could not be loaded"}
)

// CodeOf returns the discriminator of err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func NewQuotaExhausted(userID int) error {
	return &Error{Code: CodeQuotaExhausted, Message: fmt.Sprintf("user %d has no remaining add-group allowance", userID)}
}

func NewNoActiveAccount(userID, platformID int) error {
	return &Error{Code: CodeNoActiveAccount, Message: fmt.Sprintf("user %d has no connected account on platform %d", userID, platformID)}
}

// NewMessageNotFound is returned when a message is missing or owned by someone else.
func NewMessageNotFound(id int) error {
	return &Error{Code: CodeOrchestrationFault, Message: fmt.Sprintf("message with ID %d not found", id)}
}

func NewOrchestrationFault(msg string, err error) error {
	return &Error{Code: CodeOrchestrationFault, Message: msg, Err: err}
}

func NewTransport(op string, err error) error {
	return &Error{Code: CodeGatewayTransport, Message: op + " failed", Err: err}
}

func NewGatewayBusiness(op string, status int, body string) error {
	return &Error{Code: CodeGatewayBusiness, Message: op + " rejected by gateway", Status: status, Body: body}
}

func NewRateLimited(op string, status int, body string) error {
	return &Error{Code: CodeRateLimited, Message: op + " still rate limited after retries", Status: status, Body: body}
}

func NewInvalidRequest(msg string) error {
	return &Error{Code: CodeInvalidRequest, Message: msg}
}
