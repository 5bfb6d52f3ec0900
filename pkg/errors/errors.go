package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType classifies an error for retry decisions and HTTP mapping
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeAuthorization  ErrorType = "authorization"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeConflict       ErrorType = "conflict"
	ErrorTypeInternal       ErrorType = "internal"
	ErrorTypeExternal       ErrorType = "external"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeUnavailable    ErrorType = "unavailable"
)

// Codes shared with API clients
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeAuthentication  = "AUTHENTICATION_ERROR"
	CodeAuthorization   = "AUTHORIZATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeInternal        = "INTERNAL_ERROR"
	CodeExternal        = "EXTERNAL_SERVICE_ERROR"
	CodeTimeout         = "TIMEOUT"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
	CodeRule            = "RULE_ERROR"
	CodeChannel         = "CHANNEL_ERROR"
	CodeChannelRejected = "CHANNEL_REJECTED"
)

type kind struct {
	status    int
	retryable bool
}

var kinds = map[ErrorType]kind{
	ErrorTypeValidation:     {http.StatusBadRequest, false},
	ErrorTypeAuthentication: {http.StatusUnauthorized, false},
	ErrorTypeAuthorization:  {http.StatusForbidden, false},
	ErrorTypeNotFound:       {http.StatusNotFound, false},
	ErrorTypeConflict:       {http.StatusConflict, false},
	ErrorTypeInternal:       {http.StatusInternalServerError, true},
	ErrorTypeExternal:       {http.StatusBadGateway, true},
	ErrorTypeTimeout:        {http.StatusGatewayTimeout, true},
	ErrorTypeUnavailable:    {http.StatusServiceUnavailable, true},
}

// AppError is the error type returned across fleetwatch packages
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus is the status code an API answers with for this error
func (e *AppError) HTTPStatus() int {
	if k, ok := kinds[e.Type]; ok {
		return k.status
	}
	return http.StatusInternalServerError
}

// Retryable reports whether repeating the failed operation can succeed
func (e *AppError) Retryable() bool {
	if k, ok := kinds[e.Type]; ok {
		return k.retryable
	}
	return true
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithCause records the underlying error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail attaches a key/value shown to API clients
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, CodeValidation, message)
}

func NewAuthenticationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthentication, CodeAuthentication, message)
}

func NewAuthorizationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthorization, CodeAuthorization, message)
}

// NewNotFoundError reports "<resource> not found"
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrorTypeConflict, CodeConflict, message)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, CodeInternal, message)
}

func NewExternalError(service, message string) *AppError {
	return NewAppError(ErrorTypeExternal, CodeExternal, message).WithDetail("service", service)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeTimeout, CodeTimeout, fmt.Sprintf("%s timed out", operation))
}

// NewUnavailableError reports a monitored service or dependency that cannot
// take calls right now
func NewUnavailableError(service, message string) *AppError {
	return NewAppError(ErrorTypeUnavailable, CodeUnavailable, message).WithDetail("service", service)
}

// NewRuleError reports an alert rule that could not be evaluated
func NewRuleError(ruleID, message string) *AppError {
	return NewAppError(ErrorTypeInternal, CodeRule, message).WithDetail("rule_id", ruleID)
}

// NewChannelError reports a notification channel that failed to deliver
func NewChannelError(channel, message string) *AppError {
	return NewAppError(ErrorTypeExternal, CodeChannel, message).WithDetail("channel", channel)
}

// NewChannelRejectedError reports a channel endpoint that refused the payload
// with a 4xx answer. Sending the same payload again cannot succeed.
func NewChannelRejectedError(channel string, status int) *AppError {
	return NewAppError(ErrorTypeValidation, CodeChannelRejected,
		fmt.Sprintf("%s returned status %d", channel, status)).
		WithDetail("channel", channel)
}

// As returns the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == errorType
}

// CodeOf returns the error code, or "UNKNOWN_ERROR" for foreign errors
func CodeOf(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// TypeOf returns the error type; foreign errors are internal
func TypeOf(err error) ErrorType {
	if appErr, ok := As(err); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}
