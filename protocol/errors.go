package protocol

import "fmt"

// Error is the settlement protocol error type. Every failure surfaced by this
// module carries one of the codes below so callers can branch on the class of
// failure without parsing messages.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by code, so errors.Is(err, ErrSubmissionRejected) works
// regardless of message or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Error codes
const (
	ErrCodeConnection         = "connection_error"
	ErrCodeFinalityTimeout    = "finality_timeout"
	ErrCodeSubmissionRejected = "submission_rejected"
	ErrCodeMalformedMemo      = "malformed_memo"
	ErrCodeInvalidAmount      = "invalid_amount"
	ErrCodeInvalidLimit       = "invalid_limit"
	ErrCodeEmptyBytecode      = "empty_bytecode"
	ErrCodeMissingSequence    = "missing_sequence"
	ErrCodeProvisioningFailed = "provisioning_failed"
	ErrCodeInvalidTransition  = "invalid_transition"
	ErrCodeSpreadNotObserved  = "spread_not_observed"
	ErrCodeFundingUnavailable = "funding_unavailable"
)

// Sentinel values for errors.Is matching.
var (
	ErrConnection         = &Error{Code: ErrCodeConnection}
	ErrFinalityTimeout    = &Error{Code: ErrCodeFinalityTimeout}
	ErrSubmissionRejected = &Error{Code: ErrCodeSubmissionRejected}
	ErrMalformedMemo      = &Error{Code: ErrCodeMalformedMemo}
	ErrInvalidAmount      = &Error{Code: ErrCodeInvalidAmount}
	ErrInvalidLimit       = &Error{Code: ErrCodeInvalidLimit}
	ErrEmptyBytecode      = &Error{Code: ErrCodeEmptyBytecode}
	ErrMissingSequence    = &Error{Code: ErrCodeMissingSequence}
	ErrProvisioningFailed = &Error{Code: ErrCodeProvisioningFailed}
	ErrInvalidTransition  = &Error{Code: ErrCodeInvalidTransition}
	ErrSpreadNotObserved  = &Error{Code: ErrCodeSpreadNotObserved}
	ErrFundingUnavailable = &Error{Code: ErrCodeFundingUnavailable}
)

// NewError creates a new protocol error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new protocol error with a formatted message.
func NewErrorf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a new protocol error wrapping a cause.
func WrapError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
