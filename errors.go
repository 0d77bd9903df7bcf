package jwtx

import (
	"errors"
	"fmt"
)

// ErrorCode represents issuer, cache and validator error categories.
type ErrorCode string

const (
	ErrCodeKeyLoad             ErrorCode = "key_load_error"
	ErrCodeEncryption          ErrorCode = "encryption_error"
	ErrCodeSignatureInvalid    ErrorCode = "signature_invalid"
	ErrCodeExpired             ErrorCode = "token_expired"
	ErrCodeNotYetValid         ErrorCode = "token_not_yet_valid"
	ErrCodeTokenUnavailable    ErrorCode = "token_unavailable"
	ErrCodeInvalidToken        ErrorCode = "invalid_token"
	ErrCodeInvalidArgument     ErrorCode = "invalid_argument"
	ErrCodeInvalidIssuer       ErrorCode = "invalid_issuer"
	ErrCodeInvalidAudience     ErrorCode = "invalid_audience"
	ErrCodeSubjectNotAllowed   ErrorCode = "subject_not_allowed"
	ErrCodeIssuerNotRegistered ErrorCode = "issuer_not_registered"
	ErrCodeJWKSUnavailable     ErrorCode = "jwks_unavailable"
	ErrCodeAgentRequest        ErrorCode = "agent_request_failed"
	ErrCodeInternal            ErrorCode = "internal_error"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeKeyLoad:             "Key load failed",
	ErrCodeEncryption:          "Payload encryption failed",
	ErrCodeSignatureInvalid:    "Signature invalid",
	ErrCodeExpired:             "Token expired",
	ErrCodeNotYetValid:         "Token not yet valid",
	ErrCodeTokenUnavailable:    "Token unavailable",
	ErrCodeInvalidToken:        "Invalid token",
	ErrCodeInvalidArgument:     "Invalid argument",
	ErrCodeInvalidIssuer:       "Invalid issuer",
	ErrCodeInvalidAudience:     "Invalid audience",
	ErrCodeSubjectNotAllowed:   "Subject not allowed",
	ErrCodeIssuerNotRegistered: "Issuer not registered",
	ErrCodeJWKSUnavailable:     "JWKS unavailable",
	ErrCodeAgentRequest:        "Agent request failed",
	ErrCodeInternal:            "Internal error",
}

// Error wraps jwtx errors with a stable code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error carrying the same code, so callers
// can match with errors.Is(err, &jwtx.Error{Code: jwtx.ErrCodeExpired}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func newError(code ErrorCode, err error) error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Err: err}
}
