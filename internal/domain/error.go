package domain

import (
	"errors"
	"fmt"
)

// ErrorCode names the layer a failure originated in. Callers always receive
// either a usable result or an error carrying one of these codes.
type ErrorCode string

const (
	CodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeProcess       ErrorCode = "PROCESS"
	CodeProtocol      ErrorCode = "PROTOCOL"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeUnavailable   ErrorCode = "UNAVAILABLE"
	CodeInternal      ErrorCode = "INTERNAL"
)

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: code, Op: op, Message: msg, Cause: cause}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:    existing.Code,
			Op:      op,
			Message: existing.Message,
			Cause:   existing.Cause,
		}
	}
	return E(code, op, "", err)
}

var (
	ErrInvalidRegistry    = errors.New("invalid registry")
	ErrUnknownLanguage    = errors.New("unknown language")
	ErrServerDisabled     = errors.New("server disabled")
	ErrServerCrashed      = errors.New("server crashed")
	ErrServerNotReady     = errors.New("server not ready")
	ErrRestartExhausted   = errors.New("restart budget exhausted")
	ErrRequestTimeout     = errors.New("request timed out")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrInvalidCommand     = errors.New("invalid command")
	ErrExecutableNotFound = errors.New("executable not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNoMappingRules     = errors.New("no mapping rules configured")
)

// ServerNotFoundError reports a discovery miss with the executable that was
// looked for, so installation guidance can name it.
type ServerNotFoundError struct {
	Name string
}

func (e *ServerNotFoundError) Error() string {
	return fmt.Sprintf("server executable %q not found", e.Name)
}

func (e *ServerNotFoundError) Unwrap() error {
	return ErrExecutableNotFound
}

// CodeFrom maps an error to its layer code where one is known.
func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	switch {
	case errors.Is(err, ErrInvalidRegistry):
		return CodeInvalidConfig, true
	case errors.Is(err, ErrUnknownLanguage), errors.Is(err, ErrExecutableNotFound):
		return CodeNotFound, true
	case errors.Is(err, ErrRequestTimeout):
		return CodeTimeout, true
	case errors.Is(err, ErrConnectionClosed), errors.Is(err, ErrServerNotReady), errors.Is(err, ErrServerCrashed):
		return CodeUnavailable, true
	case errors.Is(err, ErrRestartExhausted):
		return CodeProcess, true
	case errors.Is(err, ErrInvalidCommand), errors.Is(err, ErrPermissionDenied):
		return CodeProcess, true
	case errors.Is(err, ErrNoMappingRules):
		return CodeInvalidConfig, true
	default:
		return "", false
	}
}
