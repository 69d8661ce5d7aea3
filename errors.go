package chth

import (
	"errors"
	"fmt"
	"syscall"
)

// Error is a structured error carrying the operation, a high-level code, and
// (for OS-boundary failures) the underlying errno, so failures are
// attributable in logs without parsing message strings.
type Error struct {
	Op    string // operation that failed, e.g. "accept", "submit", "ct_exec"
	Conn  int    // connection slot index, -1 if not applicable
	Code  ErrorCode
	Errno syscall.Errno // kernel errno, 0 if not applicable
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Conn >= 0 {
		parts = append(parts, fmt.Sprintf("conn=%d", e.Conn))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("chth: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("chth: %s", msg)
}

// Unwrap returns the wrapped error, for errors.Is/errors.As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparison by error code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode categorizes failures per spec.md §7's error kinds.
type ErrorCode string

const (
	ErrCodeProtocol  ErrorCode = "protocol violation"
	ErrCodeCapacity  ErrorCode = "at capacity"
	ErrCodeTimeout   ErrorCode = "timed out"
	ErrCodeTransient ErrorCode = "transient OS failure"
	ErrCodeCompile   ErrorCode = "compile failure"
	ErrCodeFatal     ErrorCode = "fatal"
)

// NewError creates a structured error with no connection or errno context.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Conn: -1, Code: code, Msg: msg}
}

// NewConnError creates a structured error scoped to a connection slot.
func NewConnError(op string, conn int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Conn: conn, Code: code, Msg: msg}
}

// WrapError wraps a lower-level error (typically a syscall.Errno) with chth
// context, mapping known errnos to an ErrorCode.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ce, ok := inner.(*Error); ok {
		return &Error{Op: op, Conn: ce.Conn, Code: ce.Code, Errno: ce.Errno, Msg: ce.Msg, Inner: ce.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Conn: -1, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Conn: -1, Code: ErrCodeTransient, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	case syscall.EPERM, syscall.EACCES:
		return ErrCodeFatal
	default:
		return ErrCodeTransient
	}
}

// IsCode reports whether err is a *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
