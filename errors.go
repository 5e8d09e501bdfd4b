package blkio

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Error represents a structured blkio error with context and errno mapping
type Error struct {
	Op    string        // Operation that failed (e.g., "open", "submit", "READ")
	Path  string        // Device path ("" if not applicable)
	LBA   int64         // Starting block (-1 if not applicable)
	Code  ErrorCode     // High-level error category
	Errno syscall.Errno // OS errno (0 if not applicable)
	Msg   string        // Human-readable message
	Inner error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Path != "" {
		parts = append(parts, "device="+e.Path)
	}
	if e.LBA >= 0 {
		parts = append(parts, fmt.Sprintf("lba=%d", e.LBA))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", int(e.Errno)))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("blkio: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return "blkio: " + msg
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches another *Error by code, so the sentinels below work with
// errors.Is regardless of the context fields
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return te.Code != "" && e.Code == te.Code
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeInvalidParameters  ErrorCode = "invalid parameters"
	ErrCodeDeviceNotFound     ErrorCode = "device not found"
	ErrCodeDeviceBusy         ErrorCode = "device busy"
	ErrCodePermissionDenied   ErrorCode = "permission denied"
	ErrCodeNotSupported       ErrorCode = "not supported on this system"
	ErrCodeInsufficientMemory ErrorCode = "insufficient resources"
	ErrCodeQueueFull          ErrorCode = "submission queue full"
	ErrCodeIOError            ErrorCode = "I/O error"
	ErrCodeShortTransfer      ErrorCode = "short transfer"
	ErrCodeTimeout            ErrorCode = "timeout"
	ErrCodeCancelled          ErrorCode = "cancelled"
	ErrCodeNotReady           ErrorCode = "engine not ready"
	ErrCodeWritesBlocked      ErrorCode = "writes blocked by partition guard"
	ErrCodeClosed             ErrorCode = "engine closed"
)

// Sentinel errors for errors.Is
var (
	ErrInvalidParameters = &Error{Code: ErrCodeInvalidParameters, LBA: -1}
	ErrDeviceNotFound    = &Error{Code: ErrCodeDeviceNotFound, LBA: -1}
	ErrNotSupported      = &Error{Code: ErrCodeNotSupported, LBA: -1}
	ErrQueueFull         = &Error{Code: ErrCodeQueueFull, LBA: -1}
	ErrShortTransfer     = &Error{Code: ErrCodeShortTransfer, LBA: -1}
	ErrTimeout           = &Error{Code: ErrCodeTimeout, LBA: -1}
	ErrNotReady          = &Error{Code: ErrCodeNotReady, LBA: -1}
	ErrWritesBlocked     = &Error{Code: ErrCodeWritesBlocked, LBA: -1}
	ErrClosed            = &Error{Code: ErrCodeClosed, LBA: -1}
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		LBA:  -1,
		Code: code,
		Msg:  msg,
	}
}

// NewErrorWithErrno creates a new structured error from an errno
func NewErrorWithErrno(op string, errno syscall.Errno) *Error {
	return &Error{
		Op:    op,
		LBA:   -1,
		Code:  mapErrnoToCode(errno),
		Errno: errno,
		Msg:   errno.Error(),
	}
}

// NewRequestError creates an error tied to a block range
func NewRequestError(op string, lba uint64, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		LBA:  int64(lba),
		Code: code,
		Msg:  msg,
	}
}

// WrapError wraps an existing error with blkio context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	var be *Error
	if errors.As(inner, &be) {
		wrapped := *be
		wrapped.Op = op
		return &wrapped
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{
			Op:    op,
			LBA:   -1,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   inner.Error(),
			Inner: inner,
		}
	}

	return &Error{
		Op:    op,
		LBA:   -1,
		Code:  ErrCodeIOError,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapErrnoToCode maps OS errno values to blkio error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT, syscall.ENXIO, syscall.ENODEV:
		return ErrCodeDeviceNotFound
	case syscall.EBUSY:
		return ErrCodeDeviceBusy
	case syscall.EINVAL, syscall.E2BIG, syscall.EBADF:
		return ErrCodeInvalidParameters
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeNotSupported
	case syscall.EPERM, syscall.EACCES, syscall.EROFS:
		return ErrCodePermissionDenied
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeInsufficientMemory
	case syscall.EAGAIN:
		return ErrCodeQueueFull
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	case syscall.ECANCELED:
		return ErrCodeCancelled
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// IsErrno checks if an error carries a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var be *Error
	if errors.As(err, &be) && be.Errno == errno {
		return true
	}
	return errors.Is(err, errno)
}
