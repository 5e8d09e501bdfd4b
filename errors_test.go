package blkio

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("open", ErrCodeInvalidParameters, "invalid queue depth")

	if err.Op != "open" {
		t.Errorf("Expected Op=open, got %s", err.Op)
	}
	if err.Code != ErrCodeInvalidParameters {
		t.Errorf("Expected Code=ErrCodeInvalidParameters, got %s", err.Code)
	}

	expected := "blkio: invalid queue depth (op=open)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestRequestErrorMessage(t *testing.T) {
	err := NewRequestError("WRITE", 2048, ErrCodeWritesBlocked, "")
	err.Path = "/dev/sdz"

	expected := "blkio: writes blocked by partition guard (op=WRITE, device=/dev/sdz, lba=2048)"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}
}

func TestWrapError(t *testing.T) {
	err := WrapError("open", fmt.Errorf("open /dev/nope: %w", syscall.ENOENT))

	if err.Code != ErrCodeDeviceNotFound {
		t.Errorf("Expected Code=ErrCodeDeviceNotFound, got %s", err.Code)
	}
	if err.Errno != syscall.ENOENT {
		t.Errorf("Expected Errno=ENOENT, got %v", err.Errno)
	}
	if !errors.Is(err, syscall.ENOENT) {
		t.Error("Expected wrapped error to satisfy errors.Is for ENOENT")
	}

	if WrapError("noop", nil) != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestWrapStructuredError(t *testing.T) {
	inner := NewRequestError("READ", 7, ErrCodeTimeout, "probe timed out")
	err := WrapError("open", inner)

	if err.Op != "open" || err.LBA != 7 || err.Code != ErrCodeTimeout {
		t.Errorf("unexpected rewrap: %+v", err)
	}
}

func TestSentinelErrors(t *testing.T) {
	structuredErr := &Error{Code: ErrCodeDeviceNotFound, LBA: -1}
	if !errors.Is(structuredErr, ErrDeviceNotFound) {
		t.Error("Structured error should match sentinel via errors.Is")
	}
	if errors.Is(structuredErr, ErrWritesBlocked) {
		t.Error("Structured error should not match a different sentinel")
	}

	if ErrDeviceNotFound.Error() != "blkio: device not found" {
		t.Errorf("Expected sentinel error message, got %q", ErrDeviceNotFound.Error())
	}

	wrappedErr := fmt.Errorf("context: %w", WrapError("open", syscall.ENOENT))
	if !errors.Is(wrappedErr, ErrDeviceNotFound) {
		t.Error("Wrapped ENOENT should match ErrDeviceNotFound")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("probe", ErrCodeTimeout, "operation timed out")

	if !IsCode(err, ErrCodeTimeout) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, ErrCodeIOError) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, ErrCodeTimeout) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestIsErrno(t *testing.T) {
	err := WrapError("submit", syscall.EIO)

	if !IsErrno(err, syscall.EIO) {
		t.Error("IsErrno should return true for matching errno")
	}
	if IsErrno(err, syscall.EPERM) {
		t.Error("IsErrno should return false for non-matching errno")
	}
	if IsErrno(nil, syscall.EIO) {
		t.Error("IsErrno should return false for nil error")
	}
}

func TestErrnoMapping(t *testing.T) {
	testCases := []struct {
		errno    syscall.Errno
		expected ErrorCode
	}{
		{syscall.ENOENT, ErrCodeDeviceNotFound},
		{syscall.EBUSY, ErrCodeDeviceBusy},
		{syscall.EINVAL, ErrCodeInvalidParameters},
		{syscall.EPERM, ErrCodePermissionDenied},
		{syscall.ENOMEM, ErrCodeInsufficientMemory},
		{syscall.EAGAIN, ErrCodeQueueFull},
		{syscall.ETIMEDOUT, ErrCodeTimeout},
		{syscall.ENOSYS, ErrCodeNotSupported},
		{syscall.EIO, ErrCodeIOError},
	}

	for _, tc := range testCases {
		if code := mapErrnoToCode(tc.errno); code != tc.expected {
			t.Errorf("mapErrnoToCode(%v) = %s, want %s", tc.errno, code, tc.expected)
		}
	}
}
