package blkio

import (
	"fmt"
	"syscall"
	"time"
)

// Completion is the record that travels with one request from submission
// to its callback. The engine owns it between Submit and the return of the
// callback; callers must not retain it or its Buffer past that point.
type Completion struct {
	LBA            uint64 // first logical block
	Blocks         uint32 // requested block count
	BytesRequested int    // Blocks * block size, filled in at submission
	Buffer         []byte // transfer buffer; engine-allocated for reads
	Op             Op

	Callback func(*Completion) // invoked from Poll; may be nil
	UserData any

	BytesTransferred int           // filled in at completion
	Errno            syscall.Errno // 0 on success

	id         uint64
	submitted  time.Time
	ownsBuffer bool
}

// Succeeded reports whether the OS moved every requested byte without error
func (c *Completion) Succeeded() bool {
	return c.Errno == 0 && c.BytesTransferred == c.BytesRequested
}

// Failed is the negation of Succeeded
func (c *Completion) Failed() bool {
	return !c.Succeeded()
}

// Err describes a failed completion, or returns nil on success
func (c *Completion) Err() error {
	if c.Succeeded() {
		return nil
	}
	if c.Errno != 0 {
		err := NewRequestError(c.Op.String(), c.LBA, mapErrnoToCode(c.Errno), c.Errno.Error())
		err.Errno = c.Errno
		err.Inner = c.Errno
		return err
	}
	return NewRequestError(c.Op.String(), c.LBA, ErrCodeShortTransfer,
		fmt.Sprintf("transferred %d of %d bytes", c.BytesTransferred, c.BytesRequested))
}

// Latency is the time since the record was handed to the backend. Zero
// for records that never reached it.
func (c *Completion) Latency() time.Duration {
	if c.submitted.IsZero() {
		return 0
	}
	return time.Since(c.submitted)
}

func (c *Completion) String() string {
	return fmt.Sprintf("Completion{op=%s lba=%d blocks=%d requested=%d transferred=%d errno=%d succeeded=%t}",
		c.Op, c.LBA, c.Blocks, c.BytesRequested, c.BytesTransferred, int(c.Errno), c.Succeeded())
}
