//go:build linux

// Package aio drives Linux kernel asynchronous I/O (io_setup/io_submit/
// io_getevents) against an O_DIRECT descriptor.
package aio

import (
	"runtime"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-blkio/internal/interfaces"
	"github.com/ehrlich-b/go-blkio/internal/logging"
)

// Config configures a kernel AIO context
type Config struct {
	FD        uintptr
	MaxEvents uint32
	Logger    *logging.Logger
}

// inflight keeps a submitted iocb and its pinned buffer alive until the
// kernel reports completion
type inflight struct {
	cb     *iocb
	pinner runtime.Pinner
}

// Context is an interfaces.Queue over one kernel aio_context_t
type Context struct {
	ctx     uintptr
	fd      uint32
	logger  *logging.Logger
	pending map[uint64]*inflight
	raw     []ioEvent
}

// New calls io_setup for cfg.MaxEvents slots
func New(cfg Config) (*Context, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	var ctx uintptr
	_, _, errno := unix.Syscall(unix.SYS_IO_SETUP, uintptr(cfg.MaxEvents), uintptr(unsafe.Pointer(&ctx)), 0)
	if errno != 0 {
		logger.OSError("io_setup", errno)
		return nil, errno
	}

	return &Context{
		ctx:     ctx,
		fd:      uint32(cfg.FD),
		logger:  logger,
		pending: make(map[uint64]*inflight),
	}, nil
}

// Name implements interfaces.Queue
func (c *Context) Name() string { return "aio" }

// Submit issues a single io_submit for req
func (c *Context) Submit(req interfaces.Request) error {
	if len(req.Buf) == 0 {
		return syscall.EINVAL
	}

	cb := &iocb{
		data:   req.ID,
		fildes: c.fd,
		buf:    uint64(uintptr(unsafe.Pointer(&req.Buf[0]))),
		nbytes: uint64(len(req.Buf)),
		offset: req.Offset,
	}
	switch req.Op {
	case interfaces.OpRead:
		cb.lioOpcode = iocbCmdPread
	case interfaces.OpWrite:
		cb.lioOpcode = iocbCmdPwrite
	default:
		return syscall.EINVAL
	}

	fl := &inflight{cb: cb}
	fl.pinner.Pin(cb)
	fl.pinner.Pin(&req.Buf[0])

	cbs := [1]*iocb{cb}
	n, _, errno := unix.Syscall(unix.SYS_IO_SUBMIT, c.ctx, 1, uintptr(unsafe.Pointer(&cbs[0])))
	if errno != 0 || n != 1 {
		fl.pinner.Unpin()
		if errno == 0 {
			errno = syscall.EAGAIN
		}
		c.logger.OSError("io_submit", errno)
		return errno
	}

	c.pending[req.ID] = fl
	return nil
}

// Poll reaps up to len(events) completions with a zero timeout
func (c *Context) Poll(events []interfaces.Event) (int, error) {
	if len(events) == 0 || len(c.pending) == 0 {
		return 0, nil
	}
	if cap(c.raw) < len(events) {
		c.raw = make([]ioEvent, len(events))
	}
	raw := c.raw[:len(events)]

	var ts unix.Timespec
	n, _, errno := unix.Syscall6(unix.SYS_IO_GETEVENTS, c.ctx, 0, uintptr(len(raw)),
		uintptr(unsafe.Pointer(&raw[0])), uintptr(unsafe.Pointer(&ts)), 0)
	if errno != 0 {
		if errno == syscall.EINTR {
			return 0, nil
		}
		c.logger.OSError("io_getevents", errno)
		return 0, errno
	}

	for i := 0; i < int(n); i++ {
		ev := raw[i]
		out := interfaces.Event{ID: ev.data}
		if ev.res < 0 {
			out.Errno = syscall.Errno(-ev.res)
		} else {
			out.N = int(ev.res)
		}
		events[i] = out

		if fl, ok := c.pending[ev.data]; ok {
			fl.pinner.Unpin()
			delete(c.pending, ev.data)
		}
	}
	return int(n), nil
}

// Cancel asks the kernel to cancel every outstanding iocb. Most block
// drivers refuse (EINVAL); those requests simply finish normally. Accepted
// cancellations still deliver an event, with res set to -ECANCELED.
func (c *Context) Cancel() error {
	for _, fl := range c.pending {
		var res ioEvent
		_, _, errno := unix.Syscall(unix.SYS_IO_CANCEL, c.ctx, uintptr(unsafe.Pointer(fl.cb)), uintptr(unsafe.Pointer(&res)))
		switch errno {
		case 0, syscall.EINVAL, syscall.EAGAIN, syscall.EINPROGRESS:
		default:
			c.logger.OSError("io_cancel", errno)
		}
	}
	return nil
}

// Close destroys the context. The kernel waits for any request still in
// flight before io_destroy returns.
func (c *Context) Close() error {
	if c.ctx == 0 {
		return nil
	}
	_, _, errno := unix.Syscall(unix.SYS_IO_DESTROY, c.ctx, 0, 0)
	c.ctx = 0
	for id, fl := range c.pending {
		fl.pinner.Unpin()
		delete(c.pending, id)
	}
	if errno != 0 {
		c.logger.OSError("io_destroy", errno)
		return errno
	}
	return nil
}

var _ interfaces.Queue = (*Context)(nil)
