//go:build linux

package uring

import (
	"errors"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/pawelgaczynski/giouring"

	"github.com/ehrlich-b/go-blkio/internal/interfaces"
	"github.com/ehrlich-b/go-blkio/internal/logging"
)

// ring adapts a giouring.Ring to interfaces.Queue. Every SQE is submitted
// immediately so Submit can report acceptance synchronously.
type ring struct {
	r       *giouring.Ring
	fd      int
	logger  *logging.Logger
	pending map[uint64]*runtime.Pinner
}

func newRing(config Config, logger *logging.Logger) (*ring, error) {
	if config.FD < 0 {
		return nil, syscall.EBADF
	}
	r, err := giouring.CreateRing(config.Entries)
	if err != nil {
		return nil, err
	}
	return &ring{
		r:       r,
		fd:      int(config.FD),
		logger:  logger,
		pending: make(map[uint64]*runtime.Pinner),
	}, nil
}

func (q *ring) Name() string { return "uring" }

func (q *ring) Submit(req interfaces.Request) error {
	if len(req.Buf) == 0 || req.Offset < 0 {
		return syscall.EINVAL
	}

	sqe := q.r.GetSQE()
	if sqe == nil {
		// SQ full: flush what is queued and retry once
		if _, err := q.r.Submit(); err != nil {
			return q.osError("io_uring_submit", err)
		}
		if sqe = q.r.GetSQE(); sqe == nil {
			return syscall.EAGAIN
		}
	}

	addr := uintptr(unsafe.Pointer(&req.Buf[0]))
	switch req.Op {
	case interfaces.OpRead:
		sqe.PrepareRead(q.fd, addr, uint32(len(req.Buf)), uint64(req.Offset))
	case interfaces.OpWrite:
		sqe.PrepareWrite(q.fd, addr, uint32(len(req.Buf)), uint64(req.Offset))
	default:
		return syscall.EINVAL
	}
	sqe.UserData = req.ID

	p := &runtime.Pinner{}
	p.Pin(&req.Buf[0])

	if _, err := q.r.Submit(); err != nil {
		p.Unpin()
		return q.osError("io_uring_submit", err)
	}
	q.pending[req.ID] = p
	return nil
}

func (q *ring) Poll(events []interfaces.Event) (int, error) {
	n := 0
	for n < len(events) && len(q.pending) > 0 {
		cqe, err := q.r.PeekCQE()
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
				break
			}
			return n, q.osError("io_uring_peek_cqe", err)
		}
		if cqe == nil {
			break
		}

		ev := interfaces.Event{ID: cqe.UserData}
		if cqe.Res < 0 {
			ev.Errno = syscall.Errno(-cqe.Res)
		} else {
			ev.N = int(cqe.Res)
		}
		q.r.CQESeen(cqe)

		if p, ok := q.pending[ev.ID]; ok {
			p.Unpin()
			delete(q.pending, ev.ID)
		}
		events[n] = ev
		n++
	}
	return n, nil
}

// Cancel is a no-op: block-device reads and writes already handed to the
// driver are not cancellable, and Close drains them.
func (q *ring) Cancel() error {
	return nil
}

func (q *ring) Close() error {
	if q.r == nil {
		return nil
	}
	q.r.QueueExit()
	q.r = nil
	for id, p := range q.pending {
		p.Unpin()
		delete(q.pending, id)
	}
	return nil
}

func (q *ring) osError(call string, err error) error {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		q.logger.OSError(call, errno)
		return errno
	}
	q.logger.Error("io_uring call failed", "call", call, "error", err)
	return err
}

var _ interfaces.Queue = (*ring)(nil)
