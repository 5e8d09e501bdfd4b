// Package queue implements the portable completion-routine backend: each
// request runs on its own goroutine and its completion is parked until the
// engine polls, so callers never observe a callback outside Poll.
package queue

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/go-blkio/internal/interfaces"
)

// Logger is the subset of logging.Logger the runner needs
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

// Config configures a Runner
type Config struct {
	Depth  int               // maximum in-flight requests; <= 0 means unbounded
	Device interfaces.Device // transfer target
	Logger Logger
}

// Runner is an interfaces.Queue backed by goroutines doing positional I/O
type Runner struct {
	dev    interfaces.Device
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	logger Logger

	mu        sync.Mutex
	completed []interfaces.Event
	closed    bool
}

// NewRunner creates a runner for cfg.Device
func NewRunner(ctx context.Context, cfg Config) (*Runner, error) {
	if cfg.Device == nil {
		return nil, errors.New("queue: nil device")
	}

	ctx, cancel := context.WithCancel(ctx)
	g := &errgroup.Group{}
	if cfg.Depth > 0 {
		g.SetLimit(cfg.Depth)
	}

	if cfg.Logger != nil {
		cfg.Logger.Debugf("completion runner for %s with depth %d", cfg.Device.Path(), cfg.Depth)
	}

	return &Runner{
		dev:    cfg.Device,
		group:  g,
		ctx:    ctx,
		cancel: cancel,
		logger: cfg.Logger,
	}, nil
}

// Name implements interfaces.Queue
func (r *Runner) Name() string { return "pool" }

// Submit starts req on a new goroutine. EAGAIN is returned when Depth
// requests are already in flight.
func (r *Runner) Submit(req interfaces.Request) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return syscall.EBADF
	}
	if r.ctx.Err() != nil {
		return syscall.ECANCELED
	}

	if !r.group.TryGo(func() error {
		r.park(r.execute(req))
		return nil
	}) {
		return syscall.EAGAIN
	}
	return nil
}

func (r *Runner) execute(req interfaces.Request) interfaces.Event {
	ev := interfaces.Event{ID: req.ID}
	if r.ctx.Err() != nil {
		ev.Errno = syscall.ECANCELED
		return ev
	}

	var err error
	switch req.Op {
	case interfaces.OpRead:
		ev.N, err = r.dev.ReadAt(req.Buf, req.Offset)
		// A short read at end of device is reported through N alone
		if errors.Is(err, io.EOF) {
			err = nil
		}
	case interfaces.OpWrite:
		ev.N, err = r.dev.WriteAt(req.Buf, req.Offset)
	default:
		err = syscall.EINVAL
	}
	if err != nil {
		ev.Errno = errnoOf(err)
		if r.logger != nil {
			r.logger.Warnf("%s at offset %d failed: %v", req.Op, req.Offset, err)
		}
	}
	return ev
}

func (r *Runner) park(ev interfaces.Event) {
	r.mu.Lock()
	r.completed = append(r.completed, ev)
	r.mu.Unlock()
}

// Poll moves parked completions into events. When nothing is ready it
// yields the processor once so pending routines get a chance to run.
func (r *Runner) Poll(events []interfaces.Event) (int, error) {
	r.mu.Lock()
	n := copy(events, r.completed)
	if n > 0 {
		remaining := copy(r.completed, r.completed[n:])
		clear(r.completed[remaining:])
		r.completed = r.completed[:remaining]
	}
	r.mu.Unlock()

	if n == 0 {
		runtime.Gosched()
	}
	return n, nil
}

// Cancel makes requests that have not yet touched the device complete
// with ECANCELED
func (r *Runner) Cancel() error {
	r.cancel()
	return nil
}

// Close waits for every started routine to finish. Completions that were
// never polled are discarded.
func (r *Runner) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	err := r.group.Wait()

	r.mu.Lock()
	if len(r.completed) > 0 && r.logger != nil {
		r.logger.Debugf("discarding %d unpolled completions", len(r.completed))
	}
	r.completed = nil
	r.mu.Unlock()
	return err
}

func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}

var _ interfaces.Queue = (*Runner)(nil)
