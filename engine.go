// Package blkio drives asynchronous raw reads and writes against block
// devices. An Engine owns one device and one completion backend; callers
// submit requests with Read/Write and collect completions by calling Poll,
// which runs each request's callback on the caller's goroutine.
package blkio

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/multierr"

	"github.com/ehrlich-b/go-blkio/internal/aio"
	"github.com/ehrlich-b/go-blkio/internal/buffer"
	"github.com/ehrlich-b/go-blkio/internal/constants"
	"github.com/ehrlich-b/go-blkio/internal/device"
	"github.com/ehrlich-b/go-blkio/internal/logging"
	"github.com/ehrlich-b/go-blkio/internal/queue"
	"github.com/ehrlich-b/go-blkio/internal/uring"
)

// Params contains parameters for opening an Engine
type Params struct {
	Backend BackendKind

	QueueDepth int // in-flight limit for uring and pool (default: 128)
	MaxEvents  int // kernel AIO context size (default: 0xFFFF)
	PollBatch  int // completions reaped per Poll (default: 256)

	Direct   bool // open with O_DIRECT
	ReadOnly bool // open read-only; writes fail at the OS

	EnableStats      bool          // maintain Stats counters
	EnableWriteGuard bool          // refuse writes unless block 0 is free of a partition table
	GuardTimeout     time.Duration // bound on the partition probe run by Open
	DrainTimeout     time.Duration // bound on Close waiting for in-flight requests
}

// DefaultParams returns default engine parameters
func DefaultParams() Params {
	backend := BackendPool
	if runtime.GOOS == "linux" {
		backend = BackendAIO
	}
	return Params{
		Backend:    backend,
		QueueDepth: constants.DefaultQueueDepth,
		MaxEvents:  constants.DefaultMaxEvents,
		PollBatch:  constants.DefaultPollBatch,

		Direct:   true, // raw device access bypasses the page cache
		ReadOnly: false,

		EnableStats:      true,
		EnableWriteGuard: true, // never scribble on a partitioned disk by accident
		GuardTimeout:     constants.DefaultGuardTimeout,
		DrainTimeout:     constants.DefaultDrainTimeout,
	}
}

// Options contains additional options for engine creation
type Options struct {
	// Logger for diagnostics (if nil, uses logging.Default())
	Logger *Logger

	// Observer for metrics collection (if nil, records into Engine.Metrics)
	Observer Observer

	// Queue overrides the backend selected by Params.Backend
	Queue Queue
}

// EngineState describes whether an engine can accept requests
type EngineState string

const (
	// EngineStateReady indicates submissions reach the backend
	EngineStateReady EngineState = "ready"
	// EngineStateDegraded indicates backend setup failed; every submission fails
	EngineStateDegraded EngineState = "degraded"
	// EngineStateClosed indicates Close has been called
	EngineStateClosed EngineState = "closed"
)

// Engine is the asynchronous I/O engine for one device. It is not safe
// for concurrent use: submit, poll and close from a single goroutine.
type Engine struct {
	dev      Device
	params   Params
	q        Queue
	setupErr error
	logger   *logging.Logger
	observer Observer
	metrics  *Metrics
	buffers  *buffer.Pool

	records map[uint64]*Completion
	nextID  uint64
	events  []Event
	polling bool

	stats         Stats
	writesAllowed bool
	lastErr       error
	closed        bool
}

// Open opens the device at path and builds an engine for it.
//
// Failure to open the device is returned as an error. Failure to set up
// the completion backend is not: the engine is returned in the degraded
// state, SetupErr reports why, and every submission fails at queue time.
//
// When Params.EnableWriteGuard is set, Open probes block 0 for a partition
// table before returning; see CheckPartitionGuard.
//
// Example:
//
//	e, err := blkio.Open(ctx, "/dev/nvme1n1", blkio.DefaultParams(), nil)
//	if err != nil {
//		return err
//	}
//	defer e.Close()
func Open(ctx context.Context, path string, params Params, options *Options) (*Engine, error) {
	if options == nil {
		options = &Options{}
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}

	dev, err := device.Open(path, device.Options{
		Direct:   params.Direct,
		ReadOnly: params.ReadOnly,
		Logger:   logger,
	})
	if err != nil {
		werr := WrapError("open", err)
		werr.Path = path
		logger.WithDevice(path).Error("failed to open device", "error", err)
		return nil, werr
	}

	e, err := New(ctx, dev, params, options)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return e, nil
}

// New builds an engine around an already open device. The engine takes
// ownership of dev and closes it in Close.
func New(ctx context.Context, dev Device, params Params, options *Options) (*Engine, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if dev == nil {
		return nil, NewError("open", ErrCodeInvalidParameters, "nil device")
	}
	if options == nil {
		options = &Options{}
	}
	params = withDefaults(params)

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithDevice(dev.Path())

	metrics := NewMetrics()
	var observer Observer
	if options.Observer != nil {
		observer = options.Observer
	} else {
		observer = NewMetricsObserver(metrics)
	}

	e := &Engine{
		dev:           dev,
		params:        params,
		logger:        logger,
		observer:      observer,
		metrics:       metrics,
		buffers:       buffer.NewPool(constants.BufferAlignment),
		records:       make(map[uint64]*Completion),
		events:        make([]Event, params.PollBatch),
		stats:         newStats(),
		writesAllowed: !params.EnableWriteGuard,
	}

	if options.Queue != nil {
		e.q = options.Queue
	} else {
		q, err := e.buildQueue(ctx)
		if err != nil {
			e.setupErr = err
			logger.Error("completion backend setup failed; submissions will fail",
				"backend", string(params.Backend), "error", err)
		} else {
			e.q = q
		}
	}
	if e.q != nil {
		e.logger = e.logger.WithBackend(e.q.Name())
	}

	if params.EnableWriteGuard {
		gctx, cancel := context.WithTimeout(ctx, params.GuardTimeout)
		if err := e.CheckPartitionGuard(gctx); err != nil {
			e.logger.Warn("writes disabled", "reason", err)
		}
		cancel()
	}

	e.logger.Info("engine ready", "state", string(e.State()), "writes_allowed", e.writesAllowed)
	return e, nil
}

func withDefaults(p Params) Params {
	d := DefaultParams()
	if p.Backend == "" {
		p.Backend = d.Backend
	}
	if p.QueueDepth <= 0 {
		p.QueueDepth = d.QueueDepth
	}
	if p.MaxEvents <= 0 {
		p.MaxEvents = d.MaxEvents
	}
	if p.PollBatch <= 0 {
		p.PollBatch = d.PollBatch
	}
	if p.GuardTimeout <= 0 {
		p.GuardTimeout = d.GuardTimeout
	}
	if p.DrainTimeout <= 0 {
		p.DrainTimeout = d.DrainTimeout
	}
	return p
}

func (e *Engine) buildQueue(ctx context.Context) (Queue, error) {
	switch e.params.Backend {
	case BackendAIO:
		fd, ok := e.dev.(FileDevice)
		if !ok {
			return nil, NewError("io_setup", ErrCodeNotSupported, "kernel AIO needs a file-backed device")
		}
		c, err := aio.New(aio.Config{FD: fd.Fd(), MaxEvents: uint32(e.params.MaxEvents), Logger: e.logger})
		if err != nil {
			return nil, WrapError("io_setup", err)
		}
		return c, nil
	case BackendURing:
		fd, ok := e.dev.(FileDevice)
		if !ok {
			return nil, NewError("io_uring_setup", ErrCodeNotSupported, "io_uring needs a file-backed device")
		}
		r, err := uring.NewRing(uring.Config{Entries: uint32(e.params.QueueDepth), FD: int32(fd.Fd()), Logger: e.logger})
		if err != nil {
			return nil, WrapError("io_uring_setup", err)
		}
		return r, nil
	case BackendPool:
		// The runner outlives the ctx passed to Open; Close stops it.
		r, err := queue.NewRunner(context.WithoutCancel(ctx), queue.Config{
			Depth:  e.params.QueueDepth,
			Device: e.dev,
			Logger: e.logger,
		})
		if err != nil {
			return nil, WrapError("setup", err)
		}
		return r, nil
	default:
		return nil, NewError("setup", ErrCodeInvalidParameters, fmt.Sprintf("unknown backend %q", e.params.Backend))
	}
}

// SetupErr returns the backend setup failure, or nil if the engine is ready
func (e *Engine) SetupErr() error {
	return e.setupErr
}

// State returns the current state of the engine
func (e *Engine) State() EngineState {
	switch {
	case e == nil || e.closed:
		return EngineStateClosed
	case e.q == nil:
		return EngineStateDegraded
	default:
		return EngineStateReady
	}
}

// Path returns the device path
func (e *Engine) Path() string {
	return e.dev.Path()
}

// BlockSize returns the device's logical block size, or 0 if it cannot be
// determined. The value is queried once and cached.
func (e *Engine) BlockSize() uint32 {
	bs, err := e.dev.BlockSize()
	if err != nil {
		e.logger.Error("block size query failed", "error", err)
		return 0
	}
	return bs
}

// BlockCount returns the number of logical blocks, or 0 if it cannot be
// determined. The value is queried once and cached.
func (e *Engine) BlockCount() uint64 {
	n, err := e.dev.BlockCount()
	if err != nil {
		e.logger.Error("block count query failed", "error", err)
		return 0
	}
	return n
}

// GetAlignedBuffer returns a buffer of size bytes aligned for direct I/O.
// Release it with FreeAlignedBuffer.
func (e *Engine) GetAlignedBuffer(size int) []byte {
	return e.buffers.Get(size)
}

// FreeAlignedBuffer returns a buffer obtained from GetAlignedBuffer
func (e *Engine) FreeAlignedBuffer(buf []byte) {
	e.buffers.Put(buf)
}

// Read queues a read of blocks blocks starting at lba into an
// engine-allocated buffer. The buffer is valid only inside cb.
// It returns false if the request could not be queued; cb is then never
// called.
func (e *Engine) Read(lba uint64, blocks uint32, cb func(*Completion), userData any) bool {
	return e.enqueue(&Completion{
		LBA:      lba,
		Blocks:   blocks,
		Op:       OpRead,
		Callback: cb,
		UserData: userData,
	}, false)
}

// Write queues a write of blocks blocks from buf starting at lba. buf is
// not copied; it must stay untouched until cb runs. It returns false if the
// request could not be queued, including when the partition guard has
// disabled writes; cb is then never called.
func (e *Engine) Write(lba uint64, blocks uint32, buf []byte, cb func(*Completion), userData any) bool {
	return e.enqueue(&Completion{
		LBA:      lba,
		Blocks:   blocks,
		Buffer:   buf,
		Op:       OpWrite,
		Callback: cb,
		UserData: userData,
	}, true)
}

// Submit queues a caller-built record. Reads without a Buffer get an
// engine-owned one. On failure any engine-owned buffer is taken back, the
// failure is counted, and LastError reports the cause; the record keeps its
// Callback and can be submitted again. Once a completion has been
// dispatched the engine clears Callback.
//
// Submit does not consult the partition guard: a hand-built write record
// is the deliberate way past it.
func (e *Engine) Submit(rec *Completion) bool {
	return e.enqueue(rec, false)
}

func (e *Engine) enqueue(rec *Completion, guarded bool) bool {
	if rec == nil {
		e.lastErr = NewError("submit", ErrCodeInvalidParameters, "nil record")
		return false
	}
	if e.params.EnableStats {
		e.stats.recordQueued(rec.Op, rec.LBA, rec.Blocks)
	}

	if err := e.submit(rec, guarded); err != nil {
		e.lastErr = err
		if e.params.EnableStats {
			e.stats.recordFailure(rec.Op)
		}
		e.observer.ObserveSubmitReject(rec.Op)
		e.logger.IOError(rec.Op.String(), rec.LBA, rec.Blocks, err)
		e.release(rec)
		return false
	}
	return true
}

func (e *Engine) submit(rec *Completion, guarded bool) error {
	op := rec.Op.String()
	if e.closed {
		return NewRequestError(op, rec.LBA, ErrCodeClosed, "")
	}
	if rec.Op != OpRead && rec.Op != OpWrite {
		return NewRequestError(op, rec.LBA, ErrCodeInvalidParameters, "unknown operation")
	}
	if guarded && rec.Op == OpWrite && !e.writesAllowed {
		return NewRequestError(op, rec.LBA, ErrCodeWritesBlocked, "")
	}
	if e.q == nil {
		err := NewRequestError(op, rec.LBA, ErrCodeNotReady, "completion backend unavailable")
		err.Inner = e.setupErr
		return err
	}
	if rec.Blocks == 0 {
		return NewRequestError(op, rec.LBA, ErrCodeInvalidParameters, "zero block count")
	}

	bs := e.BlockSize()
	if bs == 0 {
		return NewRequestError(op, rec.LBA, ErrCodeNotReady, "device geometry unavailable")
	}
	if count := e.BlockCount(); count > 0 && (rec.LBA >= count || uint64(rec.Blocks) > count-rec.LBA) {
		return NewRequestError(op, rec.LBA, ErrCodeInvalidParameters,
			fmt.Sprintf("range of %d blocks exceeds device of %d blocks", rec.Blocks, count))
	}

	rec.BytesRequested = int(rec.Blocks) * int(bs)
	if rec.Op == OpRead && rec.Buffer == nil {
		rec.Buffer = e.buffers.Get(rec.BytesRequested)
		rec.ownsBuffer = true
	}
	if len(rec.Buffer) < rec.BytesRequested {
		return NewRequestError(op, rec.LBA, ErrCodeInvalidParameters,
			fmt.Sprintf("buffer of %d bytes is smaller than %d", len(rec.Buffer), rec.BytesRequested))
	}

	return e.dispatch(rec, bs)
}

// dispatch hands a fully built record to the backend and takes it into the
// in-flight table
func (e *Engine) dispatch(rec *Completion, blockSize uint32) error {
	e.nextID++
	rec.id = e.nextID
	rec.submitted = time.Now()

	req := Request{
		ID:     rec.id,
		Op:     rec.Op,
		Offset: int64(rec.LBA) * int64(blockSize),
		Buf:    rec.Buffer[:rec.BytesRequested],
	}
	if err := e.q.Submit(req); err != nil {
		rec.submitted = time.Time{}
		werr := WrapError(rec.Op.String(), err)
		werr.LBA = int64(rec.LBA)
		return werr
	}

	e.records[rec.id] = rec
	e.logger.IOSubmit(rec.Op.String(), rec.LBA, rec.Blocks)
	e.observer.ObserveQueueDepth(len(e.records))
	return nil
}

// Poll harvests completed requests without blocking. For each one it fills
// in BytesTransferred and Errno, runs the callback, then frees the record
// and any engine-owned buffer. It returns true if at least one completion
// was processed. Calls made from inside a callback return false.
func (e *Engine) Poll() bool {
	if e.q == nil || e.polling {
		return false
	}

	n, err := e.q.Poll(e.events)
	if err != nil {
		e.lastErr = WrapError("poll", err)
		return false
	}
	if n == 0 {
		return false
	}

	e.polling = true
	defer func() { e.polling = false }()

	for _, ev := range e.events[:n] {
		rec, ok := e.records[ev.ID]
		if !ok {
			e.logger.Warn("completion for unknown request", "id", ev.ID)
			continue
		}
		delete(e.records, ev.ID)
		e.complete(rec, ev)
	}
	return true
}

func (e *Engine) complete(rec *Completion, ev Event) {
	rec.BytesTransferred = ev.N
	rec.Errno = ev.Errno

	e.observer.ObserveCompletion(rec)
	if rec.Succeeded() {
		e.logger.IOComplete(rec.Op.String(), rec.LBA, ev.N, rec.Latency().Microseconds())
	} else {
		e.logger.IOError(rec.Op.String(), rec.LBA, rec.Blocks, rec.Err())
	}

	if rec.Callback != nil {
		rec.Callback(rec)
	}
	e.release(rec)
	rec.Callback = nil
}

// release frees the record's engine-owned buffer. A record is released
// once per submission: on queue failure or after its callback.
func (e *Engine) release(rec *Completion) {
	if rec.ownsBuffer {
		e.buffers.Put(rec.Buffer)
		rec.Buffer = nil
		rec.ownsBuffer = false
	}
}

// Outstanding returns the number of requests handed to the backend whose
// completions have not been polled yet
func (e *Engine) Outstanding() int {
	return len(e.records)
}

// LastError returns the cause of the most recent queue-time failure
func (e *Engine) LastError() error {
	return e.lastErr
}

// Stats returns a snapshot of the submission counters
func (e *Engine) Stats() Stats {
	return e.stats
}

// ClearStats resets the submission counters
func (e *Engine) ClearStats() {
	e.stats = newStats()
}

// Metrics returns the completion metrics for the engine
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of engine metrics
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// EngineInfo summarizes an engine for display
type EngineInfo struct {
	Path          string      `json:"path"`
	Backend       string      `json:"backend"`
	State         EngineState `json:"state"`
	BlockSize     uint32      `json:"block_size"`
	BlockCount    uint64      `json:"block_count"`
	SizeBytes     uint64      `json:"size_bytes"`
	WritesAllowed bool        `json:"writes_allowed"`
	Outstanding   int         `json:"outstanding"`
	SetupError    string      `json:"setup_error,omitempty"`

	// DeviceStats is filled in for devices implementing StatDevice
	DeviceStats map[string]interface{} `json:"device_stats,omitempty"`
}

// Info returns information about the engine and its device
func (e *Engine) Info() EngineInfo {
	info := EngineInfo{
		Path:          e.dev.Path(),
		Backend:       string(e.params.Backend),
		State:         e.State(),
		BlockSize:     e.BlockSize(),
		BlockCount:    e.BlockCount(),
		WritesAllowed: e.writesAllowed,
		Outstanding:   len(e.records),
	}
	if e.q != nil {
		info.Backend = e.q.Name()
	}
	info.SizeBytes = uint64(info.BlockSize) * info.BlockCount
	if e.setupErr != nil {
		info.SetupError = e.setupErr.Error()
	}
	if sd, ok := e.dev.(StatDevice); ok && !e.closed {
		info.DeviceStats = sd.Stats()
	}
	return info
}

// Close cancels outstanding requests, drains their completions through
// Poll (callbacks run), releases the backend and closes the device.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}

	var err error
	if e.q != nil {
		err = multierr.Append(err, e.q.Cancel())
		err = multierr.Append(err, e.drain())
		err = multierr.Append(err, e.q.Close())
	}
	e.closed = true
	err = multierr.Append(err, e.dev.Close())
	e.metrics.Stop()

	if err != nil {
		e.logger.Error("engine closed with errors", "error", err)
	} else {
		e.logger.Debug("engine closed")
	}
	return err
}

func (e *Engine) drain() error {
	deadline := time.Now().Add(e.params.DrainTimeout)
	for len(e.records) > 0 {
		if e.Poll() {
			continue
		}
		if time.Now().After(deadline) {
			return NewError("close", ErrCodeTimeout,
				fmt.Sprintf("%d requests still in flight after %s", len(e.records), e.params.DrainTimeout))
		}
		time.Sleep(constants.DrainPollInterval)
	}
	return nil
}
