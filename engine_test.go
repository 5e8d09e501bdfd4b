package blkio

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-blkio/backend"
	"github.com/ehrlich-b/go-blkio/internal/buffer"
	"github.com/ehrlich-b/go-blkio/internal/logging"
)

const testDeviceSize = 1 << 20 // 2048 blocks of 512 bytes

func testParams() Params {
	p := DefaultParams()
	p.Backend = BackendPool
	p.QueueDepth = 16
	p.Direct = false
	p.EnableWriteGuard = false
	return p
}

func newTestEngine(t *testing.T, dev Device, params Params, q Queue) *Engine {
	t.Helper()
	e, err := New(context.Background(), dev, params, &Options{Logger: logging.Nop(), Queue: q})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// pollUntil polls e until cond holds or the deadline passes
func pollUntil(t *testing.T, e *Engine, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if !e.Poll() {
			if time.Now().After(deadline) {
				t.Fatalf("condition not met before deadline, %d requests outstanding", e.Outstanding())
			}
			time.Sleep(time.Millisecond)
		}
	}
}

func TestEngineWriteReadRoundTrip(t *testing.T) {
	dev := backend.NewMemory(testDeviceSize)
	e := newTestEngine(t, dev, testParams(), nil)

	require.Equal(t, uint32(512), e.BlockSize())
	require.Equal(t, uint64(2048), e.BlockCount())
	require.Equal(t, EngineStateReady, e.State())

	buf := e.GetAlignedBuffer(4 * 512)
	defer e.FreeAlignedBuffer(buf)
	for i := range buf {
		buf[i] = byte(i % 251)
	}

	var wrote *Completion
	ok := e.Write(8, 4, buf, func(c *Completion) {
		wrote = &Completion{BytesTransferred: c.BytesTransferred, BytesRequested: c.BytesRequested, Errno: c.Errno}
	}, "w")
	require.True(t, ok, "write not queued: %v", e.LastError())
	pollUntil(t, e, func() bool { return wrote != nil })
	require.True(t, wrote.Succeeded(), "write failed: %v", wrote.Err())
	assert.Equal(t, 2048, wrote.BytesTransferred)

	var got []byte
	var userData any
	ok = e.Read(8, 4, func(c *Completion) {
		got = append([]byte(nil), c.Buffer[:c.BytesTransferred]...)
		userData = c.UserData
	}, "r")
	require.True(t, ok)
	pollUntil(t, e, func() bool { return got != nil })

	assert.True(t, bytes.Equal(buf, got), "read back differs from written data")
	assert.Equal(t, "r", userData)
	assert.Equal(t, 0, e.Outstanding())
}

func TestEngineNilCallback(t *testing.T) {
	dev := backend.NewMemory(testDeviceSize)
	q := NewMockQueue(dev)
	e := newTestEngine(t, dev, testParams(), q)

	buf := e.GetAlignedBuffer(512)
	require.True(t, e.Write(0, 1, buf, nil, nil))
	require.Equal(t, 1, e.Outstanding())
	require.True(t, e.Poll())
	assert.Equal(t, 0, e.Outstanding())
	assert.Equal(t, uint64(1), e.MetricsSnapshot().Write.Ops)
}

func TestEngineStats(t *testing.T) {
	dev := backend.NewMemory(testDeviceSize)
	e := newTestEngine(t, dev, testParams(), NewMockQueue(dev))

	s := e.Stats()
	assert.Equal(t, uint64(math.MaxUint64), s.LowestQueuedReadLBA)
	assert.Equal(t, uint64(math.MaxUint64), s.LowestQueuedWriteLBA)

	for _, r := range []struct {
		lba    uint64
		blocks uint32
	}{{10, 2}, {3, 8}, {50, 1}} {
		require.True(t, e.Read(r.lba, r.blocks, nil, nil))
	}
	buf := e.GetAlignedBuffer(512)
	require.True(t, e.Write(7, 1, buf, nil, nil))

	s = e.Stats()
	assert.Equal(t, uint64(3), s.QueuedReads)
	assert.Equal(t, uint32(8), s.LargestQueuedReadBlocks)
	assert.Equal(t, uint64(3), s.LowestQueuedReadLBA)
	assert.Equal(t, uint64(50), s.HighestQueuedReadLBA)
	assert.Equal(t, uint64(1), s.QueuedWrites)
	assert.Equal(t, uint64(7), s.LowestQueuedWriteLBA)
	assert.Equal(t, uint64(7), s.HighestQueuedWriteLBA)
	assert.Zero(t, s.ReadQueueFailures)

	e.ClearStats()
	s = e.Stats()
	assert.Zero(t, s.QueuedReads)
	assert.Equal(t, uint64(math.MaxUint64), s.LowestQueuedReadLBA)
}

func TestEngineStatsDisabled(t *testing.T) {
	dev := backend.NewMemory(testDeviceSize)
	params := testParams()
	params.EnableStats = false
	e := newTestEngine(t, dev, params, NewMockQueue(dev))

	require.True(t, e.Read(1, 1, nil, nil))
	assert.Zero(t, e.Stats().QueuedReads)
}

func TestEngineQueueFailure(t *testing.T) {
	dev := backend.NewMemory(testDeviceSize)
	q := NewMockQueue(dev)
	e := newTestEngine(t, dev, testParams(), q)
	q.SetSubmitError(syscall.EAGAIN)

	called := false
	ok := e.Read(4, 2, func(*Completion) { called = true }, nil)
	require.False(t, ok)
	assert.Equal(t, 0, e.Outstanding())

	err := e.LastError()
	assert.True(t, errors.Is(err, ErrQueueFull), "got %v", err)
	assert.True(t, IsErrno(err, syscall.EAGAIN))

	s := e.Stats()
	assert.Equal(t, uint64(1), s.QueuedReads)
	assert.Equal(t, uint64(1), s.ReadQueueFailures)
	assert.Equal(t, uint64(1), e.MetricsSnapshot().SubmitRejects)

	for e.Poll() {
	}
	assert.False(t, called, "callback ran for a request that was never queued")

	q.SetSubmitError(nil)
	require.True(t, e.Read(4, 2, func(*Completion) { called = true }, nil))
	require.True(t, e.Poll())
	assert.True(t, called)
}

func TestEngineSubmitRetryAfterQueueFailure(t *testing.T) {
	dev := backend.NewMemory(testDeviceSize)
	q := NewMockQueue(dev)
	e := newTestEngine(t, dev, testParams(), q)
	q.SetSubmitError(syscall.EAGAIN)

	calls := 0
	rec := &Completion{LBA: 6, Blocks: 1, Op: OpRead, Callback: func(*Completion) { calls++ }}
	require.False(t, e.Submit(rec))
	assert.NotNil(t, rec.Callback, "failed submission must leave the caller's callback in place")
	assert.Nil(t, rec.Buffer, "engine-owned buffer must be taken back")

	q.SetSubmitError(nil)
	require.True(t, e.Submit(rec), "resubmit: %v", e.LastError())
	pollUntil(t, e, func() bool { return calls == 1 })
	assert.Nil(t, rec.Callback)
}

func TestEngineInfoDeviceStats(t *testing.T) {
	dev := backend.NewMemory(testDeviceSize)
	e := newTestEngine(t, dev, testParams(), NewMockQueue(dev))

	done := false
	require.True(t, e.Write(0, 1, make([]byte, 512), func(*Completion) { done = true }, nil))
	pollUntil(t, e, func() bool { return done })

	info := e.Info()
	assert.Equal(t, "mock", info.Backend)
	assert.Equal(t, uint64(testDeviceSize), info.SizeBytes)
	require.NotNil(t, info.DeviceStats)
	assert.Equal(t, "memory", info.DeviceStats["type"])
	assert.Equal(t, uint64(1), info.DeviceStats["writes"])
}

func TestEngineInvalidRequests(t *testing.T) {
	dev := backend.NewMemory(testDeviceSize)
	e := newTestEngine(t, dev, testParams(), NewMockQueue(dev))
	small := e.GetAlignedBuffer(512)

	tests := []struct {
		name   string
		submit func() bool
	}{
		{"zero blocks", func() bool { return e.Read(0, 0, nil, nil) }},
		{"past end", func() bool { return e.Read(2048, 1, nil, nil) }},
		{"straddles end", func() bool { return e.Read(2040, 16, nil, nil) }},
		{"short write buffer", func() bool { return e.Write(0, 2, small, nil, nil) }},
		{"nil write buffer", func() bool { return e.Write(0, 1, nil, nil, nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.False(t, tt.submit())
			assert.True(t, errors.Is(e.LastError(), ErrInvalidParameters), "got %v", e.LastError())
		})
	}
	assert.Equal(t, 0, e.Outstanding())
}

func TestEngineErrnoCompletion(t *testing.T) {
	dev := backend.NewMemory(testDeviceSize)
	e := newTestEngine(t, dev, testParams(), nil)
	dev.SetFault(syscall.EIO)

	var result *Completion
	require.True(t, e.Read(0, 1, func(c *Completion) {
		result = &Completion{Op: c.Op, LBA: c.LBA, Errno: c.Errno, BytesRequested: c.BytesRequested}
	}, nil))
	pollUntil(t, e, func() bool { return result != nil })

	assert.True(t, result.Failed())
	assert.Equal(t, syscall.EIO, result.Errno)
	assert.True(t, errors.Is(result.Err(), syscall.EIO))
	assert.Equal(t, uint64(1), e.MetricsSnapshot().Read.Errors)
}

func TestEnginePollNotReentrant(t *testing.T) {
	dev := backend.NewMemory(testDeviceSize)
	e := newTestEngine(t, dev, testParams(), NewMockQueue(dev))

	var nested []bool
	cb := func(*Completion) { nested = append(nested, e.Poll()) }
	require.True(t, e.Read(0, 1, cb, nil))
	require.True(t, e.Read(1, 1, cb, nil))

	require.True(t, e.Poll())
	assert.Equal(t, []bool{false, false}, nested)
	assert.Equal(t, 0, e.Outstanding())
}

func TestEngineCloseDrains(t *testing.T) {
	dev := backend.NewMemory(testDeviceSize)
	q := NewMockQueue(dev)
	params := testParams()
	params.DrainTimeout = time.Second
	e, err := New(context.Background(), dev, params, &Options{Logger: logging.Nop(), Queue: q})
	require.NoError(t, err)

	q.Hold()
	var errnos []syscall.Errno
	for lba := uint64(0); lba < 3; lba++ {
		require.True(t, e.Read(lba, 1, func(c *Completion) { errnos = append(errnos, c.Errno) }, nil))
	}
	assert.Equal(t, 3, e.Outstanding())
	assert.False(t, e.Poll())

	require.NoError(t, e.Close())
	assert.Equal(t, []syscall.Errno{syscall.ECANCELED, syscall.ECANCELED, syscall.ECANCELED}, errnos)
	assert.Equal(t, 0, e.Outstanding())
	assert.True(t, q.IsClosed())
	assert.Equal(t, EngineStateClosed, e.State())

	require.False(t, e.Read(0, 1, nil, nil))
	assert.True(t, errors.Is(e.LastError(), ErrClosed))
	assert.NoError(t, e.Close(), "second Close")
}

func TestEngineCloseTimeout(t *testing.T) {
	dev := backend.NewMemory(testDeviceSize)
	q := &stuckQueue{MockQueue: NewMockQueue(dev)}
	params := testParams()
	params.DrainTimeout = 20 * time.Millisecond
	e, err := New(context.Background(), dev, params, &Options{Logger: logging.Nop(), Queue: q})
	require.NoError(t, err)

	q.Hold()
	require.True(t, e.Read(0, 1, nil, nil))

	err = e.Close()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
}

// stuckQueue never releases held completions, even on Cancel
type stuckQueue struct {
	*MockQueue
}

func (s *stuckQueue) Cancel() error { return nil }

func TestEngineDegraded(t *testing.T) {
	// kernel AIO needs a file descriptor; a memory device has none
	dev := backend.NewMemory(testDeviceSize)
	params := testParams()
	params.Backend = BackendAIO
	e := newTestEngine(t, dev, params, nil)

	require.Error(t, e.SetupErr())
	assert.True(t, errors.Is(e.SetupErr(), ErrNotSupported))
	assert.Equal(t, EngineStateDegraded, e.State())

	require.False(t, e.Read(0, 1, nil, nil))
	assert.True(t, errors.Is(e.LastError(), ErrNotReady), "got %v", e.LastError())
	assert.Equal(t, uint64(1), e.Stats().ReadQueueFailures)
	assert.False(t, e.Poll())

	info := e.Info()
	assert.Equal(t, EngineStateDegraded, info.State)
	assert.NotEmpty(t, info.SetupError)
	assert.NoError(t, e.Close())
}

func TestEngineUnknownBackend(t *testing.T) {
	dev := backend.NewMemory(testDeviceSize)
	params := testParams()
	params.Backend = "floppy"
	e := newTestEngine(t, dev, params, nil)
	assert.True(t, errors.Is(e.SetupErr(), ErrInvalidParameters))
}

func TestGetAlignedBuffer(t *testing.T) {
	dev := backend.NewMemory(testDeviceSize)
	e := newTestEngine(t, dev, testParams(), NewMockQueue(dev))

	for _, size := range []int{512, 4096, 12288, 1 << 20} {
		buf := e.GetAlignedBuffer(size)
		require.Len(t, buf, size)
		assert.True(t, buffer.IsAligned(buf, BufferAlignment), "size %d not aligned", size)
		e.FreeAlignedBuffer(buf)
	}
}

func TestNewNilDevice(t *testing.T) {
	_, err := New(context.Background(), nil, testParams(), nil)
	assert.True(t, errors.Is(err, ErrInvalidParameters))
}

func TestOpenRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, make([]byte, testDeviceSize), 0o644))

	params := testParams()
	params.EnableWriteGuard = true
	e, err := Open(context.Background(), path, params, &Options{Logger: logging.Nop()})
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, path, e.Path())
	assert.Equal(t, uint32(DefaultLogicalBlockSize), e.BlockSize())
	assert.Equal(t, uint64(testDeviceSize/DefaultLogicalBlockSize), e.BlockCount())
	assert.True(t, e.WritesAllowed())

	buf := e.GetAlignedBuffer(512)
	copy(buf, "blkio")
	done := false
	require.True(t, e.Write(100, 1, buf, func(c *Completion) {
		require.True(t, c.Succeeded())
		done = true
	}, nil))
	pollUntil(t, e, func() bool { return done })
	require.NoError(t, e.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "blkio", string(data[100*512:100*512+5]))
}

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope"), testParams(), &Options{Logger: logging.Nop()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeviceNotFound), "got %v", err)
	assert.True(t, IsErrno(err, syscall.ENOENT))
}
