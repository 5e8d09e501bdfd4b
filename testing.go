package blkio

import (
	"errors"
	"io"
	"sync"
	"syscall"
)

// MockQueue provides a synchronous Queue for testing. Each submitted
// request is executed against the device immediately and its completion
// is parked until the next Poll. It tracks method calls for verification.
type MockQueue struct {
	dev Device

	mu        sync.Mutex
	parked    []Event
	held      []Event
	hold      bool
	submitErr error
	cancelled bool
	closed    bool

	// Method call tracking
	submitCalls int
	pollCalls   int
	cancelCalls int
	closeCalls  int
}

// NewMockQueue creates a mock queue that performs requests on dev.
func NewMockQueue(dev Device) *MockQueue {
	return &MockQueue{dev: dev}
}

// Name implements Queue
func (m *MockQueue) Name() string { return "mock" }

// Submit implements Queue
func (m *MockQueue) Submit(req Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submitCalls++
	if m.closed {
		return syscall.EBADF
	}
	if m.submitErr != nil {
		return m.submitErr
	}

	ev := Event{ID: req.ID}
	if m.cancelled {
		ev.Errno = syscall.ECANCELED
	} else {
		var err error
		switch req.Op {
		case OpRead:
			ev.N, err = m.dev.ReadAt(req.Buf, req.Offset)
			if errors.Is(err, io.EOF) {
				err = nil
			}
		case OpWrite:
			ev.N, err = m.dev.WriteAt(req.Buf, req.Offset)
		default:
			err = syscall.EINVAL
		}
		if err != nil {
			ev.Errno = syscall.EIO
			var errno syscall.Errno
			if errors.As(err, &errno) {
				ev.Errno = errno
			}
		}
	}

	if m.hold {
		m.held = append(m.held, ev)
	} else {
		m.parked = append(m.parked, ev)
	}
	return nil
}

// Poll implements Queue
func (m *MockQueue) Poll(events []Event) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pollCalls++
	n := copy(events, m.parked)
	m.parked = m.parked[n:]
	return n, nil
}

// Cancel implements Queue. Held completions are released as cancelled.
func (m *MockQueue) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelCalls++
	m.cancelled = true
	for _, ev := range m.held {
		ev.N = 0
		ev.Errno = syscall.ECANCELED
		m.parked = append(m.parked, ev)
	}
	m.held = nil
	return nil
}

// Close implements Queue
func (m *MockQueue) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCalls++
	m.closed = true
	return nil
}

// SetSubmitError makes every following Submit fail with err (nil clears it)
func (m *MockQueue) SetSubmitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// Hold keeps completions back from Poll until Release or Cancel is called
func (m *MockQueue) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hold = true
}

// Release makes held completions visible to Poll and stops holding
func (m *MockQueue) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hold = false
	m.parked = append(m.parked, m.held...)
	m.held = nil
}

// Pending returns the number of completions not yet polled
func (m *MockQueue) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.parked) + len(m.held)
}

// Calls returns the number of Submit, Poll, Cancel and Close calls
func (m *MockQueue) Calls() (submit, poll, cancel, close int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCalls, m.pollCalls, m.cancelCalls, m.closeCalls
}

// IsClosed returns whether Close has been called
func (m *MockQueue) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ Queue = (*MockQueue)(nil)
