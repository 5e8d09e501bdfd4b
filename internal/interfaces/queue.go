package interfaces

import "syscall"

// Op is the transfer direction of a request
type Op uint8

const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	default:
		return "UNKNOWN"
	}
}

// Request is one transfer handed to a Queue. ID is opaque to the queue and
// comes back unchanged in the matching Event.
type Request struct {
	ID     uint64
	Op     Op
	Offset int64
	Buf    []byte
}

// Event reports the outcome of a Request. N is the number of bytes moved;
// Errno is zero on success.
type Event struct {
	ID    uint64
	N     int
	Errno syscall.Errno
}

// Queue is the mechanism half of the asynchronous engine: it moves requests
// to the OS and hands back completions. It owns no per-request policy.
// A Queue is driven from a single goroutine.
type Queue interface {
	// Name identifies the backend ("aio", "uring", "pool")
	Name() string

	// Submit queues req. A non-nil error means the request was not
	// accepted and no Event will ever be produced for it.
	Submit(req Request) error

	// Poll fills events with completed requests without blocking and
	// returns how many were written.
	Poll(events []Event) (int, error)

	// Cancel asks the OS to abandon outstanding requests. Cancelled
	// requests still complete through Poll.
	Cancel() error

	// Close releases the queue. Callers drain outstanding requests first.
	Close() error
}
