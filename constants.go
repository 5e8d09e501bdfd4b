package blkio

import (
	"github.com/ehrlich-b/go-blkio/internal/constants"
	"github.com/ehrlich-b/go-blkio/internal/interfaces"
	"github.com/ehrlich-b/go-blkio/internal/logging"
)

// Re-export constants for public API
const (
	DefaultQueueDepth       = constants.DefaultQueueDepth
	DefaultMaxEvents        = constants.DefaultMaxEvents
	DefaultLogicalBlockSize = constants.DefaultLogicalBlockSize
	DefaultGuardTimeout     = constants.DefaultGuardTimeout
	DefaultDrainTimeout     = constants.DefaultDrainTimeout
	BufferAlignment         = constants.BufferAlignment
)

// Op is the transfer direction of a request
type Op = interfaces.Op

const (
	OpRead  = interfaces.OpRead
	OpWrite = interfaces.OpWrite
)

// Types shared with the backends. Device is what an Engine drives; Queue,
// Request and Event let callers plug in their own completion mechanism
// through Options.Queue.
type (
	Device     = interfaces.Device
	FileDevice = interfaces.FileDevice
	StatDevice = interfaces.StatDevice
	Queue      = interfaces.Queue
	Request    = interfaces.Request
	Event      = interfaces.Event
)

// Logger is the structured logger used throughout blkio
type Logger = logging.Logger

// LogConfig configures NewLogger
type LogConfig = logging.Config

// NewLogger creates a zerolog-backed Logger
func NewLogger(cfg *LogConfig) *Logger {
	return logging.NewLogger(cfg)
}

// BackendKind selects the completion mechanism an Engine uses
type BackendKind string

const (
	// BackendAIO uses Linux kernel AIO (io_submit/io_getevents)
	BackendAIO BackendKind = "aio"
	// BackendURing uses io_uring
	BackendURing BackendKind = "uring"
	// BackendPool runs each request as a completion routine on its own
	// goroutine; works on any platform and any Device
	BackendPool BackendKind = "pool"
)
