package constants

import "time"

// Default configuration constants
const (
	// DefaultQueueDepth is the default number of outstanding requests for
	// the io_uring and completion-routine backends
	DefaultQueueDepth = 128

	// DefaultMaxEvents is the kernel AIO context size (events per io_setup)
	DefaultMaxEvents = 0xFFFF

	// DefaultLogicalBlockSize is used when the device cannot report one
	// (regular files, memory devices)
	DefaultLogicalBlockSize = 512

	// SectorSize is the unit the partition signature lives in
	SectorSize = 512

	// BufferAlignment is the minimum alignment for O_DIRECT transfer buffers
	BufferAlignment = 4096

	// DefaultPollBatch is the number of completions harvested per Poll call
	DefaultPollBatch = 256
)

// Partition table signature at the end of sector 0
const (
	PartitionSignatureOffset = 510
	PartitionSignature0      = 0x55
	PartitionSignature1      = 0xAA
)

// Timing constants for engine lifecycle
const (
	// DefaultGuardTimeout bounds the partition probe issued by Open
	DefaultGuardTimeout = 5 * time.Second

	// DefaultDrainTimeout bounds how long Close waits for in-flight requests
	DefaultDrainTimeout = 10 * time.Second

	// DrainPollInterval is the sleep between empty polls while draining
	DrainPollInterval = time.Millisecond
)

// Random stream constants
const (
	// DefaultReadyRandomNumbers is the background producer queue depth
	DefaultReadyRandomNumbers = 0x40000
)
