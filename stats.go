package blkio

import (
	"fmt"
	"math"
)

// Stats counts submissions as they enter the engine. Every counter is
// updated before the request is handed to the OS, so a queue failure is
// counted both as queued and as a failure.
//
// Lowest*LBA fields hold math.MaxUint64 until a request of that kind has
// been queued.
type Stats struct {
	QueuedReads  uint64
	QueuedWrites uint64

	LargestQueuedReadBlocks  uint32
	LargestQueuedWriteBlocks uint32

	LowestQueuedReadLBA   uint64
	HighestQueuedReadLBA  uint64
	LowestQueuedWriteLBA  uint64
	HighestQueuedWriteLBA uint64

	ReadQueueFailures  uint64
	WriteQueueFailures uint64
}

func newStats() Stats {
	return Stats{
		LowestQueuedReadLBA:  math.MaxUint64,
		LowestQueuedWriteLBA: math.MaxUint64,
	}
}

func (s *Stats) recordQueued(op Op, lba uint64, blocks uint32) {
	switch op {
	case OpRead:
		s.QueuedReads++
		s.LargestQueuedReadBlocks = max(s.LargestQueuedReadBlocks, blocks)
		s.LowestQueuedReadLBA = min(s.LowestQueuedReadLBA, lba)
		s.HighestQueuedReadLBA = max(s.HighestQueuedReadLBA, lba)
	case OpWrite:
		s.QueuedWrites++
		s.LargestQueuedWriteBlocks = max(s.LargestQueuedWriteBlocks, blocks)
		s.LowestQueuedWriteLBA = min(s.LowestQueuedWriteLBA, lba)
		s.HighestQueuedWriteLBA = max(s.HighestQueuedWriteLBA, lba)
	}
}

func (s *Stats) recordFailure(op Op) {
	switch op {
	case OpRead:
		s.ReadQueueFailures++
	case OpWrite:
		s.WriteQueueFailures++
	}
}

func lbaString(v uint64) string {
	if v == math.MaxUint64 {
		return "-"
	}
	return fmt.Sprint(v)
}

func (s Stats) String() string {
	return fmt.Sprintf("reads queued=%d failed=%d largest=%d lba=[%s,%s] writes queued=%d failed=%d largest=%d lba=[%s,%s]",
		s.QueuedReads, s.ReadQueueFailures, s.LargestQueuedReadBlocks,
		lbaString(s.LowestQueuedReadLBA), lbaString(s.HighestQueuedReadLBA),
		s.QueuedWrites, s.WriteQueueFailures, s.LargestQueuedWriteBlocks,
		lbaString(s.LowestQueuedWriteLBA), lbaString(s.HighestQueuedWriteLBA))
}
