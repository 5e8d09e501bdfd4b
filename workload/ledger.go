package workload

import (
	"github.com/cespare/xxhash"
)

// Ledger remembers an xxhash of every block last written successfully, so
// later reads of those blocks can be checked.
type Ledger struct {
	blockSize int
	sums      map[uint64]uint64
}

// NewLedger returns an empty ledger for blocks of blockSize bytes
func NewLedger(blockSize uint32) *Ledger {
	return &Ledger{
		blockSize: int(blockSize),
		sums:      make(map[uint64]uint64),
	}
}

// Record stores the checksum of each block of buf, starting at lba
func (l *Ledger) Record(lba uint64, buf []byte) {
	for i := 0; i+l.blockSize <= len(buf); i += l.blockSize {
		l.sums[lba] = xxhash.Sum64(buf[i : i+l.blockSize])
		lba++
	}
}

// Forget drops the checksums of blocks blocks starting at lba. Used when a
// write failed and the blocks' contents are unknown.
func (l *Ledger) Forget(lba uint64, blocks uint32) {
	for i := uint64(0); i < uint64(blocks); i++ {
		delete(l.sums, lba+i)
	}
}

// Check compares each block of buf, starting at lba, with its recorded
// checksum. It returns the number of blocks checked and the LBAs that did
// not match. Blocks never recorded are skipped.
func (l *Ledger) Check(lba uint64, buf []byte) (checked int, mismatched []uint64) {
	for i := 0; i+l.blockSize <= len(buf); i += l.blockSize {
		if want, ok := l.sums[lba]; ok {
			checked++
			if xxhash.Sum64(buf[i:i+l.blockSize]) != want {
				mismatched = append(mismatched, lba)
			}
		}
		lba++
	}
	return checked, mismatched
}

// Len returns the number of blocks with a recorded checksum
func (l *Ledger) Len() int {
	return len(l.sums)
}
