package blkio

import (
	"context"
	"fmt"
	"runtime"

	"github.com/ehrlich-b/go-blkio/internal/constants"
)

// CheckPartitionGuard reads the first sector of the device and enables
// writes only if it does not carry the 0x55AA partition table signature.
// A failed or unfinished probe leaves writes disabled.
//
// Open runs the check when Params.EnableWriteGuard is set. Calling it again
// later re-probes, so a device whose first probe failed or found a signature
// can have writes re-enabled without being reopened. With the guard disabled
// writes are always allowed and this is a no-op.
//
// The probe is harvested through Poll, so it cannot run from inside a
// completion callback; that returns ErrInvalidParameters and leaves the
// guard state unchanged.
func (e *Engine) CheckPartitionGuard(ctx context.Context) error {
	if !e.params.EnableWriteGuard {
		e.writesAllowed = true
		return nil
	}
	if e.polling {
		return NewError("guard", ErrCodeInvalidParameters, "partition probe started from a completion callback")
	}
	e.writesAllowed = false

	if e.q == nil {
		err := NewError("guard", ErrCodeNotReady, "completion backend unavailable")
		err.Inner = e.setupErr
		return err
	}
	bs := e.BlockSize()
	if bs == 0 {
		return NewError("guard", ErrCodeNotReady, "device geometry unavailable")
	}

	blocks := uint32((constants.SectorSize + int(bs) - 1) / int(bs))
	var (
		done     bool
		found    bool
		probeErr error
	)
	rec := &Completion{
		LBA:            0,
		Blocks:         blocks,
		BytesRequested: int(blocks) * int(bs),
		Op:             OpRead,
		Callback: func(c *Completion) {
			done = true
			if err := c.Err(); err != nil {
				probeErr = err
				return
			}
			found = hasPartitionSignature(c.Buffer)
		},
	}
	rec.Buffer = e.buffers.Get(rec.BytesRequested)
	rec.ownsBuffer = true

	if err := e.dispatch(rec, bs); err != nil {
		e.release(rec)
		return err
	}

	for !done {
		if e.Poll() {
			continue
		}
		select {
		case <-ctx.Done():
			e.logger.ErrorContext(ctx, "partition probe did not complete")
			return NewError("guard", ErrCodeTimeout, fmt.Sprintf("partition probe: %v", ctx.Err()))
		default:
			runtime.Gosched()
		}
	}

	if probeErr != nil {
		werr := WrapError("guard", probeErr)
		werr.LBA = 0
		return werr
	}
	if found {
		return NewError("guard", ErrCodeWritesBlocked, "partition table signature 0x55AA at block 0")
	}

	e.writesAllowed = true
	return nil
}

// WritesAllowed reports whether the partition guard currently permits writes
func (e *Engine) WritesAllowed() bool {
	return e.writesAllowed
}

func hasPartitionSignature(sector []byte) bool {
	if len(sector) < constants.SectorSize {
		return false
	}
	return sector[constants.PartitionSignatureOffset] == constants.PartitionSignature0 &&
		sector[constants.PartitionSignatureOffset+1] == constants.PartitionSignature1
}
