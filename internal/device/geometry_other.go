//go:build !linux

package device

import (
	"os"

	"github.com/ehrlich-b/go-blkio/internal/constants"
)

// Direct I/O is only wired up on Linux; elsewhere the flag is ignored.
const directFlag = 0

func queryGeometry(f *os.File) (geometry, error) {
	st, err := f.Stat()
	if err != nil {
		return geometry{}, err
	}
	return geometry{
		blockSize: constants.DefaultLogicalBlockSize,
		sizeBytes: uint64(st.Size()),
	}, nil
}
