//go:build linux

package device

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-blkio/internal/constants"
)

const directFlag = unix.O_DIRECT

func queryGeometry(f *os.File) (geometry, error) {
	fd := int(f.Fd())

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return geometry{}, err
	}

	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return geometry{
			blockSize: constants.DefaultLogicalBlockSize,
			sizeBytes: uint64(st.Size),
		}, nil
	}

	bs, err := unix.IoctlGetInt(fd, unix.BLKSSZGET)
	if err != nil {
		return geometry{}, err
	}

	var size uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.BLKGETSIZE64), uintptr(unsafe.Pointer(&size))); errno != 0 {
		return geometry{}, errno
	}

	return geometry{
		blockSize:     uint32(bs),
		sizeBytes:     size,
		isBlockDevice: true,
	}, nil
}
