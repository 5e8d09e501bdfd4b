//go:build linux

package aio

// Kernel ABI from include/uapi/linux/aio_abi.h. Field order assumes a
// little-endian host, where aio_key precedes aio_rw_flags.

const (
	iocbCmdPread  = 0
	iocbCmdPwrite = 1
)

// iocb is struct iocb (64 bytes)
type iocb struct {
	data      uint64 // returned untouched in ioEvent.data
	key       uint32
	rwFlags   uint32
	lioOpcode uint16
	reqPrio   int16
	fildes    uint32
	buf       uint64
	nbytes    uint64
	offset    int64
	reserved2 uint64
	flags     uint32
	resfd     uint32
}

// ioEvent is struct io_event (32 bytes)
type ioEvent struct {
	data uint64
	obj  uint64
	res  int64 // bytes transferred, or -errno
	res2 int64
}
