package interfaces

// Device is a block-addressable target the engine issues requests against.
// The method set mirrors io.ReaderAt and io.WriterAt so the portable
// completion backend can drive any implementation directly.
type Device interface {
	// ReadAt reads len(p) bytes into p starting at byte offset off.
	// Implementations must not retain p.
	ReadAt(p []byte, off int64) (n int, err error)

	// WriteAt writes len(p) bytes from p at byte offset off.
	// WriteAt must return a non-nil error if it returns n < len(p).
	// Implementations must not retain p.
	WriteAt(p []byte, off int64) (n int, err error)

	// BlockSize returns the logical block size in bytes. The value is
	// queried once and cached; a failed query is not cached.
	BlockSize() (uint32, error)

	// BlockCount returns the number of logical blocks. Same caching rules
	// as BlockSize.
	BlockCount() (uint64, error)

	// Path names the device for logs and errors.
	Path() string

	// Close releases the device. No other method may be called afterwards.
	Close() error
}

// FileDevice is implemented by devices backed by an OS file descriptor.
// The kernel AIO and io_uring backends require it.
type FileDevice interface {
	Device

	// Fd returns the open descriptor. It stays valid until Close.
	Fd() uintptr
}

// StatDevice is an optional interface that exposes device statistics.
type StatDevice interface {
	Device

	// Stats returns implementation-specific statistics.
	Stats() map[string]interface{}
}
