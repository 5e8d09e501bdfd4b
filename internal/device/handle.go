// Package device opens raw block devices and discovers their geometry.
package device

import (
	"fmt"
	"os"
	"sync"

	"github.com/ehrlich-b/go-blkio/internal/interfaces"
	"github.com/ehrlich-b/go-blkio/internal/logging"
)

// Options controls how a device is opened
type Options struct {
	Direct   bool // bypass the page cache (O_DIRECT where supported)
	ReadOnly bool
	Logger   *logging.Logger
}

// Handle is an open block device (or a regular file standing in for one).
// Geometry is queried on first use and cached for the life of the handle.
type Handle struct {
	file   *os.File
	path   string
	logger *logging.Logger

	mu         sync.Mutex
	blockSize  uint32
	blockCount uint64
}

// Open opens path for raw I/O
func Open(path string, opts Options) (*Handle, error) {
	flags := os.O_RDWR
	if opts.ReadOnly {
		flags = os.O_RDONLY
	}
	if opts.Direct {
		flags |= directFlag
	}

	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Handle{
		file:   f,
		path:   path,
		logger: logger.WithDevice(path),
	}, nil
}

// Path returns the path the handle was opened with
func (h *Handle) Path() string {
	return h.path
}

// Fd returns the underlying descriptor
func (h *Handle) Fd() uintptr {
	return h.file.Fd()
}

// ReadAt reads from the device at byte offset off
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	return h.file.ReadAt(p, off)
}

// WriteAt writes to the device at byte offset off
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	return h.file.WriteAt(p, off)
}

// BlockSize returns the logical block size, querying the OS once
func (h *Handle) BlockSize() (uint32, error) {
	if err := h.loadGeometry(); err != nil {
		return 0, err
	}
	return h.blockSize, nil
}

// BlockCount returns the number of logical blocks, querying the OS once
func (h *Handle) BlockCount() (uint64, error) {
	if err := h.loadGeometry(); err != nil {
		return 0, err
	}
	return h.blockCount, nil
}

func (h *Handle) loadGeometry() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.blockSize != 0 {
		return nil
	}

	g, err := queryGeometry(h.file)
	if err != nil {
		h.logger.Error("geometry query failed", "error", err)
		return fmt.Errorf("query geometry of %s: %w", h.path, err)
	}
	if g.blockSize == 0 {
		return fmt.Errorf("query geometry of %s: device reported zero block size", h.path)
	}

	h.blockSize = g.blockSize
	h.blockCount = g.sizeBytes / uint64(g.blockSize)
	h.logger.Debug("device geometry", "block_size", h.blockSize, "block_count", h.blockCount, "block_device", g.isBlockDevice)
	return nil
}

// Close closes the underlying file
func (h *Handle) Close() error {
	return h.file.Close()
}

// geometry is the raw result of a platform query
type geometry struct {
	blockSize     uint32
	sizeBytes     uint64
	isBlockDevice bool
}

var _ interfaces.FileDevice = (*Handle)(nil)
