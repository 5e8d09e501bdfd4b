// Package backend provides in-process devices for exercising blkio engines
// without real hardware.
package backend

import (
	"fmt"
	"sync"
	"syscall"

	"github.com/ehrlich-b/go-blkio/internal/constants"
	"github.com/ehrlich-b/go-blkio/internal/interfaces"
)

// Memory is a RAM-backed block device
type Memory struct {
	data      []byte
	size      int64
	blockSize uint32
	fault     error
	reads     uint64
	writes    uint64
	mu        sync.RWMutex
}

// NewMemory creates a memory device of size bytes with 512-byte blocks
func NewMemory(size int64) *Memory {
	return NewMemoryWithBlockSize(size, constants.DefaultLogicalBlockSize)
}

// NewMemoryWithBlockSize creates a memory device with the given logical
// block size
func NewMemoryWithBlockSize(size int64, blockSize uint32) *Memory {
	return &Memory{
		data:      make([]byte, size),
		size:      size,
		blockSize: blockSize,
	}
}

// ReadAt implements interfaces.Device
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads++
	if m.fault != nil {
		return 0, m.fault
	}
	if m.data == nil {
		return 0, syscall.EBADF
	}
	if off < 0 {
		return 0, syscall.EINVAL
	}
	if off >= m.size {
		return 0, nil
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	n := copy(p, m.data[off:off+int64(len(p))])
	return n, nil
}

// WriteAt implements interfaces.Device
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes++
	if m.fault != nil {
		return 0, m.fault
	}
	if m.data == nil {
		return 0, syscall.EBADF
	}
	if off < 0 || off >= m.size {
		return 0, fmt.Errorf("write beyond end of device: %w", syscall.ENOSPC)
	}

	available := m.size - off
	short := int64(len(p)) > available
	if short {
		p = p[:available]
	}

	n := copy(m.data[off:off+int64(len(p))], p)
	if short {
		return n, fmt.Errorf("short write at end of device: %w", syscall.ENOSPC)
	}
	return n, nil
}

// BlockSize implements interfaces.Device
func (m *Memory) BlockSize() (uint32, error) {
	return m.blockSize, nil
}

// BlockCount implements interfaces.Device
func (m *Memory) BlockCount() (uint64, error) {
	return uint64(m.size) / uint64(m.blockSize), nil
}

// Path implements interfaces.Device
func (m *Memory) Path() string {
	return fmt.Sprintf("mem:%d", m.size)
}

// Size returns the device size in bytes
func (m *Memory) Size() int64 {
	return m.size
}

// SetFault makes every subsequent transfer fail with err until it is
// cleared with SetFault(nil)
func (m *Memory) SetFault(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = err
}

// Close implements interfaces.Device
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = nil
	return nil
}

// Stats implements interfaces.StatDevice; Engine.Info reports it
func (m *Memory) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"type":       "memory",
		"size":       m.size,
		"block_size": m.blockSize,
		"reads":      m.reads,
		"writes":     m.writes,
	}
}

// Compile-time interface checks
var (
	_ interfaces.Device     = (*Memory)(nil)
	_ interfaces.StatDevice = (*Memory)(nil)
)
