// Package buffer provides block-aligned transfer buffers with pooled reuse.
package buffer

import (
	"math/bits"
	"sync"
	"unsafe"
)

// Pool hands out buffers whose first byte is aligned to a fixed boundary,
// as O_DIRECT transfers require. Sizes are rounded up to power-of-2 size
// classes from minClass to maxClass; each class has its own sync.Pool.
// Larger requests are allocated directly and dropped on Put.
//
// Uses *[]byte pattern to avoid sync.Pool interface allocation overhead.
type Pool struct {
	align   int
	classes [numClasses]sync.Pool
}

const (
	minClassShift = 12 // 4KB
	maxClassShift = 22 // 4MB
	numClasses    = maxClassShift - minClassShift + 1
)

// NewPool creates a pool aligning buffers to align bytes. align must be a
// power of two; values below 1 are treated as 1.
func NewPool(align int) *Pool {
	if align < 1 {
		align = 1
	}
	p := &Pool{align: align}
	for i := range p.classes {
		size := 1 << (minClassShift + i)
		p.classes[i].New = func() any {
			b := Aligned(size, p.align)
			return &b
		}
	}
	return p
}

// Alignment returns the boundary buffers are aligned to
func (p *Pool) Alignment() int {
	return p.align
}

// Get returns an aligned buffer of exactly size bytes. Contents are
// whatever the previous user left behind.
func (p *Pool) Get(size int) []byte {
	if size <= 0 {
		return nil
	}
	idx, ok := classFor(size)
	if !ok {
		return Aligned(size, p.align)
	}
	return (*p.classes[idx].Get().(*[]byte))[:size]
}

// Put returns a buffer obtained from Get. The buffer's capacity determines
// which class it goes back to. Buffers whose capacity matches no class or
// whose start is not aligned are dropped.
func (p *Pool) Put(buf []byte) {
	c := cap(buf)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	idx, ok := classFor(c)
	if !ok || 1<<(minClassShift+idx) != c {
		return
	}
	buf = buf[:c]
	if !IsAligned(buf, p.align) {
		return
	}
	p.classes[idx].Put(&buf)
}

func classFor(size int) (int, bool) {
	if size > 1<<maxClassShift {
		return 0, false
	}
	shift := bits.Len(uint(size - 1))
	if shift < minClassShift {
		shift = minClassShift
	}
	return shift - minClassShift, true
}

// Aligned allocates size bytes starting on an align boundary. The returned
// slice has cap == size so it can be classified on Put.
func Aligned(size, align int) []byte {
	if align <= 1 {
		return make([]byte, size)
	}
	raw := make([]byte, size+align)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) & uintptr(align-1)); rem != 0 {
		off = align - rem
	}
	return raw[off : off+size : off+size]
}

// IsAligned reports whether buf starts on an align boundary
func IsAligned(buf []byte, align int) bool {
	if len(buf) == 0 || align <= 1 {
		return true
	}
	return uintptr(unsafe.Pointer(&buf[0]))&uintptr(align-1) == 0
}
