// Package lba hands out block ranges that do not overlap any range still
// checked out, either walking the device sequentially or starting from a
// random address.
package lba

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/btree"
)

var (
	// ErrExhausted means a full lap of the address space found no free
	// range of the requested size
	ErrExhausted = errors.New("lba: no free range")
	// ErrInvalidBlockCount means the block count is zero or larger than
	// the address space
	ErrInvalidBlockCount = errors.New("lba: invalid block count")
	// ErrEmptyDevice means the device reported no blocks
	ErrEmptyDevice = errors.New("lba: device has no blocks")
)

// Source supplies the random start points for Random
type Source interface {
	Uniform(lo, hi uint64) uint64
}

// Sizer is anything that knows its block count, such as a blkio.Engine
type Sizer interface {
	BlockCount() uint64
}

// span is a checked-out range [start, end)
type span struct {
	start, end uint64
}

func lessSpan(a, b span) bool { return a.start < b.start }

// Generator tracks checked-out ranges over [0, MaxLBA). It is not safe for
// concurrent use.
type Generator struct {
	rng    Source
	maxLBA uint64
	inUse  *btree.BTreeG[span]
	used   uint64

	last    uint64
	hasLast bool
}

// New returns a generator over [0, maxLBA)
func New(rng Source, maxLBA uint64) *Generator {
	return &Generator{
		rng:    rng,
		maxLBA: maxLBA,
		inUse:  btree.NewG(32, lessSpan),
	}
}

// NewForDevice returns a generator over every block of dev
func NewForDevice(dev Sizer, rng Source) (*Generator, error) {
	n := dev.BlockCount()
	if n == 0 {
		return nil, ErrEmptyDevice
	}
	return New(rng, n), nil
}

// MaxLBA returns the size of the address space
func (g *Generator) MaxLBA() uint64 {
	return g.maxLBA
}

// LastGenerated returns the start of the most recently generated range.
// ok is false until something has been generated.
func (g *Generator) LastGenerated() (lba uint64, ok bool) {
	return g.last, g.hasLast
}

// Sequential returns the first free range of blocks blocks at or after the
// address following the last generated one, wrapping to 0 when the rest of
// the device cannot fit it.
func (g *Generator) Sequential(blocks uint64) (uint64, error) {
	if err := g.checkCount(blocks); err != nil {
		return 0, err
	}
	from := uint64(0)
	if g.hasLast {
		from = g.last + 1
	}
	return g.claim(from, blocks)
}

// Random picks a uniform start in [0, MaxLBA-blocks] and, if that collides
// with a checked-out range, moves forward from there as Sequential does.
func (g *Generator) Random(blocks uint64) (uint64, error) {
	if err := g.checkCount(blocks); err != nil {
		return 0, err
	}
	return g.claim(g.rng.Uniform(0, g.maxLBA-blocks), blocks)
}

func (g *Generator) checkCount(blocks uint64) error {
	if blocks == 0 || blocks > g.maxLBA {
		return fmt.Errorf("%w: %d blocks in an address space of %d", ErrInvalidBlockCount, blocks, g.maxLBA)
	}
	return nil
}

func (g *Generator) claim(from, blocks uint64) (uint64, error) {
	start, ok := g.find(from, blocks)
	if !ok {
		return 0, fmt.Errorf("%w: %d blocks, %d of %d in use", ErrExhausted, blocks, g.used, g.maxLBA)
	}
	g.inUse.ReplaceOrInsert(span{start, start + blocks})
	g.used += blocks
	g.last, g.hasLast = start, true
	return start, nil
}

// find walks forward from from, jumping past each conflicting range. The
// walk covers at most one lap of the address space.
func (g *Generator) find(from, blocks uint64) (uint64, bool) {
	limit := g.maxLBA - blocks // largest usable start
	cand := from
	var travelled uint64
	for travelled < g.maxLBA {
		if cand > limit {
			travelled += g.maxLBA - min(cand, g.maxLBA)
			cand = 0
			continue
		}
		c, hit := g.conflict(cand, cand+blocks)
		if !hit {
			return cand, true
		}
		travelled += c.end - cand
		cand = c.end
	}
	return 0, false
}

// conflict returns the checked-out range with the highest start that
// overlaps [start, end)
func (g *Generator) conflict(start, end uint64) (span, bool) {
	var (
		found span
		hit   bool
	)
	g.inUse.DescendLessOrEqual(span{start: end - 1}, func(s span) bool {
		found, hit = s, s.end > start
		return false
	})
	return found, hit
}

// InUse reports whether lba is inside a checked-out range
func (g *Generator) InUse(lba uint64) bool {
	_, hit := g.conflict(lba, lba+1)
	return hit
}

// InUseCount returns the number of checked-out blocks
func (g *Generator) InUseCount() uint64 {
	return g.used
}

// Release returns a single block. Releasing a free block is a no-op.
func (g *Generator) Release(lba uint64) {
	g.ReleaseRange(lba, 1)
}

// ReleaseRange returns blocks blocks starting at lba. Parts of the range
// that are not checked out are ignored; a checked-out range that only
// partly overlaps is split.
func (g *Generator) ReleaseRange(lba, blocks uint64) {
	if blocks == 0 {
		return
	}
	end := lba + blocks
	if end < lba {
		end = math.MaxUint64
	}

	var hits []span
	g.inUse.DescendLessOrEqual(span{start: end - 1}, func(s span) bool {
		if s.end <= lba {
			return false
		}
		hits = append(hits, s)
		return true
	})

	for _, s := range hits {
		g.inUse.Delete(s)
		g.used -= s.end - s.start
		if s.start < lba {
			g.inUse.ReplaceOrInsert(span{s.start, lba})
			g.used += lba - s.start
		}
		if s.end > end {
			g.inUse.ReplaceOrInsert(span{end, s.end})
			g.used += s.end - end
		}
	}
}

// Reset releases every range and forgets the last generated address
func (g *Generator) Reset() {
	g.inUse.Clear(false)
	g.used = 0
	g.last, g.hasLast = 0, false
}
