// Package iorand provides the seeded 64-bit pseudorandom stream used to pick
// addresses and fill write buffers. A Stream is an explicit, owned value;
// there is no package-level generator.
package iorand

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/seehuhn/mt19937"

	"github.com/ehrlich-b/go-blkio/internal/logging"
)

// ErrBufferSize is returned by FillBuffer when the buffer length is not a
// multiple of 8
var ErrBufferSize = errors.New("iorand: buffer size must be a multiple of 8")

// Integer is any integer type Next can narrow a draw to
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Stream is an MT19937-64 generator. Without background production it must
// be used by one goroutine at a time; with WithBackground any number of
// goroutines may draw from it concurrently.
type Stream struct {
	seed uint64
	mu   sync.Mutex
	mt   *mt19937.MT19937

	bg     *producer
	logger *logging.Logger
}

type options struct {
	depth  int
	logger *logging.Logger
}

// Option configures a Stream
type Option func(*options)

// WithBackground starts a producer goroutine that keeps depth values ready.
// depth <= 0 selects the default of 0x40000.
func WithBackground(depth int) Option {
	return func(o *options) {
		if depth <= 0 {
			depth = defaultDepth
		}
		o.depth = depth
	}
}

// WithLogger sets the logger for producer lifecycle events
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New returns a stream seeded with seed
func New(seed uint64, opts ...Option) *Stream {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Default()
	}

	mt := mt19937.New()
	mt.Seed(int64(seed))
	s := &Stream{seed: seed, mt: mt, logger: o.logger}
	if o.depth > 0 {
		s.bg = startProducer(mt, o.depth, o.logger)
	}
	return s
}

// NewTimeSeeded returns a stream seeded from the wall clock
func NewTimeSeeded(opts ...Option) *Stream {
	return New(uint64(time.Now().UnixNano()), opts...)
}

// Seed returns the value the stream was seeded with
func (s *Stream) Seed() uint64 {
	return s.seed
}

// Background reports whether a producer goroutine feeds the stream
func (s *Stream) Background() bool {
	return s.bg != nil
}

// Uint64 returns the next 64-bit value
func (s *Stream) Uint64() uint64 {
	if s.bg != nil {
		if v, ok := s.bg.next(); ok {
			return v
		}
		// producer stopped; the generator is ours again
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bg != nil {
		if v, ok := s.bg.takePending(); ok {
			return v
		}
	}
	return s.mt.Uint64()
}

// Next returns the next value narrowed to T
func Next[T Integer](s *Stream) T {
	return T(s.Uint64())
}

// NextInRange returns a value in [start+1, end]. start itself is never
// returned. If end <= start the range is empty and end is returned.
func (s *Stream) NextInRange(start, end uint64) uint64 {
	if end <= start {
		return end
	}
	return start + 1 + s.Uint64()%(end-start)
}

// Uniform returns an unbiased value in [lo, hi]. The bounds are swapped if
// hi < lo.
func (s *Stream) Uniform(lo, hi uint64) uint64 {
	if hi < lo {
		lo, hi = hi, lo
	}
	if lo == 0 && hi == math.MaxUint64 {
		return s.Uint64()
	}
	n := hi - lo + 1
	// reject the short tail so every residue is equally likely
	threshold := -n % n
	for {
		v := s.Uint64()
		if v >= threshold {
			return lo + v%n
		}
	}
}

// FillBuffer fills buf with pseudorandom bytes, 8 at a time in little-endian
// order. len(buf) must be a multiple of 8.
func (s *Stream) FillBuffer(buf []byte) error {
	if len(buf)%8 != 0 {
		return fmt.Errorf("%w: got %d bytes", ErrBufferSize, len(buf))
	}
	for i := 0; i < len(buf); i += 8 {
		binary.LittleEndian.PutUint64(buf[i:], s.Uint64())
	}
	return nil
}

// Close stops the background producer, if any, and waits for it to exit.
// The stream keeps working afterwards, generating on the caller's goroutine.
func (s *Stream) Close() error {
	if s.bg != nil {
		s.bg.stop()
	}
	return nil
}
