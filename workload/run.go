// Package workload drives a mixed read/write load through an engine, using
// an address generator so that no two outstanding requests overlap.
package workload

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/ehrlich-b/go-blkio"
	"github.com/ehrlich-b/go-blkio/internal/logging"
	"github.com/ehrlich-b/go-blkio/lba"
)

// Mode selects how start addresses are chosen
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeRandom     Mode = "random"
)

// ParseMode converts a flag value to a Mode
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSequential, ModeRandom:
		return Mode(s), nil
	case "seq":
		return ModeSequential, nil
	case "rand":
		return ModeRandom, nil
	}
	return "", fmt.Errorf("unknown mode %q (want sequential or random)", s)
}

// Engine is the part of *blkio.Engine a workload needs
type Engine interface {
	BlockSize() uint32
	Read(lba uint64, blocks uint32, cb func(*blkio.Completion), userData any) bool
	Write(lba uint64, blocks uint32, buf []byte, cb func(*blkio.Completion), userData any) bool
	Poll() bool
	Outstanding() int
	GetAlignedBuffer(size int) []byte
	FreeAlignedBuffer(buf []byte)
	LastError() error
}

// Allocator hands out non-overlapping block ranges
type Allocator interface {
	Sequential(blocks uint64) (uint64, error)
	Random(blocks uint64) (uint64, error)
	ReleaseRange(lba, blocks uint64)
}

// Source supplies sizes, the read/write mix and write contents
type Source interface {
	Uniform(lo, hi uint64) uint64
	FillBuffer(buf []byte) error
}

// Config describes a workload
type Config struct {
	Mode        Mode
	Ops         int    // requests to complete
	MinBlocks   uint32 // per-request size range, inclusive
	MaxBlocks   uint32
	ReadPercent int  // 0..100
	QueueDepth  int  // outstanding request limit
	Verify      bool // check reads against earlier writes

	Logger *logging.Logger
}

// Result summarizes a finished workload
type Result struct {
	Ops           int
	Reads         int
	Writes        int
	Bytes         uint64
	Failures      int // completed with an errno or short transfer
	QueueFailures int // rejected at submission
	Verified      int // blocks compared against the ledger
	Mismatches    int
	Elapsed       time.Duration
}

// Err reports whether the workload saw any failure or mismatch
func (r Result) Err() error {
	if r.Failures == 0 && r.QueueFailures == 0 && r.Mismatches == 0 {
		return nil
	}
	return fmt.Errorf("workload: %d failed, %d rejected, %d blocks mismatched",
		r.Failures, r.QueueFailures, r.Mismatches)
}

func (c *Config) normalize() error {
	if c.Ops <= 0 {
		return fmt.Errorf("workload: ops must be positive, got %d", c.Ops)
	}
	if c.Mode == "" {
		c.Mode = ModeRandom
	}
	if c.MinBlocks == 0 {
		c.MinBlocks = 1
	}
	if c.MaxBlocks < c.MinBlocks {
		c.MaxBlocks = c.MinBlocks
	}
	c.ReadPercent = min(max(c.ReadPercent, 0), 100)
	if c.QueueDepth <= 0 {
		c.QueueDepth = 32
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	return nil
}

type runner struct {
	cfg    Config
	engine Engine
	alloc  Allocator
	rng    Source
	ledger *Ledger
	res    Result
	done   int
}

// Run issues cfg.Ops requests, keeping up to cfg.QueueDepth outstanding,
// and polls until every one has completed. Cancelling ctx stops new
// submissions; requests already queued are still drained.
func Run(ctx context.Context, engine Engine, alloc Allocator, rng Source, cfg Config) (Result, error) {
	if err := cfg.normalize(); err != nil {
		return Result{}, err
	}
	bs := engine.BlockSize()
	if bs == 0 {
		return Result{}, errors.New("workload: device geometry unavailable")
	}

	r := &runner{
		cfg:    cfg,
		engine: engine,
		alloc:  alloc,
		rng:    rng,
		ledger: NewLedger(bs),
	}
	start := time.Now()
	err := r.loop(ctx, bs)
	r.res.Elapsed = time.Since(start)

	cfg.Logger.Info("workload finished",
		"mode", string(cfg.Mode),
		"ops", r.res.Ops,
		"failures", r.res.Failures,
		"rejected", r.res.QueueFailures,
		"mismatches", r.res.Mismatches,
		"elapsed", r.res.Elapsed)
	return r.res, err
}

func (r *runner) loop(ctx context.Context, bs uint32) error {
	issued := 0
	var stopErr error
	for {
		if stopErr == nil && ctx.Err() != nil {
			stopErr = ctx.Err()
		}
		if stopErr != nil && r.engine.Outstanding() == 0 {
			return stopErr
		}
		if r.done >= r.cfg.Ops {
			return nil
		}

		for stopErr == nil && issued < r.cfg.Ops && r.engine.Outstanding() < r.cfg.QueueDepth {
			ok, err := r.issue(bs)
			if err != nil {
				if errors.Is(err, lba.ErrExhausted) && r.engine.Outstanding() > 0 {
					break // wait for ranges to come back
				}
				stopErr = err
				break
			}
			if ok {
				issued++
			}
		}

		if !r.engine.Poll() {
			runtime.Gosched()
		}
	}
}

// issue submits one request. ok is false when nothing was consumed from
// the op budget.
func (r *runner) issue(bs uint32) (ok bool, err error) {
	blocks := uint32(r.rng.Uniform(uint64(r.cfg.MinBlocks), uint64(r.cfg.MaxBlocks)))

	var start uint64
	if r.cfg.Mode == ModeSequential {
		start, err = r.alloc.Sequential(uint64(blocks))
	} else {
		start, err = r.alloc.Random(uint64(blocks))
	}
	if err != nil {
		return false, err
	}

	read := r.rng.Uniform(1, 100) <= uint64(r.cfg.ReadPercent)
	var queued bool
	var buf []byte
	if read {
		queued = r.engine.Read(start, blocks, r.onRead, nil)
	} else {
		buf = r.engine.GetAlignedBuffer(int(blocks) * int(bs))
		if err := r.rng.FillBuffer(buf); err != nil {
			r.engine.FreeAlignedBuffer(buf)
			r.alloc.ReleaseRange(start, uint64(blocks))
			return false, err
		}
		queued = r.engine.Write(start, blocks, buf, r.onWrite, nil)
	}

	if !queued {
		r.alloc.ReleaseRange(start, uint64(blocks))
		if buf != nil {
			r.engine.FreeAlignedBuffer(buf)
		}
		r.res.QueueFailures++
		r.done++
		r.cfg.Logger.Debug("request rejected", "lba", start, "blocks", blocks, "error", r.engine.LastError())
	}
	return true, nil
}

func (r *runner) finish(c *blkio.Completion) {
	r.done++
	r.res.Ops++
	if c.Succeeded() {
		r.res.Bytes += uint64(c.BytesTransferred)
	} else {
		r.res.Failures++
		r.cfg.Logger.Warn("request failed", "completion", c.String(), "error", c.Err())
	}
	r.alloc.ReleaseRange(c.LBA, uint64(c.Blocks))
}

func (r *runner) onRead(c *blkio.Completion) {
	r.res.Reads++
	if c.Succeeded() && r.cfg.Verify {
		checked, bad := r.ledger.Check(c.LBA, c.Buffer[:c.BytesTransferred])
		r.res.Verified += checked
		r.res.Mismatches += len(bad)
		if len(bad) > 0 {
			r.cfg.Logger.Error("verify mismatch", "lba", c.LBA, "blocks", c.Blocks, "first_bad", bad[0])
		}
	}
	r.finish(c)
}

func (r *runner) onWrite(c *blkio.Completion) {
	r.res.Writes++
	if r.cfg.Verify {
		if c.Succeeded() {
			r.ledger.Record(c.LBA, c.Buffer[:c.BytesTransferred])
		} else {
			r.ledger.Forget(c.LBA, c.Blocks)
		}
	}
	r.engine.FreeAlignedBuffer(c.Buffer)
	r.finish(c)
}
