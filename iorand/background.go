package iorand

import (
	"context"

	"github.com/seehuhn/mt19937"
	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/go-blkio/internal/constants"
	"github.com/ehrlich-b/go-blkio/internal/logging"
)

const defaultDepth = constants.DefaultReadyRandomNumbers

// producer keeps a bounded channel of generated values full. It owns the
// generator until it exits, then closes ready. A value generated but not
// delivered when it stops is left in pending; it is only touched after ready
// is closed, under the Stream's mutex.
type producer struct {
	ready  chan uint64
	cancel context.CancelFunc
	g      *errgroup.Group

	pending    uint64
	hasPending bool
}

func startProducer(mt *mt19937.MT19937, depth int, logger *logging.Logger) *producer {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	p := &producer{
		ready:  make(chan uint64, depth),
		cancel: cancel,
		g:      g,
	}

	g.Go(func() error {
		defer close(p.ready)
		logger.Debug("random producer started", "depth", depth)
		for {
			v := mt.Uint64()
			select {
			case p.ready <- v:
			case <-ctx.Done():
				p.pending, p.hasPending = v, true
				logger.Debug("random producer stopped")
				return nil
			}
		}
	})
	return p
}

// next blocks until a value is ready. ok is false once the producer has
// exited and the channel is drained.
func (p *producer) next() (uint64, bool) {
	v, ok := <-p.ready
	return v, ok
}

// takePending returns the undelivered value, at most once. The caller holds
// the Stream's mutex and has observed ready closed.
func (p *producer) takePending() (uint64, bool) {
	if !p.hasPending {
		return 0, false
	}
	p.hasPending = false
	return p.pending, true
}

func (p *producer) stop() {
	p.cancel()
	p.g.Wait()
}
