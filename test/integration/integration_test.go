//go:build integration

package integration

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/ehrlich-b/go-blkio"
	"github.com/ehrlich-b/go-blkio/internal/logging"
	"github.com/ehrlich-b/go-blkio/iorand"
	"github.com/ehrlich-b/go-blkio/lba"
	"github.com/ehrlich-b/go-blkio/workload"
)

// requireRoot skips the test if not running as root
func requireRoot(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("This test requires root privileges")
	}
}

// requireDevice returns the scratch device named by BLKIO_TEST_DEVICE. Its
// contents are destroyed.
func requireDevice(t *testing.T) string {
	path := os.Getenv("BLKIO_TEST_DEVICE")
	if path == "" {
		t.Skip("BLKIO_TEST_DEVICE not set")
	}
	return path
}

func openEngine(t *testing.T, backend blkio.BackendKind) *blkio.Engine {
	t.Helper()
	requireRoot(t)
	path := requireDevice(t)

	params := blkio.DefaultParams()
	params.Backend = backend
	// scratch devices are expected to be blank or disposable
	params.EnableWriteGuard = false

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e, err := blkio.Open(ctx, path, params, &blkio.Options{Logger: logging.Nop()})
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	if err := e.SetupErr(); err != nil {
		e.Close()
		t.Skipf("%s backend unavailable: %v", backend, err)
	}
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return e
}

func poll(t *testing.T, e *blkio.Engine, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for !done() {
		if !e.Poll() && time.Now().After(deadline) {
			t.Fatalf("timed out with %d requests outstanding", e.Outstanding())
		}
	}
}

var backends = []blkio.BackendKind{blkio.BackendAIO, blkio.BackendURing, blkio.BackendPool}

func TestIntegrationGeometry(t *testing.T) {
	e := openEngine(t, blkio.BackendPool)

	bs, count := e.BlockSize(), e.BlockCount()
	if bs == 0 || bs%512 != 0 {
		t.Errorf("block size %d is not a positive multiple of 512", bs)
	}
	if count <= uint64(bs) {
		t.Errorf("block count %d should exceed block size %d", count, bs)
	}
	t.Logf("device %s: %d blocks of %d bytes", e.Path(), count, bs)
}

func TestIntegrationWriteThenRead(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			e := openEngine(t, backend)
			rng := iorand.New(uint64(time.Now().UnixNano()))
			gen, err := lba.NewForDevice(e, rng)
			if err != nil {
				t.Fatal(err)
			}

			blocks := uint32(rng.Uniform(1, 128))
			start, err := gen.Random(uint64(blocks))
			if err != nil {
				t.Fatal(err)
			}

			data := e.GetAlignedBuffer(int(blocks) * int(e.BlockSize()))
			defer e.FreeAlignedBuffer(data)
			if err := rng.FillBuffer(data); err != nil {
				t.Fatal(err)
			}

			var wrote, read bool
			if !e.Write(start, blocks, data, func(c *blkio.Completion) {
				if err := c.Err(); err != nil {
					t.Errorf("write: %v", err)
				}
				wrote = true
			}, nil) {
				t.Fatalf("write not queued: %v", e.LastError())
			}
			poll(t, e, func() bool { return wrote })

			if !e.Read(start, blocks, func(c *blkio.Completion) {
				if err := c.Err(); err != nil {
					t.Errorf("read: %v", err)
				} else if !bytes.Equal(c.Buffer[:c.BytesTransferred], data) {
					t.Errorf("read back differs at lba %d (%d blocks)", start, blocks)
				}
				read = true
			}, nil) {
				t.Fatalf("read not queued: %v", e.LastError())
			}
			poll(t, e, func() bool { return read })
		})
	}
}

func TestIntegrationWorkload(t *testing.T) {
	for _, backend := range backends {
		t.Run(string(backend), func(t *testing.T) {
			e := openEngine(t, backend)
			rng := iorand.New(1, iorand.WithBackground(1024))
			defer rng.Close()
			gen, err := lba.NewForDevice(e, rng)
			if err != nil {
				t.Fatal(err)
			}

			res, err := workload.Run(context.Background(), e, gen, rng, workload.Config{
				Mode:        workload.ModeRandom,
				Ops:         2000,
				MaxBlocks:   32,
				ReadPercent: 50,
				QueueDepth:  32,
				Verify:      true,
				Logger:      logging.Nop(),
			})
			if err != nil {
				t.Fatal(err)
			}
			if err := res.Err(); err != nil {
				t.Fatal(err)
			}
			t.Logf("%d ops, %d bytes, %d blocks verified in %s", res.Ops, res.Bytes, res.Verified, res.Elapsed)
		})
	}
}
