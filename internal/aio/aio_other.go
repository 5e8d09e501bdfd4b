//go:build !linux

// Package aio drives Linux kernel asynchronous I/O. On other platforms New
// always fails and the engine falls back to reporting a setup error.
package aio

import (
	"syscall"

	"github.com/ehrlich-b/go-blkio/internal/interfaces"
	"github.com/ehrlich-b/go-blkio/internal/logging"
)

// Config configures a kernel AIO context
type Config struct {
	FD        uintptr
	MaxEvents uint32
	Logger    *logging.Logger
}

// Context is unavailable on this platform
type Context struct{}

// New reports ENOSYS
func New(cfg Config) (*Context, error) {
	return nil, syscall.ENOSYS
}

func (c *Context) Name() string                         { return "aio" }
func (c *Context) Submit(interfaces.Request) error      { return syscall.ENOSYS }
func (c *Context) Poll([]interfaces.Event) (int, error) { return 0, nil }
func (c *Context) Cancel() error                        { return nil }
func (c *Context) Close() error                         { return nil }

var _ interfaces.Queue = (*Context)(nil)
