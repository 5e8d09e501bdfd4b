//go:build !linux

package uring

import (
	"syscall"

	"github.com/ehrlich-b/go-blkio/internal/interfaces"
	"github.com/ehrlich-b/go-blkio/internal/logging"
)

func newRing(Config, *logging.Logger) (interfaces.Queue, error) {
	return nil, syscall.ENOSYS
}
