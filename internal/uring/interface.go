// Package uring provides the io_uring completion backend
package uring

import (
	"github.com/ehrlich-b/go-blkio/internal/interfaces"
	"github.com/ehrlich-b/go-blkio/internal/logging"
)

// Config contains configuration for creating a ring
type Config struct {
	Entries uint32 // Number of submission queue entries
	FD      int32  // Device descriptor every request targets
	Logger  *logging.Logger
}

// NewRing creates an io_uring backed interfaces.Queue
func NewRing(config Config) (interfaces.Queue, error) {
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger.Debug("creating io_uring", "entries", config.Entries, "fd", config.FD)

	ring, err := newRing(config, logger)
	if err != nil {
		logger.Error("failed to create io_uring", "error", err)
		return nil, err
	}

	logger.Debug("created io_uring", "entries", config.Entries)
	return ring, nil
}
