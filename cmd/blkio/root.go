package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/go-blkio"
	"github.com/ehrlich-b/go-blkio/internal/logging"
	"github.com/ehrlich-b/go-blkio/iorand"
)

// flags shared by every subcommand
var (
	backendName string
	force       bool
	noStats     bool
	bgRandom    bool
	direct      bool
	verbose     bool
	logFormat   string
)

var rootCmd = &cobra.Command{
	Use:   "blkio",
	Short: "Asynchronous raw block device I/O",
	Long: `blkio drives asynchronous reads and writes against a raw block device
using Linux kernel AIO, io_uring or a goroutine pool.

Writes are refused on any device whose first sector carries a partition
table signature unless --force is given.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch blkio.BackendKind(backendName) {
		case blkio.BackendAIO, blkio.BackendURing, blkio.BackendPool:
		default:
			return fmt.Errorf("unknown backend %q (want aio, uring or pool)", backendName)
		}
		switch logFormat {
		case "text", "json":
		default:
			return fmt.Errorf("unknown log format %q (want text or json)", logFormat)
		}

		cfg := logging.DefaultConfig()
		cfg.Format = logFormat
		cfg.Output = os.Stderr
		cfg.Sync = true
		if verbose {
			cfg.Level = logging.LevelDebug
		}
		logging.SetDefault(logging.NewLogger(cfg))
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&backendName, "backend", string(blkio.DefaultParams().Backend), "completion backend: aio, uring or pool")
	pf.BoolVar(&force, "force", false, "disable the partition table write guard")
	pf.BoolVar(&noStats, "no-stats", false, "do not track submission statistics")
	pf.BoolVar(&bgRandom, "bg-random", false, "generate random numbers on a background goroutine")
	pf.BoolVar(&direct, "direct", true, "open the device with O_DIRECT")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&logFormat, "log-format", "text", "log format: text or json")
}

// openEngine opens path with the parameters selected by the shared flags
func openEngine(ctx context.Context, path string) (*blkio.Engine, error) {
	params := blkio.DefaultParams()
	params.Backend = blkio.BackendKind(backendName)
	params.Direct = direct
	params.EnableStats = !noStats
	params.EnableWriteGuard = !force

	e, err := blkio.Open(ctx, path, params, &blkio.Options{Logger: logging.Default()})
	if err != nil {
		return nil, err
	}
	if err := e.SetupErr(); err != nil {
		e.Close()
		return nil, fmt.Errorf("%s backend unavailable: %w", backendName, err)
	}
	return e, nil
}

func newStream(seed uint64) *iorand.Stream {
	var opts []iorand.Option
	if bgRandom {
		opts = append(opts, iorand.WithBackground(0))
	}
	if seed == 0 {
		return iorand.NewTimeSeeded(opts...)
	}
	return iorand.New(seed, opts...)
}

// pollUntil polls e until done reports true or ctx ends
func pollUntil(ctx context.Context, e *blkio.Engine, done func() bool) error {
	for !done() {
		if e.Poll() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func printStats(e *blkio.Engine) {
	if noStats {
		return
	}
	fmt.Println("stats:", strings.TrimSpace(e.Stats().String()))
}
