package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ehrlich-b/go-blkio/internal/logging"
	"github.com/ehrlich-b/go-blkio/lba"
	"github.com/ehrlich-b/go-blkio/workload"
)

var (
	stressCfg  workload.Config
	stressMode string
	stressSeed uint64
)

// addWorkloadFlags registers the workload shape flags on fs
func addWorkloadFlags(fs *pflag.FlagSet, cfg *workload.Config) {
	fs.StringVar(&stressMode, "mode", string(workload.ModeRandom), "address pattern: sequential or random")
	fs.IntVar(&cfg.Ops, "ops", 10000, "requests to complete")
	fs.Uint32Var(&cfg.MinBlocks, "min-blocks", 1, "smallest request in blocks")
	fs.Uint32Var(&cfg.MaxBlocks, "max-blocks", 64, "largest request in blocks")
	fs.IntVar(&cfg.ReadPercent, "rwmix", 50, "percentage of requests that are reads (0-100)")
	fs.IntVarP(&cfg.QueueDepth, "depth", "q", 32, "outstanding request limit")
	fs.BoolVar(&cfg.Verify, "verify", true, "check reads against checksums of earlier writes")
	fs.Uint64Var(&stressSeed, "seed", 0, "random seed (0 seeds from the clock)")
}

var stressCmd = &cobra.Command{
	Use:   "stress <device>",
	Short: "Run a mixed read/write workload",
	Long: `stress keeps up to --depth requests outstanding until --ops have completed.
No two outstanding requests overlap. With --verify every read of a block
written earlier in the run is checked against the write's checksum.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := workload.ParseMode(stressMode)
		if err != nil {
			return err
		}
		cfg := stressCfg
		cfg.Mode = mode
		cfg.Logger = logging.Default()

		ctx := cmd.Context()
		e, err := openEngine(ctx, args[0])
		if err != nil {
			return err
		}
		defer e.Close()

		rng := newStream(stressSeed)
		defer rng.Close()
		gen, err := lba.NewForDevice(e, rng)
		if err != nil {
			return err
		}

		res, runErr := workload.Run(ctx, e, gen, rng, cfg)

		secs := res.Elapsed.Seconds()
		fmt.Printf("seed:       %d\n", rng.Seed())
		fmt.Printf("ops:        %s (%s reads, %s writes)\n",
			humanize.Comma(int64(res.Ops)), humanize.Comma(int64(res.Reads)), humanize.Comma(int64(res.Writes)))
		fmt.Printf("moved:      %s in %s\n", humanize.IBytes(res.Bytes), res.Elapsed.Round(time.Millisecond))
		if secs > 0 {
			fmt.Printf("throughput: %s/s, %s IOPS\n",
				humanize.IBytes(uint64(float64(res.Bytes)/secs)), humanize.Comma(int64(float64(res.Ops)/secs)))
		}
		fmt.Printf("failures:   %d failed, %d rejected\n", res.Failures, res.QueueFailures)
		if cfg.Verify {
			fmt.Printf("verified:   %s blocks, %d mismatched\n", humanize.Comma(int64(res.Verified)), res.Mismatches)
		}
		snap := e.MetricsSnapshot()
		fmt.Printf("latency:    p50 %s  p99 %s  max depth %d\n",
			snap.LatencyP50, snap.LatencyP99, snap.MaxQueueDepth)
		printStats(e)

		if runErr != nil {
			return runErr
		}
		return res.Err()
	},
}

func init() {
	rootCmd.AddCommand(stressCmd)
	addWorkloadFlags(stressCmd.Flags(), &stressCfg)
}
