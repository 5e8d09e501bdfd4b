package main

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ehrlich-b/go-blkio"
	"github.com/ehrlich-b/go-blkio/lba"
)

var (
	verifyBlocks uint32
	verifySeed   uint64
	verifyRounds int
)

var verifyCmd = &cobra.Command{
	Use:   "verify <device>",
	Short: "Write random data at a random LBA and read it back",
	Long: `verify checks the device geometry, then for each round writes a buffer of
random data at a random address and compares it with what a read of the same
range returns. Destroys the data it overwrites.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEngine(ctx, args[0])
		if err != nil {
			return err
		}
		defer e.Close()

		bs, count := e.BlockSize(), e.BlockCount()
		if bs == 0 || bs%512 != 0 || count <= uint64(bs) {
			return fmt.Errorf("implausible geometry: block size %d, block count %d", bs, count)
		}

		rng := newStream(verifySeed)
		defer rng.Close()
		gen, err := lba.NewForDevice(e, rng)
		if err != nil {
			return err
		}
		fmt.Printf("seed %d\n", rng.Seed())

		for round := 0; round < verifyRounds; round++ {
			blocks := verifyBlocks
			if blocks == 0 {
				blocks = uint32(rng.Uniform(1, 128))
			}
			start, err := gen.Random(uint64(blocks))
			if err != nil {
				return err
			}
			if err := roundTrip(cmd, e, rng, start, blocks); err != nil {
				return fmt.Errorf("round %d: %w", round, err)
			}
			gen.ReleaseRange(start, uint64(blocks))
			fmt.Printf("ok  lba %d  %d blocks (%s)\n", start, blocks, humanize.IBytes(uint64(blocks)*uint64(bs)))
		}
		printStats(e)
		return nil
	},
}

func roundTrip(cmd *cobra.Command, e *blkio.Engine, rng interface{ FillBuffer([]byte) error }, start uint64, blocks uint32) error {
	size := int(blocks) * int(e.BlockSize())
	data := e.GetAlignedBuffer(size)
	defer e.FreeAlignedBuffer(data)
	if err := rng.FillBuffer(data); err != nil {
		return err
	}

	var result error
	done := false
	if !e.Write(start, blocks, data, func(c *blkio.Completion) {
		result, done = c.Err(), true
	}, nil) {
		return e.LastError()
	}
	if err := pollUntil(cmd.Context(), e, func() bool { return done }); err != nil {
		return err
	}
	if result != nil {
		return result
	}

	done = false
	if !e.Read(start, blocks, func(c *blkio.Completion) {
		done = true
		if result = c.Err(); result == nil && !bytes.Equal(c.Buffer[:c.BytesTransferred], data) {
			result = errors.New("read back data differs from what was written")
		}
	}, nil) {
		return e.LastError()
	}
	if err := pollUntil(cmd.Context(), e, func() bool { return done }); err != nil {
		return err
	}
	return result
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().Uint32Var(&verifyBlocks, "blocks", 0, "blocks per round (0 picks 1-128 at random)")
	verifyCmd.Flags().Uint64Var(&verifySeed, "seed", 0, "random seed (0 seeds from the clock)")
	verifyCmd.Flags().IntVar(&verifyRounds, "rounds", 1, "number of round trips")
}
