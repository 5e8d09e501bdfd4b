package main

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var infoDump bool

var infoCmd = &cobra.Command{
	Use:   "info <device>",
	Short: "Show device geometry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer e.Close()

		info := e.Info()
		if infoDump {
			spew.Dump(info)
			return nil
		}

		fmt.Printf("Device:         %s\n", info.Path)
		fmt.Printf("Backend:        %s\n", info.Backend)
		fmt.Printf("Block size:     %d\n", info.BlockSize)
		fmt.Printf("Block count:    %s\n", humanize.Comma(int64(info.BlockCount)))
		fmt.Printf("Capacity:       %s (%d bytes)\n", humanize.IBytes(info.SizeBytes), info.SizeBytes)
		fmt.Printf("Writes allowed: %t\n", info.WritesAllowed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoDump, "dump", false, "dump the raw engine info structure")
}
