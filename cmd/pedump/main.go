package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "pedump",
		Short: "pedump rebuilds PE files from process, module and driver memory",
		Long: `pedump reads a memory capture (a snapshot directory, a minidump, a raw
memory file or, on Linux, live processes) and writes the executables, DLLs
and drivers found in it back out as PE files.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.validate()
		},
	}

	opts.register(rootCmd)

	rootCmd.AddCommand(
		procdumpCommand(opts),
		dlldumpCommand(opts),
		moddumpCommand(opts),
		pedumpCommand(opts),
		headersCommand(opts),
		captureCommand(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
