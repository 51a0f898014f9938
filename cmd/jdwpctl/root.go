package main

import (
	"time"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	output      string
	timeout     time.Duration
	targetsFile string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "jdwpctl",
		Short:         "Probe jdwpd agents and inspect agent option strings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "table", "output format: table, json, yaml")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 0, "connect and reply timeout (default from targets file or 5s)")
	root.PersistentFlags().StringVar(&flags.targetsFile, "targets", "", "targets file (toml)")

	root.AddCommand(
		newVersionCmd(flags),
		newOptionsCmd(flags),
		newTargetsCmd(flags),
	)
	return root
}
