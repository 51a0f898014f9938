package main

import (
	"errors"
	"fmt"

	"github.com/danmuck/jdwpd/internal/options"
	"github.com/spf13/cobra"
)

type optionsView struct {
	Transport string `json:"transport" yaml:"transport"`
	Server    bool   `json:"server" yaml:"server"`
	Suspend   bool   `json:"suspend" yaml:"suspend"`
	Host      string `json:"host" yaml:"host"`
	Port      uint16 `json:"port" yaml:"port"`
	Canonical string `json:"canonical" yaml:"canonical"`
}

func newOptionsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "options <option-string>",
		Short: "Parse an agent option string and print the resulting configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options.Parse(args[0])
			if err != nil {
				if errors.Is(err, options.ErrHelpRequested) {
					fmt.Fprintln(cmd.OutOrStdout(), options.Usage)
					return nil
				}
				return err
			}
			if again, err := options.Parse(opts.String()); err != nil || !again.Equal(opts) {
				return fmt.Errorf("canonical form %q does not parse back to %q", opts.String(), args[0])
			}
			out, err := render(flags.output, optionsView{
				Transport: opts.Transport.String(),
				Server:    opts.Server,
				Suspend:   opts.Suspend,
				Host:      opts.Host,
				Port:      opts.Port,
				Canonical: opts.String(),
			})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
