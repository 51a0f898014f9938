package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/jdwpd/internal/client"
	"github.com/spf13/cobra"
)

type versionView struct {
	Agent       string `json:"agent" yaml:"agent"`
	Description string `json:"description" yaml:"description"`
	Protocol    string `json:"protocol" yaml:"protocol"`
	VMName      string `json:"vm_name" yaml:"vm_name"`
	VMVersion   string `json:"vm_version" yaml:"vm_version"`
	IDSize      uint32 `json:"object_id_size" yaml:"object_id_size"`
}

func newVersionCmd(flags *rootFlags) *cobra.Command {
	var addr, target string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Handshake with an agent and print VirtualMachine.Version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := client.DefaultConfig()
			cfg.Address = addr
			if addr == "" {
				if flags.targetsFile == "" {
					return errors.New("either --addr or --targets is required")
				}
				set, err := loadTargets(flags.targetsFile)
				if err != nil {
					return err
				}
				t, err := set.lookup(target)
				if err != nil {
					return err
				}
				cfg.Address = t.Addr
				cfg.ConnectTimeout = set.Timeout
				cfg.ReplyTimeout = set.Timeout
			}
			if flags.timeout > 0 {
				cfg.ConnectTimeout = flags.timeout
				cfg.ReplyTimeout = flags.timeout
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			c, err := client.Dial(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			v, err := c.Version(ctx)
			if err != nil {
				return err
			}
			sizes, err := c.IDSizes(ctx)
			if err != nil {
				return err
			}

			out, err := render(flags.output, versionView{
				Agent:       cfg.Address,
				Description: v.Description,
				Protocol:    fmt.Sprintf("%d.%d", v.Major, v.Minor),
				VMName:      v.VMName,
				VMVersion:   v.VMVersion,
				IDSize:      sizes.ObjectID,
			})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "agent address host:port")
	cmd.Flags().StringVar(&target, "target", "", "target name from the targets file (default: default_target)")
	return cmd
}
