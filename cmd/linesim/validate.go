package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config, station graph and work order rules without running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, g, err := loadChecked(root.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d stations, %d entry, %d terminal, %d work order rules\n",
				g.Len(), len(g.Entries()), len(g.Terminals()), len(cfg.WorkOrders))
			return nil
		},
	}
}
