package main

import (
	"errors"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"assembly-line-sim/internal/config"
	"assembly-line-sim/internal/journal"
)

func newReportCmd(root *rootOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize a production journal written by run --journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				cfg, err := config.LoadConfig(root.configPath)
				if err != nil {
					return err
				}
				path = cfg.JournalPath
			}
			if path == "" {
				return errors.New("no journal given: use --journal or set journal_path")
			}
			s, err := journal.Summarize(path)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(s)
		},
	}
	cmd.Flags().StringVar(&path, "journal", "", "Journal file to summarize (default: journal_path from config)")
	return cmd
}
