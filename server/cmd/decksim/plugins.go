package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ulanzi/decksim/server/internal/catalog"
	"github.com/ulanzi/decksim/server/internal/config"
)

func newPluginsCommand(g *globalOptions) *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List installed plugins and how to start their main services",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			setupLogging(g, cfg)
			if language == "" {
				language = cfg.Simulator.Language
			}

			set, err := catalog.Load(cfg.Server.PluginsDir, cfg.Server.PluginSuffix, config.Languages)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "UUID\tNAME\tACTIONS\tSTART")
			for _, d := range set.Sorted() {
				hint := d.LaunchHint(cfg.Server.Host, cfg.Server.HTTPPort, language)
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.UUID, d.DisplayName(language), len(d.Actions), hint.Code)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "display language (defaults to simulator.language)")
	return cmd
}
