package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ulanzi/decksim/server/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	logFormat  string
	logLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "decksim",
		Short:         "Stream deck simulator: routes messages between a virtual deck and plugins",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (defaults apply when empty)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "log format: json | text")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override server.log_level")

	root.AddCommand(
		newServeCommand(opts),
		newPluginsCommand(opts),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the simulator version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "decksim", version)
		},
	}
}

// loadConfig reads the config file, or returns defaults when none is given.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	if opts.configPath == "" {
		return config.Defaults(), nil
	}
	return config.Load(opts.configPath)
}

// setupLogging installs the process-wide slog logger.
func setupLogging(opts *globalOptions, cfg *config.Config) {
	level := cfg.Server.Level()
	if opts.logLevel != "" {
		level = config.ServerConfig{LogLevel: opts.logLevel}.Level()
	}
	hopts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.logFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, hopts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, hopts)
	}
	slog.SetDefault(slog.New(handler))
}
