package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ulanzi/decksim/agent/internal/config"
	"github.com/ulanzi/decksim/agent/internal/link"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath, logFormat string
	root := &cobra.Command{
		Use:           "decksim-agent",
		Short:         "Headless plugin probe: connects to the simulator as a plugin and logs its traffic",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, configPath, logFormat)
		},
	}
	root.Flags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	root.Flags().StringVar(&logFormat, "log-format", "json", "log format: json | text")
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the probe version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "decksim-agent", version)
		},
	})
	return root
}

func run(ctx context.Context, configPath, logFormat string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Probe.Level())
	setupLogging(logFormat, level)

	slog.Info("decksim-agent starting",
		"config", configPath,
		"server_url", cfg.Probe.ServerURL,
		"uuid", cfg.Probe.PluginUUID,
		"answer_run", cfg.Probe.AnswerRun,
	)

	l := link.New(cfg.Probe, logEvent)

	go func() {
		if err := config.Watch(ctx, configPath, func(updated *config.Config) {
			level.Set(updated.Probe.Level())
			l.SetAnswerRun(updated.Probe.AnswerRun)
			if updated.Probe.Identity() != cfg.Probe.Identity() || updated.Probe.ServerURL != cfg.Probe.ServerURL {
				slog.Warn("config: identity and server_url changes need a restart")
			}
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	l.Run(ctx)
	slog.Info("decksim-agent shutting down")
	return nil
}

func logEvent(ev link.Event) {
	if ev.Ack {
		slog.Debug("probe: ack", "cmd", ev.Cmd, "key", ev.Key, "actionid", ev.ActionID)
		return
	}
	attrs := []any{"cmd", ev.Cmd, "uuid", ev.UUID, "key", ev.Key, "actionid", ev.ActionID}
	if len(ev.Param) > 0 {
		attrs = append(attrs, "param", string(ev.Param))
	}
	if ev.Active != nil {
		attrs = append(attrs, "active", *ev.Active)
	}
	slog.Info("probe: event", attrs...)
}

func setupLogging(format string, level slog.Leveler) {
	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, hopts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, hopts)
	}
	slog.SetDefault(slog.New(handler))
}
