package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ulanzi/decksim/server/internal/api"
	"github.com/ulanzi/decksim/server/internal/catalog"
	"github.com/ulanzi/decksim/server/internal/config"
	"github.com/ulanzi/decksim/server/internal/metrics"
	"github.com/ulanzi/decksim/server/internal/registry"
	"github.com/ulanzi/decksim/server/internal/store"
	"github.com/ulanzi/decksim/server/internal/ws"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	*globalOptions
	port       int
	pluginsDir string
	staticDir  string
}

func newServeCommand(g *globalOptions) *cobra.Command {
	opts := &serveOptions{globalOptions: g}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulator: deck UI, plugin assets and the WebSocket hub on one port",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().IntVar(&opts.port, "port", 0, "override server.http_port")
	cmd.Flags().StringVar(&opts.pluginsDir, "plugins-dir", "", "override server.plugins_dir")
	cmd.Flags().StringVar(&opts.staticDir, "static-dir", "", "override server.static_dir")
	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, err := loadConfig(opts.globalOptions)
	if err != nil {
		return err
	}
	if opts.port != 0 {
		cfg.Server.HTTPPort = opts.port
		cfg.Simulator.ServerPort = opts.port
	}
	if opts.pluginsDir != "" {
		cfg.Server.PluginsDir = opts.pluginsDir
	}
	if opts.staticDir != "" {
		cfg.Server.StaticDir = opts.staticDir
	}
	setupLogging(opts.globalOptions, cfg)

	slog.Info("decksim starting",
		"version", version,
		"http_port", cfg.Server.HTTPPort,
		"plugins_dir", cfg.Server.PluginsDir,
		"language", cfg.Simulator.Language,
	)

	reg := registry.New()
	st := store.New()
	promReg := metrics.NewRegistry()
	cat := catalog.New(cfg.Server.PluginsDir, cfg.Server.PluginSuffix, config.Languages)

	hub := ws.New(reg, st, cat, cfg.Simulator, ws.Options{
		Host:       cfg.Server.Host,
		SendBuffer: cfg.Server.SendBuffer,
		Metrics:    promReg,
	})
	go hub.Run(ctx)

	go func() {
		if err := cat.Run(ctx, cfg.Server.WatchPlugins); err != nil {
			slog.Error("catalog stopped", "err", err)
		}
	}()

	if opts.configPath != "" {
		port := cfg.Server.HTTPPort
		go func() {
			err := config.Watch(ctx, opts.configPath, func(next *config.Config) {
				// Server settings need a restart; only the simulator section is live.
				next.Simulator.ServerPort = port
				hub.UpdateSettings(next.Simulator)
			})
			if err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(api.Deps{
		Hub:      hub,
		Catalog:  cat,
		Registry: reg,
		Store:    st,
		Host:     cfg.Server.Host,
	}))
	httpMux.Handle("/metrics", metrics.Handler(promReg))
	httpMux.Handle("/", upgradeOr(hub, newAssets(cfg.Server.StaticDir, cfg.Server.PluginsDir)))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "url", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.HTTPPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	slog.Info("decksim shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// upgradeOr sends WebSocket upgrade requests on any path to hub and
// everything else to next. Plugins pick their own socket path.
func upgradeOr(hub http.Handler, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			hub.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
