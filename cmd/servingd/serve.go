package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"servingd/internal/config"
	"servingd/internal/httpapi"
	"servingd/internal/manager"
	"servingd/internal/registry"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr        string
		modelsDir   string
		corsOrigins string
	)
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP serving daemon",
		Example: "  servingd serve --config servingd.yaml\n  servingd serve --models-dir /srv/models --addr :9000",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if modelsDir != "" {
				cfg.ModelsDir = modelsDir
			}
			if origins := splitCSV(corsOrigins); len(origins) > 0 {
				cfg.CORS.Enabled = true
				cfg.CORS.AllowedOrigins = origins
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			log, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	defaultAddr := os.Getenv("SERVINGD_ADDR")
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "HTTP listen address, e.g. :8080 (defaults SERVINGD_ADDR or config)")
	cmd.Flags().StringVar(&modelsDir, "models-dir", "", "Directory laid out as <model>/<version>/ (overrides config)")
	cmd.Flags().StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins; enables CORS")
	return cmd
}

// serve runs the daemon until ctx is done, then shuts down in order: stop
// accepting requests, stop the watcher, drain batches and unload versions.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	if cfg.ModelsDir == "" {
		return errors.New("models_dir is required")
	}
	src, err := registry.NewDirSource(cfg.ModelsDir, &log)
	if err != nil {
		return err
	}
	mgr, err := manager.NewWithConfig(manager.ManagerConfig{
		Models:            cfg.Models,
		Source:            src,
		ReconcileInterval: cfg.ReconcileInterval(),
		Logger:            &log,
	})
	if err != nil {
		return err
	}
	if err := mgr.Start(); err != nil {
		return err
	}

	var watched []registry.WatchedModel
	for _, mc := range cfg.Models {
		if len(mc.Versions) == 0 {
			watched = append(watched, registry.WatchedModel{Name: mc.Name, Policy: mc.VersionPolicy, LatestN: mc.LatestN})
		}
	}
	var watcher *registry.Watcher
	if len(watched) > 0 {
		watcher = registry.NewWatcher(registry.WatcherConfig{
			Root:     src.Root(),
			Interval: cfg.WatchInterval(),
			Models:   watched,
			Aspirer:  mgr,
			Logger:   &log,
		})
		if err := watcher.Start(ctx); err != nil {
			_ = closeAll(nil, mgr, cfg)
			return err
		}
	}

	httpapi.SetLogger(log)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetInferTimeout(cfg.InferTimeout())
	httpapi.SetDefaultLogLevel(cfg.LogLevel)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders)
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	ln, activated, err := listen(cfg.Addr)
	if err != nil {
		_ = closeAll(watcher, mgr, cfg)
		return err
	}
	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(mgr)}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("event", "listening").Str("addr", ln.Addr().String()).Bool("socket_activated", activated).
			Str("models_dir", src.Root()).Int("models", len(cfg.Models)).Msg("servingd listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	notify(log, daemon.SdNotifyReady)

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Str("event", "shutdown_signal").Msg("shutting down")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("server error")
	}

	notify(log, daemon.SdNotifyStopping)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	cancelBase()
	if watcher != nil {
		watcher.Stop()
	}
	if err := mgr.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("manager close error")
	}
	log.Info().Str("event", "stopped").Msg("servingd stopped")
	return serveErr
}

// closeAll tears down the watcher and manager when serve fails before the
// HTTP server is up.
func closeAll(watcher *registry.Watcher, mgr *manager.Manager, cfg config.Config) error {
	if watcher != nil {
		watcher.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	return mgr.Close(ctx)
}
