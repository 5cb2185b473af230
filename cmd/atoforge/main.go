// Command atoforge runs the compliance engine: an HTTP server plus
// import and inspection subcommands for operating on a baseline store
// directly from the shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/atoforge/atoforge/pkg/api"
	"github.com/atoforge/atoforge/pkg/baseline"
	"github.com/atoforge/atoforge/pkg/catalog"
	"github.com/atoforge/atoforge/pkg/config"
	"github.com/atoforge/atoforge/pkg/ingest"
	"github.com/atoforge/atoforge/pkg/metrics"
	"github.com/atoforge/atoforge/pkg/observability"
	"github.com/atoforge/atoforge/pkg/resolver"
	"github.com/atoforge/atoforge/pkg/store"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "atoforge",
		Short:         "Compliance baseline and vulnerability aggregation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")

	root.AddCommand(serveCmd(), importCatalogCmd(), importNessusCmd(), statsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// engine bundles everything a subcommand needs.
type engine struct {
	cfg      config.Config
	store    *store.Store
	catalog  *catalog.Service
	ingest   *ingest.Service
	resolver *resolver.Service
	baseline *baseline.Service
	metrics  *metrics.Service
	logger   *slog.Logger
}

func setup(ctx context.Context) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &engine{
		cfg:      cfg,
		store:    st,
		catalog:  catalog.New(st, logger),
		ingest:   ingest.New(st, logger),
		resolver: resolver.New(st, logger),
		baseline: baseline.New(st, logger),
		metrics:  metrics.New(st, logger),
		logger:   logger,
	}, nil
}

func (e *engine) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error("failed to close store", "error", err)
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := setup(ctx)
			if err != nil {
				return err
			}
			defer eng.close()

			obs, err := observability.New(ctx, &observability.Config{
				ServiceName:    "atoforge",
				ServiceVersion: "1.0.0",
				OTLPEndpoint:   eng.cfg.Telemetry.Endpoint,
				SampleRate:     1.0,
				BatchTimeout:   5 * time.Second,
				Enabled:        eng.cfg.Telemetry.Enabled,
				Insecure:       true,
			})
			if err != nil {
				return fmt.Errorf("init observability: %w", err)
			}

			server := api.NewServer(eng.catalog, eng.ingest, eng.resolver, eng.baseline, eng.metrics, eng.logger).
				WithTelemetry(obs)
			defer server.Close()
			httpServer := &http.Server{
				Addr:              eng.cfg.Server.Addr,
				Handler:           server.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				eng.logger.Info("server listening", "addr", eng.cfg.Server.Addr, "driver", eng.cfg.Database.Driver)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-stop:
				eng.logger.Info("shutting down", "signal", sig.String())
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), eng.cfg.Server.ShutdownTimeout.Std())
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return obs.Shutdown(shutdownCtx)
		},
	}
}

func importCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-catalog <file>",
		Short: "Import a control catalog (JSON) and activate it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			result, err := eng.catalog.Import(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}

func importNessusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-nessus <file>",
		Short: "Import a normalized Nessus report (JSON)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.close()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			result, err := eng.ingest.ImportNessus(cmd.Context(), raw)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print catalog statistics for the active revision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.close()

			stats, err := eng.catalog.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
