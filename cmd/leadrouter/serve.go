package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/LeadRouter/internal/api"
)

func serveCmd() *cobra.Command {
	var memory bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the routing API and background loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			a, err := buildApp(ctx, cfg, logger, memory)
			if err != nil {
				return err
			}
			defer a.Close()

			b := a.broker
			if err := b.SetupSubscriptions(); err != nil {
				logger.Warn("lead change subscription failed", "error", err)
			}
			b.Start(ctx)
			defer b.Stop()
			logger.Info("broker started",
				"tenants", cfg.Routing.Tenants,
				"auto_commit", cfg.Routing.AutoCommit,
				"tick_interval", cfg.TickInterval())

			apiServer := &http.Server{
				Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
				Handler: api.NewRouter(a.store, b, cfg.Server, logger),
			}
			metricsServer := &http.Server{
				Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
				Handler: api.NewMetricsRouter(),
			}

			go func() {
				logger.Info("API server starting", "port", cfg.Server.Port)
				if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
					logger.Error("API server error", "error", err)
				}
			}()
			go func() {
				logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
				if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
					logger.Error("metrics server error", "error", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logger.Info("shutting down...")
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			_ = apiServer.Shutdown(shutdownCtx)
			_ = metricsServer.Shutdown(shutdownCtx)

			logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "ignore database and redis settings and keep state in memory")
	return cmd
}
