package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bloodconnect/platform/internal/app"
	"github.com/bloodconnect/platform/internal/shared/config"
	"github.com/bloodconnect/platform/internal/shared/database"
	"github.com/bloodconnect/platform/internal/shared/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bloodconnect",
		Short: "BloodConnect blood donation coordination server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var skipSeed bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(!skipSeed)
		},
	}
	cmd.Flags().BoolVar(&skipSeed, "no-seed", false, "do not seed default hospitals and demo users")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if !cfg.Database.Enabled {
				return fmt.Errorf("DB_ENABLED is false; nothing to migrate")
			}

			ctx := context.Background()
			db, err := database.New(ctx, cfg.Database, log)
			if err != nil {
				return err
			}
			defer db.Close()
			return database.Migrate(ctx, db.Pool, log)
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed default hospitals, stock and demo users",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Seed(ctx); err != nil {
				return err
			}
			log.Info().Msg("seed complete")
			return nil
		},
	}
}

func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logging.New(cfg.Log), nil
}

func runServer(seed bool) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if seed {
		if err := a.Seed(ctx); err != nil {
			return err
		}
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		close(done)
	}()

	log.Info().
		Str("env", cfg.Server.Env).
		Int("port", cfg.Server.Port).
		Bool("database", cfg.Database.Enabled).
		Bool("redis", cfg.Redis.Enabled).
		Str("event_bus", a.BusKind).
		Bool("simulation", cfg.Simulation.Enabled).
		Bool("heliant", cfg.Heliant.Enabled).
		Msg("BloodConnect listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	log.Info().Msg("server stopped")
	return nil
}
