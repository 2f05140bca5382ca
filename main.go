package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"therapy-scheduling-server/internal/config"
	"therapy-scheduling-server/internal/logging"
	"therapy-scheduling-server/internal/models"
	"therapy-scheduling-server/internal/repository"
	"therapy-scheduling-server/internal/services"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "therapy-scheduling-server",
		Short:         "Therapy appointment, payment and notification API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server, voice workers and finished-appointment sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, logger)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark accepted appointments whose slot has passed as Finished",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			db, err := models.InitDB(models.DatabaseConfig{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			loc, _ := cfg.Location()

			store := repository.NewStore(db)
			notifier := services.NewNotificationService(store.Notifications, logger, nil)
			appointments := services.NewAppointmentService(store, notifier, logger, services.WithLocation(loc))

			n, err := appointments.FinishPast(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info().Int("finished", n).Msg("sweep complete")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			// InitDB migrates on open.
			if _, err := models.InitDB(models.DatabaseConfig{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN}); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info().Str("driver", cfg.Database.Driver).Msg("schema migrated")
			return nil
		},
	}
}

// bootstrap loads .env (optional), the configuration and the logger.
func bootstrap() (*config.Config, zerolog.Logger, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, zerolog.Nop(), fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logging.New(cfg.LogLevel, cfg.Environment), nil
}
