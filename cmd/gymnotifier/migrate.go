package main

import (
	"fmt"

	"gym_subscription_notifier/internal/infra/config"
	idb "gym_subscription_notifier/internal/infra/database"
	"gym_subscription_notifier/internal/infra/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadDatabase()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg)
		log := logger.Component("migrate")

		db, err := idb.NewPostgresConnection(cmd.Context(), cfg.DatabaseURL, poolConfig(cfg))
		if err != nil {
			return fmt.Errorf("could not connect to database: %w", err)
		}
		defer db.Close()

		applied, err := idb.ApplyMigrations(cmd.Context(), db)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			log.Info("Database schema is up to date.")
			return nil
		}
		log.WithField("applied", applied).Info("Migrations applied.")
		return nil
	},
}
