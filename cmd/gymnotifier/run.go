package main

import (
	"context"
	"errors"
	"fmt"

	"gym_subscription_notifier/internal/infra/config"
	"gym_subscription_notifier/internal/infra/lock"
	"gym_subscription_notifier/internal/infra/logger"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// runCmd performs a single tick, for deployments driven by an external cron.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one notifier tick and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg)
		log := logger.Component("run")

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.NotifierTickTimeout)
		defer cancel()

		c, err := buildCore(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		if c.tickLock != nil {
			release, err := c.tickLock.Acquire(ctx)
			if errors.Is(err, lock.ErrNotAcquired) {
				log.Info("Another replica is running this tick. Nothing to do.")
				return nil
			}
			if err != nil {
				return fmt.Errorf("acquire tick lock: %w", err)
			}
			defer func() { _ = release(context.WithoutCancel(ctx)) }()
		}

		run, err := c.notifier.RunOnce(ctx)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"run_id":     run.ID,
			"candidates": run.Candidates,
			"sent":       run.Sent,
			"failed":     run.Failed,
			"skipped":    run.Skipped,
		}).Info("Tick complete")
		return nil
	},
}
