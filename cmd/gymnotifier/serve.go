package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"gym_subscription_notifier/internal/app"
	"gym_subscription_notifier/internal/infra/config"
	"gym_subscription_notifier/internal/infra/httpapi"
	"gym_subscription_notifier/internal/infra/logger"
	"gym_subscription_notifier/internal/infra/scheduler"
	"gym_subscription_notifier/internal/infra/telegram"
	"gym_subscription_notifier/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/telebot.v3"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, staff HTTP API and Telegram bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg)
		mainLogger := logger.Component("main")
		mainLogger.WithFields(logrus.Fields{
			"environment":  cfg.Environment,
			"sms_provider": cfg.SMSProvider,
			"cron_spec":    cfg.NotifierCronSpec,
		}).Info("Gym subscription notifier starting...")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := buildCore(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		registry := prometheus.NewRegistry()
		metrics.MustRegister(registry)

		customerService := app.NewCustomerService(c.customerRepo)

		// The scheduled notifier reports to the admin when the bot is enabled.
		var scheduled app.Notifier = c.notifier
		var bot *telebot.Bot
		if cfg.TelegramToken != "" {
			bot, err = newBot(cfg)
			if err != nil {
				return fmt.Errorf("could not create Telegram bot: %w", err)
			}
			botLogger := logger.Component("telegram")
			telegram.RegisterBotCommands(bot, cfg.AdminTelegramID, botLogger)
			telegram.RegisterAdminHandlers(ctx, bot, customerService, c.notifier, c.runRepo, cfg.AdminTelegramID, botLogger)
			scheduled = telegram.NewRunReporter(c.notifier, telegram.NewTelebotAdapter(bot), cfg.AdminTelegramID, botLogger)
			mainLogger.Info("Telegram admin bot handlers registered.")
		}

		location, err := cfg.Location()
		if err != nil {
			return err
		}
		var locker scheduler.TickLocker
		if c.tickLock != nil {
			locker = c.tickLock
		}
		notifScheduler := scheduler.NewNotificationScheduler(
			scheduled,
			locker,
			logger.Component("scheduler"),
			cfg.NotifierCronSpec,
			location,
			cfg.NotifierTickTimeout,
		)
		if err := notifScheduler.Start(); err != nil {
			return err
		}

		server := httpapi.NewServer(httpapi.Deps{
			Customers: customerService,
			Notifier:  c.notifier,
			Runs:      c.runRepo,
			Gatherer:  registry,
			APIKey:    cfg.StaffAPIKey,
			Logger:    logger.Component("http"),
		})
		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		if bot != nil {
			go bot.Start()
		}

		mainLogger.Info("Application setup complete.")

		var runErr error
		select {
		case <-ctx.Done():
			mainLogger.Info("Shutting down application...")
		case runErr = <-errCh:
			mainLogger.WithError(runErr).Error("HTTP server stopped unexpectedly")
		}

		if bot != nil {
			bot.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			mainLogger.WithError(err).Warn("HTTP server shutdown failed")
		}
		notifScheduler.Stop()
		mainLogger.Info("Application shut down gracefully.")
		return runErr
	},
}

func newBot(cfg *config.AppConfig) (*telebot.Bot, error) {
	botLogger := logger.Component("telebot")
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) { // Global error handler
			entry := botLogger.WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithFields(logrus.Fields{
					"sender_id": c.Sender().ID,
					"chat_id":   c.Chat().ID,
				})
			}
			entry.Error("Telegram handler error")
		},
	}
	return telebot.NewBot(pref)
}
