package main

import (
	"context"
	"fmt"

	"gym_subscription_notifier/internal/app"
	"gym_subscription_notifier/internal/domain/messaging"
	"gym_subscription_notifier/internal/domain/notification"
	"gym_subscription_notifier/internal/infra/config"
	idb "gym_subscription_notifier/internal/infra/database"
	"gym_subscription_notifier/internal/infra/events"
	"gym_subscription_notifier/internal/infra/lock"
	"gym_subscription_notifier/internal/infra/logger"
	"gym_subscription_notifier/internal/infra/sms"

	"github.com/jmoiron/sqlx"
)

// core holds the components shared by serve and run.
type core struct {
	db           *sqlx.DB
	customerRepo *idb.PostgresCustomerRepository
	runRepo      *idb.PostgresRunRepository
	notifier     *app.SubscriptionNotifier
	tickLock     *lock.RedisTickLock
	closers      []func()
}

func (c *core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func buildCore(ctx context.Context, cfg *config.AppConfig) (*core, error) {
	mainLogger := logger.Component("main")
	c := &core{}

	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL, poolConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	c.db = db
	c.closers = append(c.closers, func() { db.Close() })
	mainLogger.Info("Database connection established successfully.")

	c.customerRepo = idb.NewPostgresCustomerRepository(db)
	c.runRepo = idb.NewPostgresRunRepository(db)

	sender := newSender(cfg)

	var publisher notification.Publisher = events.NoopPublisher{}
	if cfg.RabbitMQURL != "" {
		producer, err := events.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger.Component("events"))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
		}
		c.closers = append(c.closers, producer.Close)
		publisher = producer
		mainLogger.WithField("exchange", cfg.RabbitMQExchange).Info("RabbitMQ event publisher initialized.")
	}

	if cfg.RedisAddr != "" {
		rdb, err := lock.NewRedisClient(lock.RedisOpts{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("could not connect to Redis: %w", err)
		}
		c.closers = append(c.closers, func() { _ = rdb.Close() })
		c.tickLock = lock.NewRedisTickLock(rdb, "gymnotifier:tick", cfg.NotifierLockTTL)
		mainLogger.Info("Redis tick lock initialized.")
	}

	notifier, err := app.NewSubscriptionNotifier(
		c.customerRepo,
		c.runRepo,
		sender,
		publisher,
		logger.Component("notifier"),
		app.NotifierOptions{
			SenderID:    cfg.TwilioNumber,
			Template:    cfg.SMSTemplate,
			Concurrency: cfg.NotifierConcurrency,
			MaxAttempts: cfg.NotifierMaxAttempts,
		},
	)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.notifier = notifier
	return c, nil
}

func newSender(cfg *config.AppConfig) messaging.Sender {
	var base messaging.Sender
	switch cfg.SMSProvider {
	case config.SMSProviderLog:
		base = sms.NewLogSender(logger.Component("sms_dry_run"))
	default:
		base = sms.NewTwilioSender(cfg.TwilioSID, cfg.TwilioToken)
	}
	return sms.NewGuardedSender(base, sms.GuardOptions{
		RatePerSecond:   cfg.SMSRatePerSecond,
		Burst:           cfg.SMSRateBurst,
		BreakerFailures: cfg.BreakerFailures,
		BreakerOpenFor:  cfg.BreakerOpenFor,
	}, logger.Component("sms"))
}

func poolConfig(cfg *config.AppConfig) idb.PoolConfig {
	return idb.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnectAttempts: cfg.DBConnectAttempts,
	}
}
