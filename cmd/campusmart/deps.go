package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mmeshcher/campusmart/internal/blobstore"
	"github.com/mmeshcher/campusmart/internal/broker/kafka"
	"github.com/mmeshcher/campusmart/internal/cache/rediscache"
	"github.com/mmeshcher/campusmart/internal/catalogseed"
	"github.com/mmeshcher/campusmart/internal/config"
	"github.com/mmeshcher/campusmart/internal/payment"
	"github.com/mmeshcher/campusmart/internal/realtime"
	"github.com/mmeshcher/campusmart/internal/service"
	"github.com/mmeshcher/campusmart/internal/sms"
)

type dependencies struct {
	options  service.Options
	redis    *redis.Client
	producer *kafka.Producer
	consumer *kafka.Consumer
}

// buildDependencies подключает необязательные интеграции. Незаданные в конфигурации остаются nil.
func buildDependencies(cfg *config.Config, hub *realtime.Hub, logger *zap.Logger) (*dependencies, error) {
	d := &dependencies{
		options: service.Options{
			DeliveryFee:              cfg.DeliveryFee,
			Currency:                 cfg.Currency,
			StripeWebhookSecret:      cfg.StripeWebhookSecret,
			MobileMoneyWebhookSecret: cfg.MobileMoneyWebhookSecret,
			AdminEmail:               cfg.AdminEmail,
			MobileMoney:              payment.NewMobileMoneySimulator(cfg.MobileMoneyVerifyDelay),
			Events:                   hub,
			Logger:                   logger,
		},
	}

	if cfg.StripeSecretKey != "" {
		d.options.Card = payment.NewStripeProvider(cfg.StripeSecretKey)
	} else {
		logger.Warn("stripe is not configured, card payments disabled")
	}

	if cfg.SMSBaseURL != "" {
		d.options.SMS = sms.NewClient(cfg.SMSBaseURL, cfg.SMSUsername, cfg.SMSAPIKey, cfg.SMSSender)
	}

	if cfg.RedisAddr != "" {
		d.redis = rediscache.NewClient(cfg.RedisAddr)
		if err := rediscache.Ping(context.Background(), d.redis); err != nil {
			_ = d.redis.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		d.options.Limiter = rediscache.NewRateLimiter(d.redis)
		d.options.Locker = rediscache.NewLocker(d.redis)
	}

	if len(cfg.KafkaBrokers) > 0 {
		d.producer = kafka.NewProducer(cfg.KafkaBrokers)
		d.options.Events = kafka.NewChangePublisher(d.producer, cfg.KafkaChangesTopic)
		d.consumer = kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaChangesTopic, cfg.KafkaConsumerGroup)
	}

	if cfg.MediaDir != "" {
		blobs, err := blobstore.NewLocal(cfg.MediaDir, "/media")
		if err != nil {
			d.close(logger)
			return nil, err
		}
		d.options.Blobs = blobs
	}

	return d, nil
}

func (d *dependencies) close(logger *zap.Logger) {
	if d.consumer != nil {
		if err := d.consumer.Close(); err != nil {
			logger.Warn("close kafka consumer", zap.Error(err))
		}
	}
	if d.producer != nil {
		if err := d.producer.Close(); err != nil {
			logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			logger.Warn("close redis", zap.Error(err))
		}
	}
}

// relayChanges читает события изменений из Kafka и публикует их в hub до отмены ctx.
func relayChanges(ctx context.Context, c *kafka.Consumer, hub *realtime.Hub, logger *zap.Logger) error {
	err := c.Consume(ctx, kafka.RelayTo(hub))
	if ctx.Err() != nil {
		return nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("change relay stopped", zap.Error(err))
		return fmt.Errorf("relay changes: %w", err)
	}
	return nil
}

func seedCatalog(ctx context.Context, store catalogseed.Store, path string, logger *zap.Logger) error {
	c, err := catalogseed.Load(path)
	if err != nil {
		return err
	}
	n, err := catalogseed.Apply(ctx, store, c)
	if err != nil {
		return err
	}
	logger.Info("catalog seeded", zap.String("path", path), zap.Int("products", n))
	return nil
}
