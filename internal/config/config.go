// Package config содержит логику чтения конфигурации сервиса CampusMart.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const defaultRunAddress = "localhost:8080"

// Config содержит параметры конфигурации сервиса CampusMart.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	AuthSecret  string `env:"AUTH_SECRET"`

	// AdminEmail получает роль администратора при регистрации.
	AdminEmail string `env:"BOOTSTRAP_ADMIN_EMAIL"`

	RedisAddr          string   `env:"REDIS_ADDR"`
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaChangesTopic  string   `env:"KAFKA_CHANGES_TOPIC" envDefault:"campusmart.changes"`
	KafkaConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP"`

	StripeSecretKey          string        `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret      string        `env:"STRIPE_WEBHOOK_SECRET"`
	MobileMoneyWebhookSecret string        `env:"MOBILE_MONEY_WEBHOOK_SECRET"`
	MobileMoneyVerifyDelay   time.Duration `env:"MOBILE_MONEY_VERIFY_DELAY" envDefault:"1s"`

	SMSBaseURL  string `env:"SMS_BASE_URL"`
	SMSUsername string `env:"SMS_USERNAME"`
	SMSAPIKey   string `env:"SMS_API_KEY"`
	SMSSender   string `env:"SMS_SENDER"`

	DeliveryFee int64  `env:"DELIVERY_FEE" envDefault:"2000"`
	Currency    string `env:"CURRENCY" envDefault:"ugx"`

	MediaDir        string `env:"MEDIA_DIR" envDefault:"./media"`
	CatalogSeedPath string `env:"CATALOG_SEED_PATH"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Непустое значение переменной окружения имеет приоритет над флагом.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing auth tokens")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	return cfg, nil
}
