/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	defaultRateLimitPrefix     = "recyclr:rate_limit"
	defaultReconcileBatchSize  = 100
	maxReconcileBatchSize      = 500
	defaultSubmissionRateLimit = 30
)

// Config holds all the configuration variables for the rewards-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                   string `mapstructure:"SERVER_PORT"`
	DatabaseURL                  string `mapstructure:"DATABASE_URL"`
	StoreDriver                  string `mapstructure:"STORE_DRIVER"`
	RunMigrations                bool   `mapstructure:"RUN_MIGRATIONS"`
	BinSeedPath                  string `mapstructure:"BIN_SEED_PATH"`
	RedisURL                     string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix         string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	SubmissionRateLimitPerMinute int    `mapstructure:"SUBMISSION_RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL                  string `mapstructure:"RABBITMQ_URL"`
	EventsExchange               string `mapstructure:"EVENTS_EXCHANGE"`
	SettlementEventQueue         string `mapstructure:"SETTLEMENT_EVENT_QUEUE"`
	SettlementAPIBaseURL         string `mapstructure:"SETTLEMENT_API_BASE_URL"`
	SettlementAPIKey             string `mapstructure:"SETTLEMENT_API_KEY"`
	SettlementNetwork            string `mapstructure:"SETTLEMENT_NETWORK"`
	SettlementContractAddress    string `mapstructure:"SETTLEMENT_CONTRACT_ADDRESS"`
	SettlementTimeoutMinutes     int    `mapstructure:"SETTLEMENT_TIMEOUT_MINUTES"`
	ClawbackOnReject             bool   `mapstructure:"CLAWBACK_ON_REJECT"`
	ClerkJWKSURL                 string `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey               string `mapstructure:"INTERNAL_API_KEY"`
	PricingTablePath             string `mapstructure:"PRICING_TABLE_PATH"`
	ReconcileSchedule            string `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcileBatchSize           int    `mapstructure:"RECONCILE_BATCH_SIZE"`
	ImageBucket                  string `mapstructure:"IMAGE_BUCKET"`
	ImageEndpoint                string `mapstructure:"IMAGE_ENDPOINT"`
	ImageRegion                  string `mapstructure:"IMAGE_REGION"`
	ImageAccessKeyID             string `mapstructure:"IMAGE_ACCESS_KEY_ID"`
	ImageSecretAccessKey         string `mapstructure:"IMAGE_SECRET_ACCESS_KEY"`
	ImagePublicBaseURL           string `mapstructure:"IMAGE_PUBLIC_BASE_URL"`
	AllowedOrigins               string `mapstructure:"ALLOWED_ORIGINS"`
}

// SettlementTimeout is the age after which an unconfirmed submitted transaction is rejected.
// Zero disables the timeout.
func (c Config) SettlementTimeout() time.Duration {
	return time.Duration(c.SettlementTimeoutMinutes) * time.Minute
}

// AllowedOriginList splits ALLOWED_ORIGINS on commas.
func (c Config) AllowedOriginList() []string {
	var origins []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// ImageStoreEnabled reports whether verification images can be uploaded.
func (c Config) ImageStoreEnabled() bool {
	return c.ImageBucket != ""
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("SUBMISSION_RATE_LIMIT_PER_MINUTE", defaultSubmissionRateLimit)
	viper.SetDefault("EVENTS_EXCHANGE", "recycling.events")
	viper.SetDefault("SETTLEMENT_EVENT_QUEUE", "rewards_service.settlement_updates")
	viper.SetDefault("SETTLEMENT_NETWORK", "preprod")
	viper.SetDefault("SETTLEMENT_TIMEOUT_MINUTES", 0)
	viper.SetDefault("CLAWBACK_ON_REJECT", false)
	viper.SetDefault("RECONCILE_SCHEDULE", "@every 1m")
	viper.SetDefault("RECONCILE_BATCH_SIZE", defaultReconcileBatchSize)
	viper.SetDefault("IMAGE_REGION", "auto")
	viper.SetDefault("ALLOWED_ORIGINS", "*")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range []string{
		"SERVER_PORT", "PORT", "DATABASE_URL", "STORE_DRIVER", "RUN_MIGRATIONS", "BIN_SEED_PATH",
		"REDIS_URL", "REDIS_RATE_LIMIT_PREFIX", "SUBMISSION_RATE_LIMIT_PER_MINUTE",
		"RABBITMQ_URL", "EVENTS_EXCHANGE", "SETTLEMENT_EVENT_QUEUE",
		"SETTLEMENT_API_KEY", "SETTLEMENT_NETWORK", "SETTLEMENT_CONTRACT_ADDRESS",
		"SETTLEMENT_TIMEOUT_MINUTES", "CLAWBACK_ON_REJECT",
		"CLERK_JWKS_URL", "INTERNAL_API_KEY", "PRICING_TABLE_PATH",
		"RECONCILE_SCHEDULE", "RECONCILE_BATCH_SIZE",
		"IMAGE_BUCKET", "IMAGE_ENDPOINT", "IMAGE_REGION", "IMAGE_ACCESS_KEY_ID",
		"IMAGE_SECRET_ACCESS_KEY", "IMAGE_PUBLIC_BASE_URL", "ALLOWED_ORIGINS",
	} {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("SETTLEMENT_API_BASE_URL", "SETTLEMENT_API_BASE_URL", "RELAY_API_URL")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	switch config.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		log.Printf("level=warn component=config msg=\"unknown store driver; using postgres\" store_driver=%q", config.StoreDriver)
		config.StoreDriver = StoreDriverPostgres
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.SettlementAPIBaseURL = strings.TrimRight(strings.TrimSpace(config.SettlementAPIBaseURL), "/")
	config.ImageBucket = strings.TrimSpace(config.ImageBucket)

	if config.SubmissionRateLimitPerMinute <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive submission rate limit; using default\" value=%d default=%d", config.SubmissionRateLimitPerMinute, defaultSubmissionRateLimit)
		config.SubmissionRateLimitPerMinute = defaultSubmissionRateLimit
	}
	if config.SettlementTimeoutMinutes < 0 {
		log.Printf("level=warn component=config msg=\"negative settlement timeout configured; disabling timeout\" minutes=%d", config.SettlementTimeoutMinutes)
		config.SettlementTimeoutMinutes = 0
	}
	if config.ReconcileBatchSize <= 0 {
		config.ReconcileBatchSize = defaultReconcileBatchSize
	}
	if config.ReconcileBatchSize > maxReconcileBatchSize {
		log.Printf("level=warn component=config msg=\"reconcile batch size too high; capping\" value=%d max=%d", config.ReconcileBatchSize, maxReconcileBatchSize)
		config.ReconcileBatchSize = maxReconcileBatchSize
	}
	if strings.TrimSpace(config.ReconcileSchedule) == "" {
		config.ReconcileSchedule = "@every 1m"
	}

	return
}
