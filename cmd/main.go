/**
 * @description
 * This is the main entry point for the rewards-service. It is responsible for
 * initializing all components of the service, including configuration, the
 * submission store, the settlement client, message brokers, the reconciliation
 * scheduler, and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Submission rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/settlementclient: Client for the settlement relay.
 * - pkg/rabbitmq: Client for RabbitMQ.
 * - pkg/imagestore: S3-compatible storage for verification images.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/recyclr/rewards-service/internal/api"
	"github.com/recyclr/rewards-service/internal/app"
	"github.com/recyclr/rewards-service/internal/config"
	"github.com/recyclr/rewards-service/internal/domain"
	"github.com/recyclr/rewards-service/internal/pricing"
	"github.com/recyclr/rewards-service/internal/store"
	"github.com/recyclr/rewards-service/internal/store/migrations"
	"github.com/recyclr/rewards-service/pkg/imagestore"
	rmrabbit "github.com/recyclr/rewards-service/pkg/rabbitmq"
	"github.com/recyclr/rewards-service/pkg/settlementclient"
	"github.com/redis/go-redis/v9"
)

const settlementConsumerPrefetch = 20

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found, using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	log.Printf("level=info component=bootstrap msg=\"starting rewards-service\" port=%s store=%s", cfg.ServerPort, cfg.StoreDriver)

	var seedBins []domain.Bin
	if strings.TrimSpace(cfg.BinSeedPath) != "" {
		seedBins, err = store.LoadBins(cfg.BinSeedPath)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"bin seed load failed\" path=%s err=%v", cfg.BinSeedPath, err)
		}
	}

	var repository store.Repository
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		memoryRepository := store.NewMemoryRepository()
		for _, bin := range seedBins {
			memoryRepository.PutBin(bin)
		}
		repository = memoryRepository
		log.Printf("level=warn component=bootstrap msg=\"using in-memory store; data is lost on restart\" bins=%d", len(seedBins))
	default:
		dbpool := openDatabase(cfg)
		defer dbpool.Close()

		postgresRepository := store.NewPostgresRepository(dbpool)
		for _, bin := range seedBins {
			if err := postgresRepository.UpsertBin(context.Background(), bin); err != nil {
				log.Fatalf("level=fatal component=bootstrap msg=\"bin seed failed\" bin=%s err=%v", bin.Code, err)
			}
		}
		repository = postgresRepository
	}

	pricingTable := pricing.DefaultTable()
	if strings.TrimSpace(cfg.PricingTablePath) != "" {
		pricingTable, err = pricing.LoadTable(cfg.PricingTablePath)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"pricing table load failed\" path=%s err=%v", cfg.PricingTablePath, err)
		}
	}
	log.Printf("level=info component=bootstrap msg=\"pricing table loaded\" version=%s item_types=%d", pricingTable.Version, len(pricingTable.SupportedItemTypes()))

	settlementClient := settlementclient.NewClient(
		cfg.SettlementAPIBaseURL,
		cfg.SettlementAPIKey,
		cfg.SettlementNetwork,
		cfg.SettlementContractAddress,
	).WithSupportedItemTypes(pricingTable.SupportedItemTypes())

	// Events are best effort; a broker outage at boot should not stop submissions.
	var publisher rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	rewardsService := app.NewService(repository, pricingTable, settlementClient, publisher, cfg.EventsExchange)
	rewardsService.ConfigureSettlementPolicy(cfg.SettlementTimeout(), cfg.ClawbackOnReject)

	if redisClient := connectRedis(cfg.RedisURL); redisClient != nil {
		defer redisClient.Close()
		rewardsService.SetSubmissionRateLimiter(
			app.NewRedisSubmissionRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.SubmissionRateLimitPerMinute,
		)
	}

	var images api.ImageUploader
	if cfg.ImageStoreEnabled() {
		imageStore, err := imagestore.New(context.Background(), imagestore.Options{
			Bucket:          cfg.ImageBucket,
			Endpoint:        cfg.ImageEndpoint,
			Region:          cfg.ImageRegion,
			AccessKeyID:     cfg.ImageAccessKeyID,
			SecretAccessKey: cfg.ImageSecretAccessKey,
			PublicBaseURL:   cfg.ImagePublicBaseURL,
		})
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"image store unavailable; uploads disabled\" err=%v", err)
		} else {
			images = imageStore
			log.Printf("level=info component=bootstrap msg=\"image store configured\" bucket=%s", cfg.ImageBucket)
		}
	} else {
		log.Println("level=info component=bootstrap msg=\"image store not configured; uploads disabled\"")
	}

	// Settlement status updates are an accelerator; the reconciler covers a missing consumer.
	statusConsumer := app.NewSettlementStatusConsumer(rewardsService)
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; relying on reconciliation\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()

		bindings := make(map[string]func([]byte) bool, len(app.SettlementStatusBindings))
		for _, key := range app.SettlementStatusBindings {
			bindings[key] = statusConsumer.HandleMessage
		}
		if err := rabbitConsumer.ConsumeWithBindings(app.SettlementEventsExchange, cfg.SettlementEventQueue, settlementConsumerPrefetch, bindings); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"settlement consumer start failed; relying on reconciliation\" err=%v", err)
		}
	}

	scheduler := app.NewScheduler(rewardsService, cfg.ReconcileSchedule, cfg.ReconcileBatchSize)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"reconcile scheduler start failed\" schedule=%q err=%v", cfg.ReconcileSchedule, err)
	}

	handlers := api.NewRewardsHandlers(rewardsService, images)
	router := api.RewardsRoutes(handlers, cfg.ClerkJWKSURL, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOriginList(),
		InternalAPIKey: cfg.InternalAPIKey,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		log.Println("level=warn component=scheduler msg=\"reconcile run still in progress at shutdown\"")
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// openDatabase runs migrations and opens the connection pool.
func openDatabase(cfg config.Config) *pgxpool.Pool {
	if cfg.RunMigrations {
		if err := migrations.Up(cfg.DatabaseURL); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database migration failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"database migrations applied\"")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")
	return dbpool
}

// connectRedis returns nil when Redis is not configured or unreachable; submissions
// are then not rate limited.
func connectRedis(redisURL string) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; submission rate limiting disabled\" env=REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; submission rate limiting disabled\" err=%v", err)
		return nil
	}

	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; submission rate limiting disabled\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}
