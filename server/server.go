package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waiverly/billing-engine/billing"
	"github.com/waiverly/billing-engine/config/database"
	"github.com/waiverly/billing-engine/config/kafka"
	"github.com/waiverly/billing-engine/config/redis"
	"github.com/waiverly/billing-engine/entitlement"
	"github.com/waiverly/billing-engine/models"
	"github.com/waiverly/billing-engine/reconciler"
	"github.com/waiverly/billing-engine/utils"
)

const (
	EnvHTTPAddress      = "WAIVERLY_HTTP_ADDRESS"
	EnvDatabaseURL      = "WAIVERLY_DATABASE_URL"
	EnvDatabaseMaxConns = "WAIVERLY_DATABASE_MAX_CONNS"
	EnvAutoMigrate      = "WAIVERLY_AUTO_MIGRATE"

	EnvRedisAddress     = "WAIVERLY_REDIS_ADDRESS"
	EnvRedisPassword    = "WAIVERLY_REDIS_PASSWORD"
	EnvRedisDB          = "WAIVERLY_REDIS_DB"
	EnvRedisTLS         = "WAIVERLY_REDIS_TLS"
	EnvRedisUseTracer   = "WAIVERLY_REDIS_USE_TRACER"
	EnvDeliveryGuardTTL = "WAIVERLY_DELIVERY_GUARD_TTL"

	EnvKafkaBrokers        = "WAIVERLY_KAFKA_BROKERS"
	EnvKafkaLifecycleTopic = "WAIVERLY_KAFKA_LIFECYCLE_TOPIC"
	EnvKafkaTLS            = "WAIVERLY_KAFKA_TLS"
	EnvKafkaScramAlgorithm = "WAIVERLY_KAFKA_SCRAM_ALGORITHM"
	EnvKafkaUsername       = "WAIVERLY_KAFKA_USERNAME"
	EnvKafkaPassword       = "WAIVERLY_KAFKA_PASSWORD"
	EnvKafkaUseTelemetry   = "WAIVERLY_KAFKA_USE_TELEMETRY"

	EnvBillingAPIURL      = "WAIVERLY_BILLING_API_URL"
	EnvBillingSecretKey   = "WAIVERLY_BILLING_SECRET_KEY"
	EnvBillingTimeout     = "WAIVERLY_BILLING_TIMEOUT"
	EnvBillingEmailDomain = "WAIVERLY_BILLING_EMAIL_DOMAIN"
	EnvBasicPriceRef      = "WAIVERLY_BASIC_PRICE_REF"
	EnvPremiumPriceRef    = "WAIVERLY_PREMIUM_PRICE_REF"
	EnvCheckoutSuccessURL = "WAIVERLY_CHECKOUT_SUCCESS_URL"
	EnvCheckoutCancelURL  = "WAIVERLY_CHECKOUT_CANCEL_URL"
	EnvPortalReturnURL    = "WAIVERLY_PORTAL_RETURN_URL"

	EnvWebhookSecret       = "WAIVERLY_WEBHOOK_SECRET"
	EnvWebhookTolerance    = "WAIVERLY_WEBHOOK_TOLERANCE"
	EnvMaxConcurrentEvents = "WAIVERLY_MAX_CONCURRENT_EVENTS"
)

const (
	defaultHTTPAddress      = ":8080"
	defaultLifecycleTopic   = "billing.subscription_lifecycle"
	defaultDeliveryGuardTTL = 72 * time.Hour
	defaultEmailDomain      = "billing.waiverly.app"
)

type Config struct {
	Logger *slog.Logger
}

// Start wires the engine from the environment and serves HTTP until ctx is
// canceled. It owns the lifecycle of every backend it opens.
func Start(ctx context.Context, cfg *Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	webhookSecret := os.Getenv(EnvWebhookSecret)
	if webhookSecret == "" {
		return fmt.Errorf("%s is not set: webhook signatures would be forgeable", EnvWebhookSecret)
	}

	maxConns, err := utils.GetEnvAsInt(EnvDatabaseMaxConns, 10)
	if err != nil {
		logger.Warn("invalid database max conns, using default", slog.String("error", err.Error()))
	}

	db, err := database.NewConnection(database.DBConfig{
		Url:      os.Getenv(EnvDatabaseURL),
		MaxConns: int32(maxConns),
	})
	if err != nil {
		return err
	}
	defer db.Close()

	store := models.NewStore(db)

	if utils.GetEnvAsBool(EnvAutoMigrate, false) {
		if err := store.Migrate(); err != nil {
			return err
		}
	}

	guard, err := newDeliveryGuard(ctx, logger)
	if err != nil {
		return err
	}
	if guard != nil {
		defer guard.Close()
	}

	notifier, closeNotifier, err := newLifecycleNotifier(logger)
	if err != nil {
		return err
	}
	if closeNotifier != nil {
		defer closeNotifier()
	}

	providerTimeout, err := utils.GetEnvAsDuration(EnvBillingTimeout, 15*time.Second)
	if err != nil {
		logger.Warn("invalid billing timeout, using default", slog.String("error", err.Error()))
	}

	provider := billing.NewHTTPProvider(billing.ProviderConfig{
		BaseURL:   os.Getenv(EnvBillingAPIURL),
		SecretKey: os.Getenv(EnvBillingSecretKey),
		Timeout:   providerTimeout,
	})

	sessions := billing.NewSessionService(store, provider, store, billing.SessionConfig{
		BasicPriceRef:      os.Getenv(EnvBasicPriceRef),
		PremiumPriceRef:    os.Getenv(EnvPremiumPriceRef),
		CheckoutSuccessURL: os.Getenv(EnvCheckoutSuccessURL),
		CheckoutCancelURL:  os.Getenv(EnvCheckoutCancelURL),
		PortalReturnURL:    os.Getenv(EnvPortalReturnURL),
		BillingEmailDomain: utils.GetEnvOrDefault(EnvBillingEmailDomain, defaultEmailDomain),
	})

	evaluator := entitlement.NewEvaluator(store)

	tolerance, err := utils.GetEnvAsDuration(EnvWebhookTolerance, reconciler.DefaultSignatureTolerance)
	if err != nil {
		logger.Warn("invalid webhook tolerance, using default", slog.String("error", err.Error()))
	}
	maxEvents, err := utils.GetEnvAsInt(EnvMaxConcurrentEvents, 0)
	if err != nil {
		logger.Warn("invalid max concurrent events, using default", slog.String("error", err.Error()))
	}

	rec := reconciler.NewReconciler(store, guard, notifier, reconciler.Config{
		WebhookSecret:       webhookSecret,
		SignatureTolerance:  tolerance,
		MaxConcurrentEvents: int64(maxEvents),
	})

	api := &apiHandlers{
		sessions:  sessions,
		evaluator: evaluator,
		logger:    logger,
	}

	router := newRouter(rec, api)

	srv := &http.Server{
		Addr:         utils.GetEnvOrDefault(EnvHTTPAddress, defaultHTTPAddress),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during http shutdown", slog.String("error", err.Error()))
		}
	}()

	logger.Info("listening", slog.String("address", srv.Addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newRouter(rec *reconciler.Reconciler, api *apiHandlers) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/webhooks/billing", rec.WebhookHandler()).Methods(http.MethodPost)
	router.HandleFunc("/healthz", api.health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1/tenants/{tenant_id}/billing").Subrouter()
	v1.HandleFunc("/subscription", api.subscription).Methods(http.MethodGet)
	v1.HandleFunc("/limits", api.limits).Methods(http.MethodGet)
	v1.HandleFunc("/checkout", api.checkout).Methods(http.MethodPost)
	v1.HandleFunc("/portal", api.portal).Methods(http.MethodPost)
	v1.HandleFunc("/features/{feature}", api.featureCheck).Methods(http.MethodGet)

	return router
}

func newDeliveryGuard(ctx context.Context, logger *slog.Logger) (models.DeliveryGuarder, error) {
	address := os.Getenv(EnvRedisAddress)
	if address == "" {
		logger.Warn("no redis address configured, duplicate deliveries rely on the ordering guard only")
		return nil, nil
	}

	redisDB, err := utils.GetEnvAsInt(EnvRedisDB, 0)
	if err != nil {
		logger.Warn("invalid redis db, using default", slog.String("error", err.Error()))
	}

	db, err := redis.NewRedisDB(ctx, redis.RedisConfig{
		Address:   address,
		Password:  os.Getenv(EnvRedisPassword),
		DB:        redisDB,
		UseTracer: utils.GetEnvAsBool(EnvRedisUseTracer, false),
		UseTLS:    utils.GetEnvAsBool(EnvRedisTLS, false),
	})
	if err != nil {
		return nil, err
	}

	ttl, err := utils.GetEnvAsDuration(EnvDeliveryGuardTTL, defaultDeliveryGuardTTL)
	if err != nil {
		logger.Warn("invalid delivery guard ttl, using default", slog.String("error", err.Error()))
	}

	return models.NewDeliveryGuard(db, ttl), nil
}

func newLifecycleNotifier(logger *slog.Logger) (kafka.MessageProducer, func(), error) {
	brokers := utils.ParseBrokersEnv(os.Getenv(EnvKafkaBrokers))
	if len(brokers) == 0 {
		logger.Warn("no kafka brokers configured, lifecycle notifications disabled")
		return nil, nil, nil
	}

	producer, err := kafka.NewProducer(kafka.ServerConfig{
		ScramAlgorithm: os.Getenv(EnvKafkaScramAlgorithm),
		TLS:            utils.GetEnvAsBool(EnvKafkaTLS, false),
		Servers:        brokers,
		UseTelemetry:   utils.GetEnvAsBool(EnvKafkaUseTelemetry, false),
		UserName:       os.Getenv(EnvKafkaUsername),
		Password:       os.Getenv(EnvKafkaPassword),
	}, &kafka.ProducerConfig{
		Topic: utils.GetEnvOrDefault(EnvKafkaLifecycleTopic, defaultLifecycleTopic),
	})
	if err != nil {
		return nil, nil, err
	}

	return producer, producer.Close, nil
}
