package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pharmacy-order-services/internal/config"
	"pharmacy-order-services/internal/currency"
	"pharmacy-order-services/internal/db"
	"pharmacy-order-services/internal/events"
	"pharmacy-order-services/internal/fulfillment"
	httpapi "pharmacy-order-services/internal/http"
	"pharmacy-order-services/internal/http/handlers"
	"pharmacy-order-services/internal/kafka"
	"pharmacy-order-services/internal/logger"
	"pharmacy-order-services/internal/middleware"
	"pharmacy-order-services/internal/queue"
	"pharmacy-order-services/internal/redisx"
	"pharmacy-order-services/internal/storage"
	"pharmacy-order-services/internal/store/memstore"
	"pharmacy-order-services/internal/store/pgstore"
	"pharmacy-order-services/internal/ws"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store fulfillment.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("database connection failed", zap.Error(err))
		}
		defer pool.Close()
		if err := db.EnsureSchema(ctx, pool); err != nil {
			log.Fatal("database schema failed", zap.Error(err))
		}
		store = pgstore.New(pool)
	} else {
		if cfg.Production() {
			log.Fatal("DATABASE_URL is required in production")
		}
		log.Warn("DATABASE_URL is empty; using in-memory store")
		store = memstore.New()
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = redisx.New(ctx, redisx.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: int(cfg.RedisDB)})
		if err != nil {
			if cfg.Production() {
				log.Fatal("redis connection failed", zap.Error(err))
			}
			log.Warn("redis connection failed; continuing without cache", zap.Error(err))
			rdb = nil
		}
		if rdb != nil {
			defer rdb.Close()
		}
	}

	rates, err := currency.ParseRates(cfg.CurrencyRates)
	if err != nil {
		log.Fatal("invalid CURRENCY_RATES", zap.Error(err))
	}
	var rateSource currency.RateSource = rates
	if rdb != nil {
		rateSource = currency.NewCachedRates(rates, rdb, cfg.CurrencyCacheTTL, log)
	}
	converter := currency.NewConverter(rateSource, cfg.CurrencyTimeout, log)

	fees := fulfillment.DefaultFeeSchedule()
	fees.Currency = cfg.DeliveryFeeCurrency
	fees.Default = cfg.DeliveryDefaultFee
	if tiers, err := fulfillment.ParseFeeTiers(cfg.DeliveryFeeTiers); err != nil {
		log.Fatal("invalid DELIVERY_FEE_TIERS", zap.Error(err))
	} else if len(tiers) > 0 {
		fees.Tiers = tiers
	}

	notifiers := events.Fanout{events.LogNotifier{Logger: log}}

	var queueClient *queue.Client
	if cfg.RabbitMQURL != "" {
		log.Info("rabbitmq enabled", zap.String("eventsExchange", queue.EventsExchange))
		qc, err := queue.New(cfg.RabbitMQURL)
		if err != nil {
			if cfg.Production() {
				log.Fatal("rabbitmq connection failed", zap.Error(err))
			}
			log.Warn("rabbitmq connection failed; continuing without worker", zap.Error(err))
			qc = nil
		}
		if qc != nil {
			for name, ensure := range map[string]func(context.Context, *queue.Client) error{
				"events":            queue.EnsureEventsTopology,
				"notification_jobs": queue.EnsureNotificationJobsTopology,
				"receipt_email":     queue.EnsureReceiptEmailTopology,
			} {
				if err := ensure(ctx, qc); err != nil {
					if cfg.Production() {
						log.Fatal("rabbitmq topology failed", zap.String("topology", name), zap.Error(err))
					}
					log.Warn("rabbitmq topology failed; continuing without worker", zap.String("topology", name), zap.Error(err))
					_ = qc.Close()
					qc = nil
					break
				}
			}
		}

		queueClient = qc
		if queueClient != nil {
			defer queueClient.Close()
			notifiers = append(notifiers, queue.NewPublisher(queueClient))

			if cfg.RabbitMQWorkerMode == "daemon" {
				log.Info("event translator enabled", zap.String("mode", "daemon"))
				var dedup queue.Deduper
				if rdb != nil {
					dedup = redisx.NewDeduper(rdb, "notification-translator")
				}
				translator := queue.NewTranslator(queueClient, dedup, log)
				go func() {
					err := queueClient.ConsumeWithRetry(ctx, queue.EventsQueue, translator.Process, 5, 5*time.Second)
					if err != nil {
						log.Error("consumer stopped", zap.Error(err))
					}
				}()
			} else {
				log.Info("event translator disabled", zap.String("mode", cfg.RabbitMQWorkerMode))
			}
		}
	} else {
		log.Info("notification worker disabled (RABBITMQ_URL is empty)")
	}

	// The producer outlives ctx so events drained from the outbox at shutdown
	// still reach the topic.
	producerCtx, stopProducer := context.WithCancel(context.Background())
	defer stopProducer()
	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, int(cfg.EventBuffer), log)
		producer.Start(producerCtx)
		notifiers = append(notifiers, producer)
		log.Info("kafka event stream enabled", zap.String("topic", cfg.KafkaTopic))
	}

	var objects handlers.ObjectStore
	if cfg.ObjectStoreEndpoint != "" && cfg.ObjectStoreBucket != "" {
		objectStore, err := storage.NewObjectStore(ctx, storage.Config{
			Endpoint:        cfg.ObjectStoreEndpoint,
			Region:          cfg.ObjectStoreRegion,
			AccessKeyID:     cfg.ObjectStoreAccessKeyID,
			SecretAccessKey: cfg.ObjectStoreSecretAccessKey,
			Bucket:          cfg.ObjectStoreBucket,
			PublicBaseURL:   cfg.ObjectStorePublicBaseURL,
			StorageClass:    cfg.ObjectStoreStorageClass,
		})
		if err != nil {
			log.Warn("object store unavailable; proof photos disabled", zap.Error(err))
		} else {
			objects = objectStore
		}
	}

	// The websocket server reads from the services it is notified by, so it
	// joins the fan-out after construction and before the outbox starts.
	outbox := events.NewOutbox(int(cfg.EventBuffer), &notifiers, log)
	services := fulfillment.New(fulfillment.Deps{
		Store:     store,
		Events:    outbox,
		Logger:    log,
		Codes:     fulfillment.NewCodeGenerator(0, 0),
		Hasher:    fulfillment.BcryptHasher{Cost: int(cfg.ConfirmationCodeCost)},
		Converter: converter,
	}, fulfillment.Options{
		CartHoldTTL: cfg.CartHoldTTL,
		Fees:        fees,
	})

	authorizer := middleware.JWTAuthorizer{Secret: cfg.JWTSecret}
	wsServer := ws.New(log, cfg, authorizer, services.Dispatcher, services.Deliveries)
	notifiers = append(notifiers, wsServer)
	outboxDone := make(chan struct{})
	go func() {
		defer close(outboxDone)
		outbox.Run(ctx)
	}()

	sweeper := fulfillment.NewLeaseSweeper(services.Dispatcher, cfg.ClaimLease, cfg.LeaseSweepInterval, log)
	go sweeper.Run(ctx)

	h := &handlers.Handler{
		Services:  services,
		Logger:    log,
		Config:    cfg,
		Converter: converter,
		Objects:   objects,
	}
	apiServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(log, cfg, httpapi.Deps{
			Handler:    h,
			Authorizer: authorizer,
			WS:         wsServer,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("fulfillment api ready", zap.String("base", "/api"))
		log.Info("fulfillment ws ready", zap.String("base", "/ws"))
		log.Info("fulfillment service listening", zap.String("addr", cfg.HTTPAddr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := apiServer.Shutdown(ctxShutdown); err != nil {
		log.Error("http server shutdown failed", zap.Error(err))
	}
	cancel()
	<-outboxDone
	stopProducer()
	if producer != nil {
		producer.WaitClosed()
	}
	if dropped := outbox.Dropped(); dropped > 0 {
		log.Warn("events dropped during run", zap.Int64("dropped", dropped))
	}
}
