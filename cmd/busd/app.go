package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"contextbus/internal/broker"
	"contextbus/internal/config"
	"contextbus/internal/constants"
	"contextbus/internal/dedup"
	"contextbus/internal/dispatch"
	"contextbus/internal/dlq"
	"contextbus/internal/envelope"
	"contextbus/internal/httpapi"
	"contextbus/internal/logger"
	"contextbus/internal/publish"
	"contextbus/internal/ratelimit"
	"contextbus/internal/schema"
	"contextbus/internal/security"
	"contextbus/pkg/bootstrap"
	"contextbus/pkg/health"
	"contextbus/pkg/metrics"
	"contextbus/pkg/migrations"
	"contextbus/pkg/retry"
	"contextbus/pkg/tracing"
)

const serviceName = "busd"

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	redis       *redis.Client
	mongoClient *mongo.Client

	schemas    *schema.Registry
	dedupSvc   *dedup.Service
	limiter    *ratelimit.Limiter
	registry   *dispatch.Registry
	engine     *dispatch.Engine
	dispatcher *dispatch.Dispatcher
	dlqStore   dlq.Store
	dlqSvc     *dlq.Service
	publisher  *publish.Publisher

	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initStores(ctx); err != nil {
		return fmt.Errorf("failed to initialize stores: %w", err)
	}

	if err := a.initPipeline(); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	if a.federationEnabled() {
		if err := a.InitBroker(); err != nil {
			return fmt.Errorf("failed to initialize broker: %w", err)
		}
	}

	if err := a.wireSink(); err != nil {
		return fmt.Errorf("failed to wire dispatch sink: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterBusMetrics()
	if a.federationEnabled() {
		metrics.RegisterBrokerMetrics()
	}
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initHTTPServer()
	return nil
}

func (a *App) federationEnabled() bool {
	return a.Config.Broker.Type != "" && a.Config.Broker.Kafka.EgressTopic != ""
}

func (a *App) initStores(ctx context.Context) error {
	if a.Config.Dedup.Backend == "redis" {
		rdb, err := a.dbConnector.InitRedis(ctx)
		if err != nil {
			return err
		}
		a.redis = rdb
	}

	if a.Config.DLQ.Backend == "mongo" {
		client, err := a.dbConnector.InitMongoDB(ctx)
		if err != nil {
			return err
		}
		if client == nil {
			return fmt.Errorf("dlq backend is mongo but no mongodb uri configured")
		}
		a.mongoClient = client

		db := client.Database(a.Config.Stores.Mongo.Database)
		if err := migrations.EnsureMongoCollections(ctx, db); err != nil {
			return err
		}
	}
	return nil
}

// initPipeline builds the accept and dispatch machinery. The publisher
// and the DLQ service reference each other through the dispatch engine,
// so the dead letter handoff is installed last.
func (a *App) initPipeline() error {
	a.schemas = schema.NewRegistry()

	var dedupStore dedup.Store
	switch a.Config.Dedup.Backend {
	case "redis":
		dedupStore = dedup.NewRedisStore(a.redis)
	default:
		dedupStore = dedup.NewMemoryStore(time.Minute)
	}
	if a.Config.CircuitBreaker.Enabled {
		dedupStore = dedup.NewBreakerStore(dedupStore, a.Config.CircuitBreaker)
		a.Logger.Info("Circuit breaker enabled for dedup store")
	}
	a.dedupSvc = dedup.NewService(dedupStore, a.Config.Dedup, a.Logger)

	limiter, err := ratelimit.NewLimiter(a.Config.RateLimit)
	if err != nil {
		return err
	}
	a.limiter = limiter

	registry, err := dispatch.NewRegistry()
	if err != nil {
		return err
	}
	a.registry = registry

	policy := retry.Policy{
		MaxRetries:      a.Config.Retry.MaxRetries,
		InitialInterval: a.Config.Retry.InitialInterval,
		MaxInterval:     a.Config.Retry.MaxInterval,
		Multiplier:      a.Config.Retry.Multiplier,
		JitterFraction:  a.Config.Retry.JitterFraction,
	}
	a.engine = dispatch.NewEngine(
		dispatch.NewMemoryAttemptStore(),
		a.registry,
		policy,
		a.Config.Retry.PollInterval,
		a.Config.Dispatch.ConsumerTimeout,
		nil,
		a.Logger,
	)
	a.dispatcher = dispatch.NewDispatcher(a.registry, a.engine, a.Config.Dispatch, a.Logger)

	switch a.Config.DLQ.Backend {
	case "mongo":
		a.dlqStore = dlq.NewMongoStore(a.mongoClient.Database(a.Config.Stores.Mongo.Database))
	default:
		a.dlqStore = dlq.NewMemoryStore()
	}

	return nil
}

// wireSink closes the loop: publisher feeds the dispatcher (mirrored to
// peers when federation is on), the DLQ service replays through the
// publisher, and the engine dead-letters into the DLQ service.
func (a *App) wireSink() error {
	var sink publish.Sink = a.dispatcher
	if a.federationEnabled() {
		sink = broker.NewEgressSink(a.dispatcher, a.Producer, a.Config.Broker.Kafka.EgressTopic, a.Logger)
	}

	validator := envelope.NewValidator(a.schemas)
	a.publisher = publish.NewPublisher(validator, a.dedupSvc, a.limiter, sink, a.Logger)

	a.dlqSvc = dlq.NewService(a.dlqStore, a.publisher, a.Config.DLQ.RetentionDays, a.Logger)
	a.engine.SetDeadLetter(a.dlqSvc.DeadLetter)
	return nil
}

// Registry exposes the consumer registry so embedding services can bind
// local consumers before Run.
func (a *App) Registry() *dispatch.Registry {
	return a.registry
}

func (a *App) initHTTPServer() {
	var verifier security.Verifier
	if a.Config.Security.SharedSecret != "" {
		verifier = security.NewHMACVerifier(a.Config.Security.SharedSecret)
	}

	checks := health.NewCheckerRegistry()
	if a.redis != nil {
		checks.Register(health.NewRedisChecker(a.redis))
	}
	if a.mongoClient != nil {
		checks.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	handler := httpapi.NewHandler(a.publisher, a.dlqSvc, a.schemas, verifier, a.Config.Security.RequireSignature, a.Logger)
	router := httpapi.NewRouter(a.Config, handler, checks, a.Logger)
	a.server = httpapi.NewServer(a.Config.Server, router)
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	a.dispatcher.Start(gCtx)

	g.Go(func() error {
		if err := a.engine.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("retry engine error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if a.Consumer != nil && a.Config.Broker.Kafka.IngressTopic != "" {
		handler := broker.IngressHandler(a.publisher, a.Logger)
		g.Go(func() error {
			err := a.Consumer.Consume(gCtx, a.Config.Broker.Kafka.IngressTopic, handler)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("ingress consumer error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.Logger.Errorw("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	err := g.Wait()

	a.dispatcher.Wait()
	a.shutdown(context.Background())
	return err
}

func (a *App) shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
	defer cancel()

	_ = a.Base.Shutdown(shutdownCtx, func(ctx context.Context) []error {
		var errs []error

		a.limiter.Close()
		if err := a.dedupSvc.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := a.dlqStore.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, nil)...)
		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errs
	})
}
