package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tabledep/internal/codec"
	"tabledep/internal/config"
	"tabledep/internal/engine"
	"tabledep/internal/health"
	"tabledep/internal/logging"
	"tabledep/internal/model"
	"tabledep/internal/postgres"
	"tabledep/internal/publisher"
	"tabledep/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.Debug, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("tabledep stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	trigger, _ := model.ParseTriggerType(cfg.TriggerType)
	textCodec, err := codec.New(cfg.TextEncoding, cfg.Locale)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	health.Start(ctx, cfg.HealthAddr, logger)
	logger.Info("prometheus metrics available", zap.String("endpoint", cfg.HealthAddr+"/metrics"))

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	server, database := postgres.Identity(pool)
	prov := postgres.NewProvisioner(pool, logger)

	store, closeStore := newRegistryStore(cfg, logger)
	defer closeStore()
	reg := registry.NewManager(store, nil, logger)
	if n, err := reg.CleanupOrphans(ctx, prov); err != nil {
		logger.Warn("orphan cleanup incomplete", zap.Error(err))
	} else if n > 0 {
		logger.Info("orphaned objects removed", zap.Int("count", n))
	}

	dep, err := engine.NewDynamic(ctx, engine.Options{
		Schema:           cfg.TableSchema,
		Table:            cfg.TableName,
		TriggerType:      trigger,
		UpdateOf:         cfg.UpdateOf,
		IncludeOldValues: cfg.IncludeOldValues,
		Codec:            textCodec,
		Server:           server,
		Database:         database,
		Validators:       []engine.Validator{postgres.NewPrivilegeValidator(pool)},
		Registry:         reg,
		Logger:           logger,
	}, prov, postgres.NewTransport(pool, logger))
	if err != nil {
		return err
	}
	defer dep.Close()
	health.SetStatusFunc(dep.Status)

	dep.OnChanged(func(evt model.ChangedEvent[model.ColumnValues]) error {
		logger.Debug("row changed",
			zap.String("operation", string(evt.ChangeType)),
			zap.Uint64("seq", evt.Sequence),
			zap.Any("values", evt.Payload.ColumnValues))
		return nil
	})

	pub := buildPublisher(cfg, logger)
	if err := pub.Connect(); err != nil {
		return err
	}
	defer func() { _ = pub.Close() }()
	bridge := publisher.NewBridge(pub, publisher.BridgeOptions{
		Source:     database,
		MaxRetries: cfg.PublishRetries,
	}, logger)
	dep.OnChanged(bridge.Handle)

	failed := make(chan error, 1)
	dep.OnError(func(evt model.ErrorEvent) error {
		if evt.Fatal {
			select {
			case failed <- evt.Err:
			default:
			}
		}
		return nil
	})

	logger.Info("starting tabledep",
		zap.String("table", cfg.TableSchema+"."+cfg.TableName),
		zap.String("trigger", trigger.String()),
		zap.Strings("columns", model.Catalog(dep.InterestedColumns()).Names()),
		zap.Duration("wait_timeout", cfg.WaitTimeout),
		zap.Duration("watchdog_timeout", cfg.WatchdogTimeout))
	if err := dep.Start(ctx, cfg.WaitTimeout, cfg.WatchdogTimeout); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-failed:
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := dep.Stop(stopCtx); err != nil {
		logger.Warn("stop failed", zap.Error(err))
	}
	return runErr
}

func buildPublisher(cfg config.Config, logger *zap.Logger) publisher.Publisher {
	if len(cfg.NATSURLs) == 0 {
		logger.Warn("NATS URLs missing, using noop publisher")
		return publisher.NewNoopPublisher()
	}
	return publisher.NewJetStreamPublisher(publisher.JetStreamOptions{
		URLs:           cfg.NATSURLs,
		Username:       cfg.NATSUsername,
		Password:       cfg.NATSPassword,
		ConnectTimeout: cfg.NATSTimeout,
		PublishTimeout: cfg.NATSTimeout,
		StreamName:     cfg.NATSStream,
	}, logger)
}

// newRegistryStore builds a Redis-backed registry store, falling back to in-memory if unavailable.
func newRegistryStore(cfg config.Config, logger *zap.Logger) (registry.Store, func()) {
	if cfg.RedisURL == "" {
		return registry.NewMemoryStore(), func() {}
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid redis url, using memory store", zap.String("url", cfg.RedisURL), zap.Error(err))
		return registry.NewMemoryStore(), func() {}
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, using memory store", zap.Error(err))
		_ = client.Close()
		return registry.NewMemoryStore(), func() {}
	}
	return registry.NewRedisStore(client, cfg.RegistryKey), func() { _ = client.Close() }
}
